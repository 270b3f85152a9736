package store

import (
	"TreasuryLedger/internal/ledger"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

const (
	recordVersion = 1
	checksumSize  = 4
	// version | kind | address | owner | lamports | mint | amount | decimals |
	// supply | mint authority | data length
	fixedRecordSize = 1 + 1 + 32 + 32 + 8 + 32 + 8 + 1 + 8 + 32 + 4
)

var ErrCorruptRecord = errors.New("corrupt account record")

func encodeAccount(a *ledger.Account) []byte {
	buf := make([]byte, 0, fixedRecordSize+len(a.Data)+checksumSize)
	buf = append(buf, recordVersion, byte(a.Kind))
	buf = append(buf, a.Address[:]...)
	buf = append(buf, a.Owner[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, a.Lamports)
	buf = append(buf, a.Mint[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, a.Amount)
	buf = append(buf, a.Decimals)
	buf = binary.LittleEndian.AppendUint64(buf, a.Supply)
	buf = append(buf, a.MintAuthority[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(a.Data)))
	buf = append(buf, a.Data...)
	return append(buf, checksum(buf)...)
}

func decodeAccount(b []byte) (ledger.Account, error) {
	if len(b) < fixedRecordSize+checksumSize {
		return ledger.Account{}, fmt.Errorf("%w: %d bytes", ErrCorruptRecord, len(b))
	}
	body, sum := b[:len(b)-checksumSize], b[len(b)-checksumSize:]
	if !bytes.Equal(checksum(body), sum) {
		return ledger.Account{}, fmt.Errorf("%w: checksum mismatch", ErrCorruptRecord)
	}
	if body[0] != recordVersion {
		return ledger.Account{}, fmt.Errorf("%w: version %d", ErrCorruptRecord, body[0])
	}

	var a ledger.Account
	r := body[1:]
	a.Kind = ledger.AccountKind(r[0])
	r = r[1:]
	r = r[copy(a.Address[:], r):]
	r = r[copy(a.Owner[:], r):]
	a.Lamports, r = binary.LittleEndian.Uint64(r), r[8:]
	r = r[copy(a.Mint[:], r):]
	a.Amount, r = binary.LittleEndian.Uint64(r), r[8:]
	a.Decimals, r = r[0], r[1:]
	a.Supply, r = binary.LittleEndian.Uint64(r), r[8:]
	r = r[copy(a.MintAuthority[:], r):]
	n := binary.LittleEndian.Uint32(r)
	r = r[4:]
	if uint32(len(r)) != n {
		return ledger.Account{}, fmt.Errorf("%w: data length %d, have %d", ErrCorruptRecord, n, len(r))
	}
	if n > 0 {
		a.Data = append([]byte(nil), r...)
	}
	return a, nil
}

func checksum(b []byte) []byte {
	sum := sha3.Sum256(b)
	return sum[:checksumSize]
}
