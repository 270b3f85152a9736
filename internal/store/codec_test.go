package store

import (
	"TreasuryLedger/internal/ledger"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func TestDecodeAccount_DetectsCorruption(t *testing.T) {
	a := ledger.Account{
		Address:  solana.NewWallet().PublicKey(),
		Kind:     ledger.KindData,
		Owner:    solana.NewWallet().PublicKey(),
		Lamports: 1_858_320,
		Data:     []byte{1, 2, 3, 4},
	}
	rec := encodeAccount(&a)

	got, err := decodeAccount(rec)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Address != a.Address || got.Lamports != a.Lamports || string(got.Data) != string(a.Data) {
		t.Errorf("decoded %+v, want %+v", got, a)
	}

	rec[40] ^= 0xff
	if _, err := decodeAccount(rec); !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("expected ErrCorruptRecord, got %v", err)
	}
	if _, err := decodeAccount(rec[:10]); !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("expected ErrCorruptRecord for short record, got %v", err)
	}
}
