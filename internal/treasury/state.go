package treasury

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// TreasuryAccountSize is the encoded record size: discriminator, four keys
// and three bump bytes.
const TreasuryAccountSize = 8 + 4*32 + 3

var treasuryDiscriminator = discriminator("account:Treasury")

func discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte(name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// Treasury is the record stored at the treasury address. Address is not
// part of the encoding.
type Treasury struct {
	Address       solana.PublicKey `json:"address"`
	Authority     solana.PublicKey `json:"authority"`
	TreasuryMint  solana.PublicKey `json:"treasury_mint"`
	PosMint       solana.PublicKey `json:"pos_mint"`
	TreasuryVault solana.PublicKey `json:"treasury_vault"`
	Bump          uint8            `json:"bump"`
	VaultBump     uint8            `json:"vault_bump"`
	PosMintBump   uint8            `json:"pos_mint_bump"`
}

func (t *Treasury) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, TreasuryAccountSize)
	buf = append(buf, treasuryDiscriminator[:]...)
	buf = append(buf, t.Authority[:]...)
	buf = append(buf, t.TreasuryMint[:]...)
	buf = append(buf, t.PosMint[:]...)
	buf = append(buf, t.TreasuryVault[:]...)
	buf = append(buf, t.Bump, t.VaultBump, t.PosMintBump)
	return buf, nil
}

func (t *Treasury) UnmarshalBinary(b []byte) error {
	if len(b) != TreasuryAccountSize {
		return fmt.Errorf("treasury record is %d bytes, want %d", len(b), TreasuryAccountSize)
	}
	if !bytes.Equal(b[:8], treasuryDiscriminator[:]) {
		return fmt.Errorf("treasury record has discriminator %x", b[:8])
	}
	r := b[8:]
	r = r[copy(t.Authority[:], r):]
	r = r[copy(t.TreasuryMint[:], r):]
	r = r[copy(t.PosMint[:], r):]
	r = r[copy(t.TreasuryVault[:], r):]
	t.Bump, t.VaultBump, t.PosMintBump = r[0], r[1], r[2]
	return nil
}
