package address

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Seed tags of every program-derived account the treasury program owns.
const (
	TagTreasury      = "treasury"
	TagTreasuryVault = "treasury-vault"
	TagPosMint       = "pos-mint"
	TagUserPosVault  = "user-pos-vault"
)

const (
	// MaxSeeds counts the tag, the binding keys and the bump byte.
	MaxSeeds      = solana.MaxSeeds
	MaxSeedLength = solana.MaxSeedLength
)

var (
	ErrNoViableBump    = errors.New("no viable bump seed")
	ErrTooManySeeds    = errors.New("too many seeds")
	ErrSeedTooLong     = errors.New("seed exceeds maximum length")
	ErrAddressMismatch = errors.New("supplied address does not match derivation")
)

// Derived is a program address plus the bump byte that pushed it off the curve.
type Derived struct {
	Address solana.PublicKey
	Bump    uint8
}

// Deriver computes program-derived addresses for one program identity.
// It holds no mutable state and is safe for concurrent use.
type Deriver struct {
	programID solana.PublicKey
}

func NewDeriver(programID solana.PublicKey) *Deriver {
	return &Deriver{programID: programID}
}

func (d *Deriver) ProgramID() solana.PublicKey {
	return d.programID
}

// Derive searches bumps from 255 downwards and returns the first candidate
// that is not a valid ed25519 point.
func (d *Deriver) Derive(tag string, keys ...solana.PublicKey) (Derived, error) {
	seeds := make([][]byte, 0, len(keys)+2)
	seeds = append(seeds, []byte(tag))
	for i := range keys {
		seeds = append(seeds, keys[i][:])
	}
	return FindProgramAddress(seeds, d.programID)
}

// FindProgramAddress runs the bump search over raw seeds. The seed limits
// are checked here so callers get a typed error instead of a failed search.
func FindProgramAddress(seeds [][]byte, programID solana.PublicKey) (Derived, error) {
	if len(seeds)+1 > MaxSeeds {
		return Derived{}, fmt.Errorf("%w: %d seeds plus bump exceeds %d", ErrTooManySeeds, len(seeds), MaxSeeds)
	}
	for i, s := range seeds {
		if len(s) > MaxSeedLength {
			return Derived{}, fmt.Errorf("%w: seed %d is %d bytes", ErrSeedTooLong, i, len(s))
		}
	}

	addr, bump, err := solana.FindProgramAddress(seeds, programID)
	if err != nil {
		return Derived{}, fmt.Errorf("%w: %v", ErrNoViableBump, err)
	}
	return Derived{Address: addr, Bump: bump}, nil
}

func (d *Deriver) Treasury(treasuryMint, authority solana.PublicKey) (Derived, error) {
	return d.Derive(TagTreasury, treasuryMint, authority)
}

func (d *Deriver) TreasuryVault(treasury solana.PublicKey) (Derived, error) {
	return d.Derive(TagTreasuryVault, treasury)
}

func (d *Deriver) PosMint(treasury solana.PublicKey) (Derived, error) {
	return d.Derive(TagPosMint, treasury)
}

func (d *Deriver) UserPosVault(posMint, user solana.PublicKey) (Derived, error) {
	return d.Derive(TagUserPosVault, posMint, user)
}

// Verify recomputes the derivation and compares it with a caller-supplied
// address. A mismatch is always ErrAddressMismatch.
func (d *Deriver) Verify(supplied solana.PublicKey, tag string, keys ...solana.PublicKey) (Derived, error) {
	want, err := d.Derive(tag, keys...)
	if err != nil {
		return Derived{}, err
	}
	if !supplied.Equals(want.Address) {
		return Derived{}, fmt.Errorf("%w: %s: got %s, want %s", ErrAddressMismatch, tag, supplied, want.Address)
	}
	return want, nil
}
