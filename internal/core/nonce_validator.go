package core

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var ErrStaleNonce = errors.New("stale signer nonce")

// NonceValidator enforces strictly increasing nonces per signer, so a
// signed instruction cannot be replayed under a new idempotency key.
// Not thread-safe; only the processor loop touches it.
type NonceValidator struct {
	last map[solana.PublicKey]uint64
}

func NewNonceValidator() *NonceValidator {
	return &NonceValidator{
		last: make(map[solana.PublicKey]uint64),
	}
}

// Validate checks nonce without advancing it.
func (v *NonceValidator) Validate(signer solana.PublicKey, nonce uint64) error {
	if last, ok := v.last[signer]; ok && nonce <= last {
		return fmt.Errorf("%w: signer %s used %d, got %d", ErrStaleNonce, signer, last, nonce)
	}
	return nil
}

// Advance records nonce as used once its instruction committed.
func (v *NonceValidator) Advance(signer solana.PublicKey, nonce uint64) {
	if nonce > v.last[signer] {
		v.last[signer] = nonce
	}
}

// Restore seeds last-used nonces, e.g. from the instruction log.
func (v *NonceValidator) Restore(nonces map[solana.PublicKey]uint64) {
	for signer, nonce := range nonces {
		v.Advance(signer, nonce)
	}
}

func (v *NonceValidator) Last(signer solana.PublicKey) (uint64, bool) {
	n, ok := v.last[signer]
	return n, ok
}
