package ledger

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var ErrSupplyMismatch = errors.New("supply does not match balances")

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateMintSupply verifies every mint's supply equals the sum of the
// token accounts holding it.
func (v *InvariantValidator) ValidateMintSupply() error {
	totals, err := v.tracker.ComputeMintTotals()
	if err != nil {
		return err
	}
	for _, m := range v.tracker.Mints() {
		if totals[m.Address] != m.Supply {
			return fmt.Errorf("%w: mint %s supply %d, held %d", ErrSupplyMismatch, m.Address, m.Supply, totals[m.Address])
		}
	}
	return nil
}

// ValidateBacking verifies a vault holds exactly the supply of a receipt mint.
func (v *InvariantValidator) ValidateBacking(vault, receiptMint solana.PublicKey) error {
	va, ok := v.tracker.Get(vault)
	if !ok {
		return fmt.Errorf("%w: vault %s", ErrAccountNotFound, vault)
	}
	ma, ok := v.tracker.Get(receiptMint)
	if !ok {
		return fmt.Errorf("%w: mint %s", ErrAccountNotFound, receiptMint)
	}
	return CheckBacking(va, ma)
}

// CheckBacking compares a vault account against a receipt mint account.
// It works on committed or staged copies alike.
func CheckBacking(vault, receiptMint Account) error {
	if vault.Kind != KindToken {
		return fmt.Errorf("%w: %s", ErrNotTokenAccount, vault.Address)
	}
	if receiptMint.Kind != KindMint {
		return fmt.Errorf("%w: %s", ErrNotMint, receiptMint.Address)
	}
	if vault.Amount != receiptMint.Supply {
		return fmt.Errorf("%w: vault %s holds %d, receipt supply %d",
			ErrSupplyMismatch, vault.Address, vault.Amount, receiptMint.Supply)
	}
	return nil
}
