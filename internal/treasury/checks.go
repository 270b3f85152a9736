package treasury

import (
	"TreasuryLedger/internal/address"
	"TreasuryLedger/internal/event"
	"TreasuryLedger/internal/ledger"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// checker runs the entry checks shared by every state-changing operation.
type checker struct {
	deriver *address.Deriver
}

// authorize requires the instruction to be signed by want.
func (c *checker) authorize(instr event.Instruction, want solana.PublicKey, role string) error {
	auth := instr.Authorization()
	if !auth.Signer.Equals(want) {
		return errorf(CodeUnauthorized, "signer %s is not the %s %s", auth.Signer, role, want)
	}
	if !event.VerifySignature(instr) {
		return errorf(CodeUnauthorized, "invalid signature from %s", auth.Signer)
	}
	return nil
}

// attest binds the signer's nonce and the instruction id to the batch.
func attest(tx *ledger.Tx, instr event.Instruction) {
	auth := instr.Authorization()
	tx.Attest(instr.InstructionType().String(), auth.Signer, auth.Nonce)
}

// positionAccounts are the re-derived accounts a stake or redeem touches.
type positionAccounts struct {
	vault        solana.PublicKey
	posMint      solana.PublicKey
	userPosVault solana.PublicKey
}

// resolvePosition re-derives vault, receipt mint and the user's receipt
// vault, and compares them with both the stored record and whatever the
// caller supplied.
func (c *checker) resolvePosition(t *Treasury, pos *event.Position) (positionAccounts, error) {
	vault, err := verify(c.deriver, t.TreasuryVault, "stored treasury vault", address.TagTreasuryVault, t.Address)
	if err != nil {
		return positionAccounts{}, err
	}
	if err := matchSupplied(pos.TreasuryVault, vault, "treasury vault"); err != nil {
		return positionAccounts{}, err
	}

	posMint, err := verify(c.deriver, t.PosMint, "stored receipt mint", address.TagPosMint, t.Address)
	if err != nil {
		return positionAccounts{}, err
	}
	if err := matchSupplied(pos.PosMint, posMint, "receipt mint"); err != nil {
		return positionAccounts{}, err
	}

	userPos, err := c.deriver.UserPosVault(posMint.Address, pos.User)
	if err != nil {
		return positionAccounts{}, fromLedger(err)
	}
	if err := matchSupplied(pos.UserPosVault, userPos, "user receipt vault"); err != nil {
		return positionAccounts{}, err
	}

	return positionAccounts{
		vault:        vault.Address,
		posMint:      posMint.Address,
		userPosVault: userPos.Address,
	}, nil
}

// verify re-derives tag over keys and requires got to be that address.
func verify(d *address.Deriver, got solana.PublicKey, what, tag string, keys ...solana.PublicKey) (address.Derived, error) {
	derived, err := d.Verify(got, tag, keys...)
	if errors.Is(err, address.ErrAddressMismatch) {
		return address.Derived{}, &Error{Code: CodeAccountMismatch, Msg: what, Err: err}
	}
	if err != nil {
		return address.Derived{}, fromLedger(err)
	}
	return derived, nil
}

// matchSupplied accepts an unset address; a set one must equal the derivation.
func matchSupplied(supplied solana.PublicKey, derived address.Derived, what string) error {
	if supplied.IsZero() || supplied.Equals(derived.Address) {
		return nil
	}
	return &Error{
		Code: CodeAccountMismatch,
		Msg:  what,
		Err:  fmt.Errorf("%w: got %s, want %s", address.ErrAddressMismatch, supplied, derived.Address),
	}
}

func requirePositive(amount uint64) error {
	if amount == 0 {
		return errorf(CodeInvalidArgument, "amount must be greater than zero")
	}
	return nil
}

// assertBacking evaluates vault balance == receipt supply on the staged
// state. A violation aborts the enclosing transaction.
func assertBacking(tx *ledger.Tx, vault, posMint solana.PublicKey) (uint64, uint64, error) {
	v, ok, err := tx.Account(vault)
	if err != nil || !ok {
		return 0, 0, &Error{Code: CodeInvariantViolation, Msg: "treasury vault unreadable", Err: err}
	}
	m, ok, err := tx.Account(posMint)
	if err != nil || !ok {
		return 0, 0, &Error{Code: CodeInvariantViolation, Msg: "receipt mint unreadable", Err: err}
	}
	if err := ledger.CheckBacking(v, m); err != nil {
		return 0, 0, &Error{Code: CodeInvariantViolation, Msg: "conservation", Err: err}
	}
	return v.Amount, m.Supply, nil
}
