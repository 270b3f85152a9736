package ledger

import "errors"

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountExists        = errors.New("account already in use")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientLamports = errors.New("insufficient lamports for rent")
	ErrOverflow             = errors.New("arithmetic overflow")
	ErrOwnerMismatch        = errors.New("owner does not match")
	ErrMintMismatch         = errors.New("account mint mismatch")
	ErrNotMint              = errors.New("account is not a mint")
	ErrNotTokenAccount      = errors.New("account is not a token account")
	ErrMissingSignature     = errors.New("missing required signature")
	ErrProgramAuthority     = errors.New("program-derived authority cannot sign outside its program")
	ErrUndeclaredAccount    = errors.New("account not declared by transaction")
	ErrReadonlyAccount      = errors.New("account declared read-only")
	ErrAccountInUse         = errors.New("account in use")
	ErrEmptyTransaction     = errors.New("transaction made no changes")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrCommitFailed         = errors.New("commit failed")
)
