package treasury

import (
	"TreasuryLedger/internal/address"
	"TreasuryLedger/internal/ledger"
	"errors"
	"fmt"
)

// Code classifies a program failure. Every code is terminal: the
// instruction committed nothing.
type Code string

const (
	CodeUnauthorized       Code = "Unauthorized"
	CodeAlreadyExists      Code = "AlreadyExists"
	CodeAccountMismatch    Code = "AccountMismatch"
	CodeInvalidAsset       Code = "InvalidAsset"
	CodeInsufficientFunds  Code = "InsufficientFunds"
	CodeArithmeticOverflow Code = "ArithmeticOverflow"
	CodeAllocationFailed   Code = "AllocationFailed"
	CodeInvalidArgument    Code = "InvalidArgument"
	CodeInvariantViolation Code = "InvariantViolation"
	CodeAccountInUse       Code = "AccountInUse"
	CodeNotFound           Code = "NotFound"
)

// Error is a coded program failure.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so errors.Is(err, ErrUnauthorized)
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrUnauthorized       = &Error{Code: CodeUnauthorized}
	ErrAlreadyExists      = &Error{Code: CodeAlreadyExists}
	ErrAccountMismatch    = &Error{Code: CodeAccountMismatch}
	ErrInvalidAsset       = &Error{Code: CodeInvalidAsset}
	ErrInsufficientFunds  = &Error{Code: CodeInsufficientFunds}
	ErrArithmeticOverflow = &Error{Code: CodeArithmeticOverflow}
	ErrAllocationFailed   = &Error{Code: CodeAllocationFailed}
	ErrInvalidArgument    = &Error{Code: CodeInvalidArgument}
	ErrInvariantViolation = &Error{Code: CodeInvariantViolation}
	ErrAccountInUse       = &Error{Code: CodeAccountInUse}
	ErrNotFound           = &Error{Code: CodeNotFound}
)

func errorf(code Code, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the program code from err.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// fromLedger maps ledger and derivation failures onto program codes.
// Errors that already carry a code pass through unchanged; anything
// unrecognised (e.g. a store failure) is returned as is.
func fromLedger(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := CodeOf(err); ok {
		return err
	}

	var code Code
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		code = CodeInsufficientFunds
	case errors.Is(err, ledger.ErrOverflow):
		code = CodeArithmeticOverflow
	case errors.Is(err, ledger.ErrInsufficientLamports):
		code = CodeAllocationFailed
	case errors.Is(err, ledger.ErrAccountExists):
		code = CodeAlreadyExists
	case errors.Is(err, ledger.ErrOwnerMismatch),
		errors.Is(err, ledger.ErrMissingSignature),
		errors.Is(err, ledger.ErrProgramAuthority):
		code = CodeUnauthorized
	case errors.Is(err, ledger.ErrMintMismatch),
		errors.Is(err, ledger.ErrNotMint),
		errors.Is(err, ledger.ErrNotTokenAccount):
		code = CodeInvalidAsset
	case errors.Is(err, ledger.ErrAccountInUse):
		code = CodeAccountInUse
	case errors.Is(err, ledger.ErrAccountNotFound):
		code = CodeNotFound
	case errors.Is(err, ledger.ErrInvalidAmount):
		code = CodeInvalidArgument
	case errors.Is(err, address.ErrAddressMismatch):
		code = CodeAccountMismatch
	case errors.Is(err, ledger.ErrSupplyMismatch),
		errors.Is(err, ledger.ErrUndeclaredAccount),
		errors.Is(err, ledger.ErrReadonlyAccount),
		errors.Is(err, address.ErrNoViableBump):
		code = CodeInvariantViolation
	default:
		return err
	}
	return &Error{Code: code, Err: err}
}
