package server

import (
	"TreasuryLedger/internal/core"
	"TreasuryLedger/internal/ingestion"
	"TreasuryLedger/internal/ledger"
	"TreasuryLedger/internal/query"
	"TreasuryLedger/internal/treasury"
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var programCodes = map[treasury.Code]codes.Code{
	treasury.CodeUnauthorized:       codes.PermissionDenied,
	treasury.CodeAlreadyExists:      codes.AlreadyExists,
	treasury.CodeAccountMismatch:    codes.InvalidArgument,
	treasury.CodeInvalidAsset:       codes.InvalidArgument,
	treasury.CodeInvalidArgument:    codes.InvalidArgument,
	treasury.CodeInsufficientFunds:  codes.FailedPrecondition,
	treasury.CodeAllocationFailed:   codes.FailedPrecondition,
	treasury.CodeArithmeticOverflow: codes.OutOfRange,
	treasury.CodeAccountInUse:       codes.Aborted,
	treasury.CodeNotFound:           codes.NotFound,
	treasury.CodeInvariantViolation: codes.Internal,
}

// toStatus converts a domain error into a gRPC status error. Program
// failures keep their code name in the message so HTTP clients can
// branch on it.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if code, ok := treasury.CodeOf(err); ok {
		c, known := programCodes[code]
		if !known {
			c = codes.Internal
		}
		return status.Error(c, err.Error())
	}
	return status.Error(codeFor(err), err.Error())
}

func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, ingestion.ErrMalformed),
		errors.Is(err, ledger.ErrInvalidAmount):
		return codes.InvalidArgument
	case errors.Is(err, core.ErrStaleNonce),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientLamports):
		return codes.FailedPrecondition
	case errors.Is(err, core.ErrUnknownInstruction):
		return codes.Unimplemented
	case errors.Is(err, core.ErrProcessorStopped):
		return codes.Unavailable
	case errors.Is(err, query.ErrNotFound),
		errors.Is(err, ledger.ErrAccountNotFound):
		return codes.NotFound
	case errors.Is(err, ledger.ErrAccountExists):
		return codes.AlreadyExists
	case errors.Is(err, ledger.ErrOwnerMismatch),
		errors.Is(err, ledger.ErrMissingSignature),
		errors.Is(err, ledger.ErrProgramAuthority):
		return codes.PermissionDenied
	case errors.Is(err, ledger.ErrMintMismatch),
		errors.Is(err, ledger.ErrNotMint),
		errors.Is(err, ledger.ErrNotTokenAccount):
		return codes.InvalidArgument
	case errors.Is(err, ledger.ErrOverflow):
		return codes.OutOfRange
	case errors.Is(err, ledger.ErrAccountInUse):
		return codes.Aborted
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	return codes.Internal
}
