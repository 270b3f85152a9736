package server

import (
	"TreasuryLedger/internal/core"
	"TreasuryLedger/internal/ingestion"
	"TreasuryLedger/internal/ledger"
	"TreasuryLedger/internal/query"
	"TreasuryLedger/internal/treasury"
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{&treasury.Error{Code: treasury.CodeUnauthorized}, codes.PermissionDenied},
		{&treasury.Error{Code: treasury.CodeAlreadyExists}, codes.AlreadyExists},
		{&treasury.Error{Code: treasury.CodeAccountMismatch}, codes.InvalidArgument},
		{&treasury.Error{Code: treasury.CodeInsufficientFunds}, codes.FailedPrecondition},
		{&treasury.Error{Code: treasury.CodeArithmeticOverflow}, codes.OutOfRange},
		{&treasury.Error{Code: treasury.CodeAccountInUse}, codes.Aborted},
		{&treasury.Error{Code: treasury.CodeInvariantViolation}, codes.Internal},
		{fmt.Errorf("wrapped: %w", &treasury.Error{Code: treasury.CodeNotFound}), codes.NotFound},
		{fmt.Errorf("%w: amount", ingestion.ErrMalformed), codes.InvalidArgument},
		{core.ErrStaleNonce, codes.FailedPrecondition},
		{core.ErrProcessorStopped, codes.Unavailable},
		{query.ErrNotFound, codes.NotFound},
		{fmt.Errorf("mint: %w", ledger.ErrOwnerMismatch), codes.PermissionDenied},
		{ledger.ErrAccountExists, codes.AlreadyExists},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{status.Error(codes.Unavailable, "down"), codes.Unavailable},
		{errors.New("disk on fire"), codes.Internal},
	}
	for _, tt := range tests {
		if got := status.Code(toStatus(tt.err)); got != tt.want {
			t.Errorf("toStatus(%v): got %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestToStatus_KeepsCodeName(t *testing.T) {
	err := toStatus(&treasury.Error{Code: treasury.CodeInsufficientFunds, Msg: "vault holds 3"})
	if got := status.Convert(err).Message(); got != "InsufficientFunds: vault holds 3" {
		t.Errorf("message: got %q", got)
	}
}
