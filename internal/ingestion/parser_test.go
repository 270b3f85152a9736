package ingestion_test

import (
	"TreasuryLedger/internal/event"
	"TreasuryLedger/internal/ingestion"
	"TreasuryLedger/internal/testutil"
	"encoding/json"
	"errors"
	"testing"
)

func mustEncode(t *testing.T, instr event.Instruction) []byte {
	t.Helper()
	data, err := ingestion.EncodeInstruction(instr)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

// ============================================================================
// Test: Parsing signed instructions
// ============================================================================

func TestParseCreateTreasury(t *testing.T) {
	w := testutil.NewWorld(t)
	authority := testutil.NewKeypair(t)
	in := w.CreateTreasuryInstr(t, authority)

	parsed, err := ingestion.ParseInstruction("CreateTreasury", mustEncode(t, in))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	ct, ok := parsed.(*event.CreateTreasury)
	if !ok {
		t.Fatalf("expected *event.CreateTreasury, got %T", parsed)
	}
	if ct.TreasuryMint != w.Mint || ct.Authority != authority.PublicKey() {
		t.Errorf("keys: mint=%s authority=%s", ct.TreasuryMint, ct.Authority)
	}
	if !ct.Treasury.IsZero() {
		t.Error("omitted optional key must parse as zero")
	}
	if !event.VerifySignature(ct) {
		t.Error("signature no longer verifies after parsing")
	}
}

func TestParseStakeAndRedeem(t *testing.T) {
	w := testutil.NewWorld(t)
	user := w.NewUser(t, 0)
	treasury := testutil.NewKeypair(t).PublicKey()

	stake := w.StakeInstr(t, user, treasury, 18_446_744_073_709_551_615)
	parsed, err := ingestion.ParseInstruction("Stake", mustEncode(t, stake))
	if err != nil {
		t.Fatalf("parse stake: %v", err)
	}
	s, ok := parsed.(*event.Stake)
	if !ok {
		t.Fatalf("expected *event.Stake, got %T", parsed)
	}
	if s.Amount != 18_446_744_073_709_551_615 {
		t.Errorf("amount: got %d, want max uint64", s.Amount)
	}
	if s.Nonce != stake.Nonce || s.InstructionID != stake.InstructionID {
		t.Error("auth block did not survive parsing")
	}
	if !event.VerifySignature(s) {
		t.Error("stake signature no longer verifies")
	}

	redeem := w.RedeemInstr(t, user, treasury, 10)
	parsed, err = ingestion.ParseInstruction("Redeem", mustEncode(t, redeem))
	if err != nil {
		t.Fatalf("parse redeem: %v", err)
	}
	if _, ok := parsed.(*event.Redeem); !ok {
		t.Fatalf("expected *event.Redeem, got %T", parsed)
	}
}

func TestParseStake_SignatureBindsType(t *testing.T) {
	w := testutil.NewWorld(t)
	user := w.NewUser(t, 0)
	stake := w.StakeInstr(t, user, testutil.NewKeypair(t).PublicKey(), 5)

	// A stake payload submitted on the redeem subject parses but must not verify
	parsed, err := ingestion.ParseInstruction("Redeem", mustEncode(t, stake))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.VerifySignature(parsed) {
		t.Error("stake signature verified as a redeem")
	}
}

// ============================================================================
// Test: Malformed payloads
// ============================================================================

func TestParse_Malformed(t *testing.T) {
	w := testutil.NewWorld(t)
	user := w.NewUser(t, 0)
	stake := w.StakeInstr(t, user, testutil.NewKeypair(t).PublicKey(), 1)
	valid := ingestion.EncodePosition(&stake.Auth, &stake.Position)

	tests := []struct {
		name   string
		mutate func(j *ingestion.PositionJSON)
	}{
		{"bad instruction id", func(j *ingestion.PositionJSON) { j.InstructionID = "not-a-uuid" }},
		{"missing signer", func(j *ingestion.PositionJSON) { j.Signer = "" }},
		{"bad signer", func(j *ingestion.PositionJSON) { j.Signer = "0OIl" }},
		{"negative nonce", func(j *ingestion.PositionJSON) { j.Nonce = "-1" }},
		{"bad signature", func(j *ingestion.PositionJSON) { j.Signature = "abc" }},
		{"missing treasury", func(j *ingestion.PositionJSON) { j.Treasury = "" }},
		{"missing user vault", func(j *ingestion.PositionJSON) { j.UserVault = "" }},
		{"bad optional key", func(j *ingestion.PositionJSON) { j.UserPosVault = "xyz" }},
		{"amount overflow", func(j *ingestion.PositionJSON) { j.Amount = "18446744073709551616" }},
		{"amount not a number", func(j *ingestion.PositionJSON) { j.Amount = "1e9" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := valid
			tt.mutate(&j)
			data, err := json.Marshal(j)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if _, err := ingestion.ParseInstruction("Stake", data); !errors.Is(err, ingestion.ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestParse_UnknownType(t *testing.T) {
	if _, err := ingestion.ParseInstruction("Liquidate", []byte(`{}`)); !errors.Is(err, ingestion.ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestParse_InvalidJSON(t *testing.T) {
	if _, err := ingestion.ParseInstruction("Stake", []byte(`{"amount":`)); !errors.Is(err, ingestion.ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}
