package ingestion_test

import (
	"TreasuryLedger/internal/core"
	"TreasuryLedger/internal/event"
	"TreasuryLedger/internal/ingestion"
	"TreasuryLedger/internal/testutil"
	"TreasuryLedger/internal/treasury"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

type ackRecorder struct {
	acks, naks, terms int
}

func (r *ackRecorder) raw(instrType string, data []byte) ingestion.RawInstruction {
	return ingestion.RawInstruction{
		Subject:         "treasury.instructions.test",
		InstructionType: instrType,
		Data:            data,
		AckFunc:         func() { r.acks++ },
		NakFunc:         func() { r.naks++ },
		TermFunc:        func() { r.terms++ },
	}
}

// dispatchOne runs a dispatcher over a single message.
func dispatchOne(t *testing.T, sub ingestion.Submitter, raw ingestion.RawInstruction) {
	t.Helper()
	ch := make(chan ingestion.RawInstruction, 1)
	ch <- raw
	close(ch)
	d := ingestion.NewDispatcher(ingestion.NewIngestService(sub), ch, nil, zerolog.Nop())
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
}

type stubSubmitter struct {
	res *core.Result
	err error
	got event.Instruction
}

func (s *stubSubmitter) Submit(ctx context.Context, instr event.Instruction) (*core.Result, error) {
	s.got = instr
	return s.res, s.err
}

// ============================================================================
// Test: Acknowledgement policy
// ============================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		res  *core.Result
		err  error
		want string
	}{
		{"applied", &core.Result{}, nil, ingestion.OutcomeApplied},
		{"duplicate", &core.Result{Duplicate: true}, nil, ingestion.OutcomeDuplicate},
		{"malformed", nil, fmt.Errorf("%w: x", ingestion.ErrMalformed), ingestion.OutcomeMalformed},
		{"contention", nil, treasury.ErrAccountInUse, ingestion.OutcomeRetry},
		{"program rejection", nil, treasury.ErrInsufficientFunds, ingestion.OutcomeRejected},
		{"stale nonce", nil, core.ErrStaleNonce, ingestion.OutcomeRejected},
		{"unknown failure", nil, errors.New("boom"), ingestion.OutcomeRetry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ingestion.Classify(tt.res, tt.err); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDispatcher_AppliesAndAcks(t *testing.T) {
	w := testutil.NewWorld(t)
	p := core.NewProcessor(w.Program, w.Ledger, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	authority := testutil.NewKeypair(t)
	if err := w.Ledger.Airdrop(ctx, authority.PublicKey(), testutil.WalletLamports); err != nil {
		t.Fatalf("airdrop: %v", err)
	}
	in := w.CreateTreasuryInstr(t, authority)

	var rec ackRecorder
	dispatchOne(t, p, rec.raw("CreateTreasury", mustEncode(t, in)))
	if rec.acks != 1 || rec.naks != 0 || rec.terms != 0 {
		t.Fatalf("acks=%d naks=%d terms=%d", rec.acks, rec.naks, rec.terms)
	}

	// Redelivery of the same message is acked as a duplicate
	dispatchOne(t, p, rec.raw("CreateTreasury", mustEncode(t, in)))
	if rec.acks != 2 {
		t.Errorf("redelivery: acks=%d, want 2", rec.acks)
	}
	if p.Sequence() != 1 {
		t.Errorf("sequence: got %d, want 1", p.Sequence())
	}
}

func TestDispatcher_TerminatesMalformed(t *testing.T) {
	var rec ackRecorder
	sub := &stubSubmitter{}
	dispatchOne(t, sub, rec.raw("Stake", []byte(`not json`)))
	if rec.terms != 1 || rec.acks != 0 {
		t.Errorf("acks=%d terms=%d, want one term", rec.acks, rec.terms)
	}
	if sub.got != nil {
		t.Error("malformed message reached the processor")
	}
}

func TestDispatcher_NaksContention(t *testing.T) {
	w := testutil.NewWorld(t)
	in := w.CreateTreasuryInstr(t, testutil.NewKeypair(t))

	var rec ackRecorder
	dispatchOne(t, &stubSubmitter{err: treasury.ErrAccountInUse}, rec.raw("CreateTreasury", mustEncode(t, in)))
	if rec.naks != 1 {
		t.Errorf("naks=%d, want 1", rec.naks)
	}
}

// ============================================================================
// Test: Outbound publishing
// ============================================================================

type recordingJS struct {
	subjects []string
	payloads [][]byte
}

func (r *recordingJS) Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, payload)
	return &jetstream.PubAck{}, nil
}

func TestOutboundPublisher(t *testing.T) {
	w := testutil.NewWorld(t)
	outputs := make(chan core.CoreOutput, 4)
	p := core.NewProcessor(w.Program, w.Ledger, outputs, nil, nil)

	authority := testutil.NewKeypair(t)
	if err := w.Ledger.Airdrop(context.Background(), authority.PublicKey(), testutil.WalletLamports); err != nil {
		t.Fatalf("airdrop: %v", err)
	}
	res, err := p.ProcessInstruction(context.Background(), w.CreateTreasuryInstr(t, authority))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	close(outputs)

	js := &recordingJS{}
	if err := ingestion.NewOutboundPublisher(js, outputs, zerolog.Nop()).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(js.subjects) != 1 {
		t.Fatalf("published %d messages, want 1", len(js.subjects))
	}
	want := "treasury.events.treasurycreated." + res.Receipt.Treasury.Address.String()
	if js.subjects[0] != want {
		t.Errorf("subject: got %s, want %s", js.subjects[0], want)
	}

	var msg struct {
		Sequence int64          `json:"sequence"`
		Event    string         `json:"event"`
		Payload  map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(js.payloads[0], &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Sequence != 1 || msg.Event != "TreasuryCreated" {
		t.Errorf("message: %+v", msg)
	}
	if msg.Payload["treasury"] != res.Receipt.Treasury.Address.String() {
		t.Errorf("payload treasury: %v", msg.Payload["treasury"])
	}
}
