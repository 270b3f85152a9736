package core_test

import (
	"TreasuryLedger/internal/core"
	"TreasuryLedger/internal/event"
	"TreasuryLedger/internal/ledger"
	"TreasuryLedger/internal/observability"
	"TreasuryLedger/internal/store"
	"TreasuryLedger/internal/testutil"
	"TreasuryLedger/internal/treasury"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// --- Test helpers ---

// newTestProcessor creates a Processor over a fresh world with buffered
// channels and no DB checker.
func newTestProcessor(t *testing.T, opts ...core.ProcessorOption) (*core.Processor, *testutil.World, chan core.CoreOutput, chan core.CoreOutput) {
	t.Helper()
	w := testutil.NewWorld(t)
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	p := core.NewProcessor(w.Program, w.Ledger, persistChan, projChan, nil, opts...)
	return p, w, persistChan, projChan
}

func mustOpenStore(t *testing.T, path string) *store.Store {
	t.Helper()
	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st
}

func mustProcess(t *testing.T, p *core.Processor, instr event.Instruction) *core.Result {
	t.Helper()
	res, err := p.ProcessInstruction(context.Background(), instr)
	if err != nil {
		t.Fatalf("process %s: %v", instr.InstructionType(), err)
	}
	return res
}

// mustTreasury creates a treasury through the processor.
func mustTreasury(t *testing.T, p *core.Processor, w *testutil.World) *treasury.Treasury {
	t.Helper()
	authority := testutil.NewKeypair(t)
	if err := w.Ledger.Airdrop(context.Background(), authority.PublicKey(), testutil.WalletLamports); err != nil {
		t.Fatalf("airdrop: %v", err)
	}
	res := mustProcess(t, p, w.CreateTreasuryInstr(t, authority))
	return res.Receipt.Treasury
}

type stubDBChecker struct {
	dup bool
	err error
}

func (s *stubDBChecker) IsDuplicate(ctx context.Context, instructionType, key string) (bool, error) {
	return s.dup, s.err
}

// ============================================================================
// Test: Pipeline outputs
// ============================================================================

func TestProcessor_EmitsOutputs(t *testing.T) {
	p, w, persistChan, projChan := newTestProcessor(t)
	tr := mustTreasury(t, p, w)
	user := w.NewUser(t, testutil.InitialHoldings)

	res := mustProcess(t, p, w.StakeInstr(t, user, tr.Address, 100))
	if res.Duplicate {
		t.Fatal("first submission reported as duplicate")
	}
	if res.Envelope.Sequence != 2 {
		t.Errorf("sequence: got %d, want 2", res.Envelope.Sequence)
	}
	if res.Envelope.Treasury != tr.Address {
		t.Errorf("envelope treasury: got %s, want %s", res.Envelope.Treasury, tr.Address)
	}
	if res.Envelope.Signer != user.PublicKey() {
		t.Errorf("envelope signer: got %s", res.Envelope.Signer)
	}
	if len(res.Envelope.Payload) == 0 {
		t.Error("envelope payload empty")
	}

	if len(persistChan) != 2 || len(projChan) != 2 {
		t.Fatalf("outputs: persist=%d projection=%d, want 2 each", len(persistChan), len(projChan))
	}
	<-persistChan
	out := <-persistChan
	if out.Envelope != res.Envelope {
		t.Error("persisted envelope differs from result")
	}
	if len(out.Events) != 1 || out.Events[0].EventName() != "Deposited" {
		t.Errorf("events: %+v", out.Events)
	}
	for i := 1; i < len(out.Accounts); i++ {
		if out.Accounts[i-1].AccountPath() >= out.Accounts[i].AccountPath() {
			t.Fatal("post-state accounts not sorted")
		}
	}
	var sawVault bool
	for _, a := range out.Accounts {
		if a.Address == tr.TreasuryVault {
			sawVault = true
			if a.Amount != 100 {
				t.Errorf("vault post-state: got %d, want 100", a.Amount)
			}
		}
	}
	if !sawVault {
		t.Error("treasury vault missing from post-state")
	}
}

// ============================================================================
// Test: Hash chain
// ============================================================================

func TestProcessor_HashChain(t *testing.T) {
	p, w, _, _ := newTestProcessor(t)
	tr := mustTreasury(t, p, w)
	user := w.NewUser(t, testutil.InitialHoldings)

	first := mustProcess(t, p, w.StakeInstr(t, user, tr.Address, 10))
	second := mustProcess(t, p, w.RedeemInstr(t, user, tr.Address, 5))

	if second.Envelope.PrevHash != first.Envelope.StateHash {
		t.Error("prev hash does not link to previous state hash")
	}
	if first.Envelope.StateHash == second.Envelope.StateHash {
		t.Error("distinct state changes produced the same hash")
	}
	if p.Tip() != second.Envelope.StateHash {
		t.Error("tip is not the last state hash")
	}
}

func TestProcessor_GenesisLink(t *testing.T) {
	p, w, _, _ := newTestProcessor(t)
	authority := testutil.NewKeypair(t)
	if err := w.Ledger.Airdrop(context.Background(), authority.PublicKey(), testutil.WalletLamports); err != nil {
		t.Fatalf("airdrop: %v", err)
	}
	res := mustProcess(t, p, w.CreateTreasuryInstr(t, authority))
	if res.Envelope.PrevHash != core.GenesisHash() {
		t.Error("first envelope must link to the genesis hash")
	}
}

func TestProcessor_Resume(t *testing.T) {
	tip := core.GenesisHash()
	tip[0] ^= 0xff
	p, w, _, _ := newTestProcessor(t, core.WithResume(41, tip))

	res := mustProcess(t, p, w.StakeInstr(t, w.NewUser(t, 1), mustTreasury(t, p, w).Address, 1))
	if res.Envelope.Sequence != 43 {
		t.Errorf("envelope sequence: got %d, want 43", res.Envelope.Sequence)
	}
	if p.Sequence() != 43 {
		t.Errorf("sequence: got %d, want 43", p.Sequence())
	}
}

func TestHashChain_Deterministic(t *testing.T) {
	a, b := core.NewHashChain(), core.NewHashChain()
	digest := []byte("digest")
	if a.Next(1, digest) != b.Next(1, digest) {
		t.Error("same inputs produced different hashes")
	}
	if a.Next(2, digest) == b.Next(3, digest) {
		t.Error("sequence must contribute to the hash")
	}
}

func TestHashChain_LinkReturnsPreviousTip(t *testing.T) {
	h := core.NewHashChain()
	prev, next := h.Link(1, nil)
	if prev != core.GenesisHash() {
		t.Error("first link must start from genesis")
	}
	if h.Tip() != next {
		t.Error("tip must advance to the new hash")
	}
	if prev2, _ := h.Link(2, nil); prev2 != next {
		t.Error("second link must start from the first hash")
	}
}

// ============================================================================
// Test: Idempotency
// ============================================================================

func TestProcessor_DuplicateReturnsOriginalResult(t *testing.T) {
	p, w, persistChan, _ := newTestProcessor(t)
	tr := mustTreasury(t, p, w)
	user := w.NewUser(t, testutil.InitialHoldings)

	instr := w.StakeInstr(t, user, tr.Address, 100)
	first := mustProcess(t, p, instr)
	seqBefore := w.Ledger.Sequence()

	again := mustProcess(t, p, instr)
	if !again.Duplicate {
		t.Fatal("resubmission not flagged as duplicate")
	}
	if again.Envelope != first.Envelope {
		t.Error("duplicate did not return the original envelope")
	}
	if w.Ledger.Sequence() != seqBefore {
		t.Error("duplicate touched the ledger")
	}
	if got := w.Balance(tr.TreasuryVault); got != 100 {
		t.Errorf("vault: got %d, want 100", got)
	}
	if len(persistChan) != 2 {
		t.Errorf("persisted outputs: got %d, want 2", len(persistChan))
	}
}

func TestProcessor_DuplicateFromOtherSignerGetsNoResult(t *testing.T) {
	p, w, _, _ := newTestProcessor(t)
	tr := mustTreasury(t, p, w)
	owner := w.NewUser(t, testutil.InitialHoldings)
	other := w.NewUser(t, testutil.InitialHoldings)

	first := w.StakeInstr(t, owner, tr.Address, 100)
	mustProcess(t, p, first)

	copied := w.StakeInstr(t, other, tr.Address, 1)
	copied.InstructionID = first.InstructionID
	testutil.Resign(t, copied, other.Key)

	res := mustProcess(t, p, copied)
	if !res.Duplicate {
		t.Fatal("reused instruction id should be a duplicate")
	}
	if res.Envelope != nil || res.Receipt != nil {
		t.Error("another signer must not receive the original result")
	}
}

func TestProcessor_UnsignedDuplicateRejected(t *testing.T) {
	p, w, _, _ := newTestProcessor(t)
	tr := mustTreasury(t, p, w)
	user := w.NewUser(t, testutil.InitialHoldings)

	instr := w.StakeInstr(t, user, tr.Address, 100)
	mustProcess(t, p, instr)

	forged := *instr
	forged.Signature = solana.Signature{}
	res, err := p.ProcessInstruction(context.Background(), &forged)
	if !errors.Is(err, treasury.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
	if res != nil {
		t.Errorf("rejected request answered with %+v", res)
	}
}

func TestProcessor_ReplayRejectedAfterRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "accounts.db")

	st := mustOpenStore(t, path)
	w := testutil.NewWorld(t, ledger.WithStore(st))
	p := core.NewProcessor(w.Program, w.Ledger, nil, nil, nil)
	tr := mustTreasury(t, p, w)
	user := w.NewUser(t, 1000)
	stake := w.StakeInstr(t, user, tr.Address, 100)
	mustProcess(t, p, stake)
	if err := st.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	// Restart without Postgres: only the account store survives.
	st = mustOpenStore(t, path)
	defer st.Close()
	accounts, seq, err := st.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	l := ledger.New(ledger.WithStore(st))
	if err := l.Restore(accounts, seq); err != nil {
		t.Fatalf("restore ledger: %v", err)
	}
	replay, err := st.Replay(100)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	restarted := core.NewProcessor(treasury.NewProgram(w.ProgramID, l), l, nil, nil, nil)
	restarted.RestoreAttested(replay.Nonces, replay.Recent)

	res, err := restarted.ProcessInstruction(ctx, stake)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if !res.Duplicate {
		t.Error("resubmitted stake should be reported as duplicate")
	}

	reissued := *stake
	reissued.InstructionID = uuid.New()
	testutil.Resign(t, &reissued, user.Key)
	if _, err := restarted.ProcessInstruction(ctx, &reissued); !errors.Is(err, core.ErrStaleNonce) {
		t.Errorf("same nonce under a new id: expected ErrStaleNonce, got %v", err)
	}

	if got, _ := l.Balance(user.Vault); got != 900 {
		t.Errorf("user vault: got %d, want 900", got)
	}
	if got, _ := l.Balance(tr.TreasuryVault); got != 100 {
		t.Errorf("treasury vault: got %d, want 100", got)
	}
}

func TestProcessor_DBTierDuplicate(t *testing.T) {
	w := testutil.NewWorld(t)
	p := core.NewProcessor(w.Program, w.Ledger, nil, nil, &stubDBChecker{dup: true})
	authority := testutil.NewKeypair(t)
	seqBefore := w.Ledger.Sequence()

	res := mustProcess(t, p, w.CreateTreasuryInstr(t, authority))
	if !res.Duplicate || res.Envelope != nil {
		t.Errorf("expected bare duplicate, got %+v", res)
	}
	if w.Ledger.Sequence() != seqBefore {
		t.Error("db-tier duplicate touched the ledger")
	}
}

func TestProcessor_DBTierErrorFallsThrough(t *testing.T) {
	w := testutil.NewWorld(t)
	p := core.NewProcessor(w.Program, w.Ledger, nil, nil, &stubDBChecker{err: errors.New("connection refused")})
	authority := testutil.NewKeypair(t)
	if err := w.Ledger.Airdrop(context.Background(), authority.PublicKey(), testutil.WalletLamports); err != nil {
		t.Fatalf("airdrop: %v", err)
	}

	res := mustProcess(t, p, w.CreateTreasuryInstr(t, authority))
	if res.Duplicate {
		t.Error("lookup failure must not mark the instruction duplicate")
	}
}

func TestIdempotencyLRU_Eviction(t *testing.T) {
	lru := core.NewIdempotencyLRU(2)
	lru.Add("a", nil)
	lru.Add("b", nil)
	lru.Get("a")
	lru.Add("c", nil)

	if _, ok := lru.Get("b"); ok {
		t.Error("least recently used key should be evicted")
	}
	if _, ok := lru.Get("a"); !ok {
		t.Error("recently used key evicted")
	}
	if lru.Size() != 2 || lru.Evictions() != 1 {
		t.Errorf("size=%d evictions=%d, want 2 and 1", lru.Size(), lru.Evictions())
	}
}

func TestIdempotencyLRU_WarmKeepsResults(t *testing.T) {
	lru := core.NewIdempotencyLRU(4)
	res := &core.Result{}
	lru.Add("a", res)
	lru.WarmFromKeys([]string{"a", "b"})

	if got, _ := lru.Get("a"); got != res {
		t.Error("warming overwrote a cached result")
	}
	if got, ok := lru.Get("b"); !ok || got != nil {
		t.Error("warmed key should be present without a result")
	}
}

// ============================================================================
// Test: Nonces
// ============================================================================

func TestProcessor_StaleNonce(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, w, _, _ := newTestProcessor(t, core.WithProcessorMetrics(observability.NewMetricsWith(reg)))
	tr := mustTreasury(t, p, w)
	user := w.NewUser(t, testutil.InitialHoldings)

	first := w.StakeInstr(t, user, tr.Address, 10)
	mustProcess(t, p, first)

	replay := w.StakeInstr(t, user, tr.Address, 10)
	replay.Nonce = first.Nonce
	testutil.Resign(t, replay, user.Key)

	_, err := p.ProcessInstruction(context.Background(), replay)
	if !errors.Is(err, core.ErrStaleNonce) {
		t.Fatalf("expected ErrStaleNonce, got %v", err)
	}
	if got := w.Balance(tr.TreasuryVault); got != 10 {
		t.Errorf("vault: got %d, want 10", got)
	}
}

func TestProcessor_RejectedInstructionKeepsNonce(t *testing.T) {
	p, w, persistChan, _ := newTestProcessor(t)
	tr := mustTreasury(t, p, w)
	user := w.NewUser(t, 50)

	failing := w.StakeInstr(t, user, tr.Address, 51)
	_, err := p.ProcessInstruction(context.Background(), failing)
	if !errors.Is(err, treasury.ErrInsufficientFunds) {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}
	if len(persistChan) != 1 {
		t.Errorf("rejected instruction emitted output")
	}

	retry := w.StakeInstr(t, user, tr.Address, 50)
	retry.Nonce = failing.Nonce
	testutil.Resign(t, retry, user.Key)
	mustProcess(t, p, retry)
}

func TestNonceValidator(t *testing.T) {
	v := core.NewNonceValidator()
	signer := testutil.NewKeypair(t).PublicKey()

	if err := v.Validate(signer, 1); err != nil {
		t.Fatalf("first nonce: %v", err)
	}
	v.Advance(signer, 5)
	for _, n := range []uint64{1, 5} {
		if err := v.Validate(signer, n); !errors.Is(err, core.ErrStaleNonce) {
			t.Errorf("nonce %d: expected ErrStaleNonce, got %v", n, err)
		}
	}
	if err := v.Validate(signer, 6); err != nil {
		t.Errorf("nonce 6: %v", err)
	}
}

// ============================================================================
// Test: Run loop
// ============================================================================

func TestProcessor_SubmitThroughRun(t *testing.T) {
	p, w, _, _ := newTestProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	authority := testutil.NewKeypair(t)
	if err := w.Ledger.Airdrop(ctx, authority.PublicKey(), testutil.WalletLamports); err != nil {
		t.Fatalf("airdrop: %v", err)
	}
	res, err := p.Submit(ctx, w.CreateTreasuryInstr(t, authority))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Envelope.Sequence != 1 {
		t.Errorf("sequence: got %d, want 1", res.Envelope.Sequence)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestProcessor_SubmitAfterStop(t *testing.T) {
	p, w, _, _ := newTestProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	authority := testutil.NewKeypair(t)
	_, err := p.Submit(context.Background(), w.CreateTreasuryInstr(t, authority))
	if !errors.Is(err, core.ErrProcessorStopped) {
		t.Errorf("expected ErrProcessorStopped, got %v", err)
	}
}

func TestProcessor_ProjectionDropDoesNotBlock(t *testing.T) {
	w := testutil.NewWorld(t)
	persistChan := make(chan core.CoreOutput, 4)
	projChan := make(chan core.CoreOutput)
	p := core.NewProcessor(w.Program, w.Ledger, persistChan, projChan, nil)

	authority := testutil.NewKeypair(t)
	if err := w.Ledger.Airdrop(context.Background(), authority.PublicKey(), testutil.WalletLamports); err != nil {
		t.Fatalf("airdrop: %v", err)
	}
	mustProcess(t, p, w.CreateTreasuryInstr(t, authority))
	if len(persistChan) != 1 {
		t.Errorf("persisted outputs: got %d, want 1", len(persistChan))
	}
}
