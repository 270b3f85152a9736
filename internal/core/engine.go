package core

import (
	"TreasuryLedger/internal/event"
	"TreasuryLedger/internal/ledger"
	"TreasuryLedger/internal/observability"
	"TreasuryLedger/internal/treasury"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownInstruction = errors.New("unknown instruction type")
	ErrProcessorStopped   = errors.New("processor stopped")
)

// Program is the custody program the processor drives.
type Program interface {
	CreateTreasury(ctx context.Context, in *event.CreateTreasury) (*treasury.Receipt, error)
	Stake(ctx context.Context, in *event.Stake) (*treasury.Receipt, error)
	Redeem(ctx context.Context, in *event.Redeem) (*treasury.Receipt, error)
}

// AccountReader reads committed ledger state.
type AccountReader interface {
	Account(addr solana.PublicKey) (ledger.Account, bool)
}

// CoreOutput is everything downstream workers need about one applied
// instruction.
type CoreOutput struct {
	Envelope *event.Envelope
	Batch    *ledger.Batch
	Treasury *treasury.Treasury
	Events   []treasury.Event

	// Post-state of every account the batch touched, sorted by address
	Accounts []ledger.Account
}

// Result is returned to the submitter. A duplicate carries the original
// result when it is still cached, otherwise only Duplicate is set.
type Result struct {
	Envelope  *event.Envelope
	Receipt   *treasury.Receipt
	Duplicate bool
}

type request struct {
	ctx   context.Context
	instr event.Instruction
	reply chan reply
}

type reply struct {
	res *Result
	err error
}

// Processor serializes instructions through the program and chains a state
// hash over every committed one.
type Processor struct {
	sequence    atomic.Int64 // written only by the processing goroutine
	hasher      *HashChain
	program     Program
	accounts    AccountReader
	idempotency *IdempotencyChecker
	nonces      *NonceValidator
	metrics     *observability.Metrics
	logger      zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
	requests       chan request
	stopped        chan struct{}
}

type ProcessorOption func(*processorConfig)

type processorConfig struct {
	startSequence int64
	tip           *[32]byte
	dedupCapacity int
	queueSize     int
	metrics       *observability.Metrics
	logger        zerolog.Logger
}

// WithResume continues sequence numbering and the hash chain after a restart.
func WithResume(sequence int64, tip [32]byte) ProcessorOption {
	return func(c *processorConfig) {
		c.startSequence = sequence
		c.tip = &tip
	}
}

func WithDedupCapacity(n int) ProcessorOption {
	return func(c *processorConfig) { c.dedupCapacity = n }
}

func WithQueueSize(n int) ProcessorOption {
	return func(c *processorConfig) { c.queueSize = n }
}

func WithProcessorMetrics(m *observability.Metrics) ProcessorOption {
	return func(c *processorConfig) { c.metrics = m }
}

func WithProcessorLogger(l zerolog.Logger) ProcessorOption {
	return func(c *processorConfig) { c.logger = l }
}

// NewProcessor wires the pipeline. Either channel may be nil, in which case
// that output is skipped.
func NewProcessor(
	program Program,
	accounts AccountReader,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	opts ...ProcessorOption,
) *Processor {
	cfg := processorConfig{
		dedupCapacity: 1_000_000,
		queueSize:     1024,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	hasher := NewHashChain()
	if cfg.tip != nil {
		hasher.Resume(*cfg.tip)
	}

	p := &Processor{
		hasher:         hasher,
		program:        program,
		accounts:       accounts,
		idempotency:    NewIdempotencyChecker(cfg.dedupCapacity, dbChecker, cfg.metrics, cfg.logger),
		nonces:         NewNonceValidator(),
		metrics:        cfg.metrics,
		logger:         cfg.logger,
		persistChan:    persistChan,
		projectionChan: projectionChan,
		requests:       make(chan request, cfg.queueSize),
		stopped:        make(chan struct{}),
	}
	p.sequence.Store(cfg.startSequence)
	return p
}

// Restore seeds replay protection from the instruction log.
func (c *Processor) Restore(nonces map[solana.PublicKey]uint64, recentKeys []string) {
	c.nonces.Restore(nonces)
	c.idempotency.Warm(recentKeys)
}

// RestoreAttested seeds replay protection from the account store, which
// commits each signer's nonce with the batch it applied. It may be combined
// with Restore; nonces only move forward.
func (c *Processor) RestoreAttested(nonces map[solana.PublicKey]uint64, recent []ledger.Attestation) {
	c.nonces.Restore(nonces)
	keys := make([]string, 0, len(recent))
	for _, a := range recent {
		c.nonces.Advance(a.Signer, a.Nonce)
		keys = append(keys, compositeKey(a.Kind, a.Ref))
	}
	c.idempotency.Warm(keys)
}

// Sequence returns the last applied processor sequence. Safe to call from
// any goroutine.
func (c *Processor) Sequence() int64 {
	return c.sequence.Load()
}

func (c *Processor) Tip() [32]byte {
	return c.hasher.Tip()
}

// Run drains submitted instructions until ctx is done. It must be called
// exactly once; Submit fails with ErrProcessorStopped after it returns.
func (c *Processor) Run(ctx context.Context) error {
	defer close(c.stopped)
	c.logger.Info().Int64("sequence", c.Sequence()).Msg("processor started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Int64("sequence", c.Sequence()).Msg("processor stopped")
			return nil
		case req := <-c.requests:
			if err := req.ctx.Err(); err != nil {
				req.reply <- reply{err: err}
				continue
			}
			res, err := c.ProcessInstruction(req.ctx, req.instr)
			req.reply <- reply{res: res, err: err}
		}
	}
}

// Submit queues instr for the Run loop and waits for its result.
func (c *Processor) Submit(ctx context.Context, instr event.Instruction) (*Result, error) {
	req := request{ctx: ctx, instr: instr, reply: make(chan reply, 1)}
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.stopped:
		return nil, ErrProcessorStopped
	}
	select {
	case r := <-req.reply:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.stopped:
		select {
		case r := <-req.reply:
			return r.res, r.err
		default:
			return nil, ErrProcessorStopped
		}
	}
}

// ProcessInstruction is the main processing pipeline. It must only be
// called from one goroutine at a time; Run does that.
func (c *Processor) ProcessInstruction(ctx context.Context, instr event.Instruction) (*Result, error) {
	start := time.Now()
	instrType := instr.InstructionType().String()
	idempotencyKey := instr.IdempotencyKey()
	auth := instr.Authorization()

	// Step 1: Signature. Nothing is answered for an unsigned request.
	if !event.VerifySignature(instr) {
		c.reject(instrType, string(treasury.CodeUnauthorized))
		return nil, &treasury.Error{
			Code: treasury.CodeUnauthorized,
			Msg:  fmt.Sprintf("invalid signature from %s", auth.Signer),
		}
	}

	// Step 2: Idempotency check (two-tier). Only the original signer gets
	// the cached result back.
	if cached, dup := c.idempotency.Lookup(ctx, instrType, idempotencyKey); dup {
		res := &Result{Duplicate: true}
		if cached != nil && cached.Envelope != nil && cached.Envelope.Signer.Equals(auth.Signer) {
			res.Envelope = cached.Envelope
			res.Receipt = cached.Receipt
		}
		return res, nil
	}

	// Step 3: Signer nonce
	if err := c.nonces.Validate(auth.Signer, auth.Nonce); err != nil {
		if c.metrics != nil {
			c.metrics.StaleNonces.WithLabelValues(instrType).Inc()
		}
		c.reject(instrType, "StaleNonce")
		return nil, err
	}

	// Step 4: Dispatch
	receipt, err := c.dispatch(ctx, instr)
	if err != nil {
		code := "Internal"
		if tc, ok := treasury.CodeOf(err); ok {
			code = string(tc)
		}
		c.reject(instrType, code)
		return nil, err
	}

	// Step 5: State digest and hash chain
	hashStart := time.Now()
	accounts := c.postState(receipt.Batch)
	nextSeq := c.sequence.Load() + 1
	prevHash, stateHash := c.hasher.Link(nextSeq, accounts)
	if c.metrics != nil {
		c.metrics.StateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	payload, err := json.Marshal(instr)
	if err != nil {
		// The ledger already committed; the log entry keeps an empty payload.
		c.logger.Error().Err(err).Str("key", idempotencyKey).Msg("encode instruction payload")
	}

	envelope := &event.Envelope{
		Sequence:        nextSeq,
		LedgerSequence:  receipt.Batch.Sequence,
		IdempotencyKey:  idempotencyKey,
		InstructionType: instr.InstructionType(),
		Treasury:        receipt.Treasury.Address,
		Signer:          auth.Signer,
		Nonce:           auth.Nonce,
		Timestamp:       time.UnixMicro(receipt.Batch.Timestamp).UTC(),
		Payload:         payload,
		StateHash:       stateHash,
		PrevHash:        prevHash,
	}
	c.sequence.Store(nextSeq)

	// Step 6: Emit outputs
	c.emit(CoreOutput{
		Envelope: envelope,
		Batch:    receipt.Batch,
		Treasury: receipt.Treasury,
		Events:   receipt.Events,
		Accounts: accounts,
	})

	// Step 7: Mark as processed
	res := &Result{Envelope: envelope, Receipt: receipt}
	c.nonces.Advance(auth.Signer, auth.Nonce)
	c.idempotency.MarkProcessed(instrType, idempotencyKey, res)

	if c.metrics != nil {
		c.metrics.InstructionsApplied.WithLabelValues(instrType).Inc()
		c.metrics.InstructionDuration.WithLabelValues(instrType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(nextSeq))
		for _, j := range receipt.Batch.Journals {
			c.metrics.Journals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
	return res, nil
}

func (c *Processor) dispatch(ctx context.Context, instr event.Instruction) (*treasury.Receipt, error) {
	switch in := instr.(type) {
	case *event.CreateTreasury:
		return c.program.CreateTreasury(ctx, in)
	case *event.Stake:
		return c.program.Stake(ctx, in)
	case *event.Redeem:
		return c.program.Redeem(ctx, in)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownInstruction, instr)
	}
}

// emit sends to persistence with a blocking send so no applied instruction
// is lost, and to projections with a non-blocking send that drops on full.
func (c *Processor) emit(out CoreOutput) {
	if c.persistChan != nil {
		select {
		case c.persistChan <- out:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- out
		}
	}

	if c.projectionChan != nil {
		select {
		case c.projectionChan <- out:
		default:
			// Projections catch up by rebuilding from the instruction log.
			if c.metrics != nil {
				c.metrics.ProjectionDrops.Inc()
			}
		}
	}
}

func (c *Processor) reject(instrType, code string) {
	if c.metrics != nil {
		c.metrics.InstructionsRejected.WithLabelValues(instrType, code).Inc()
	}
}

func (c *Processor) postState(batch *ledger.Batch) []ledger.Account {
	touched := batch.Touched()
	accounts := make([]ledger.Account, 0, len(touched))
	for _, addr := range touched {
		if acct, ok := c.accounts.Account(addr); ok {
			accounts = append(accounts, acct)
		}
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})
	return accounts
}
