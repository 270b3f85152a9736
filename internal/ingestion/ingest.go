package ingestion

import (
	"TreasuryLedger/internal/core"
	"TreasuryLedger/internal/event"
	"TreasuryLedger/internal/observability"
	"TreasuryLedger/internal/treasury"
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Submitter is the processor's submission surface.
type Submitter interface {
	Submit(ctx context.Context, instr event.Instruction) (*core.Result, error)
}

// IngestService parses wire payloads and submits them. The gRPC and HTTP
// surfaces and the NATS dispatcher share it.
type IngestService struct {
	submitter Submitter
}

func NewIngestService(submitter Submitter) *IngestService {
	return &IngestService{submitter: submitter}
}

func (s *IngestService) CreateTreasury(ctx context.Context, req *CreateTreasuryJSON) (*core.Result, error) {
	in, err := req.ToInstruction()
	if err != nil {
		return nil, err
	}
	return s.submitter.Submit(ctx, in)
}

func (s *IngestService) Stake(ctx context.Context, req *PositionJSON) (*core.Result, error) {
	in, err := req.ToStake()
	if err != nil {
		return nil, err
	}
	return s.submitter.Submit(ctx, in)
}

func (s *IngestService) Redeem(ctx context.Context, req *PositionJSON) (*core.Result, error) {
	in, err := req.ToRedeem()
	if err != nil {
		return nil, err
	}
	return s.submitter.Submit(ctx, in)
}

// Submit parses raw bytes of the given instruction type and submits them.
func (s *IngestService) Submit(ctx context.Context, instructionType string, data []byte) (*core.Result, error) {
	in, err := ParseInstruction(instructionType, data)
	if err != nil {
		return nil, err
	}
	return s.submitter.Submit(ctx, in)
}

// Outcome labels for ingestion metrics.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeMalformed = "malformed"
	OutcomeRetry     = "retry"
)

// Classify decides how a message is acknowledged after submission.
// Program rejections are terminal except AccountInUse, which is contention.
func Classify(res *core.Result, err error) string {
	switch {
	case err == nil && res != nil && res.Duplicate:
		return OutcomeDuplicate
	case err == nil:
		return OutcomeApplied
	case errors.Is(err, ErrMalformed):
		return OutcomeMalformed
	case errors.Is(err, treasury.ErrAccountInUse):
		return OutcomeRetry
	case errors.Is(err, core.ErrStaleNonce), errors.Is(err, core.ErrUnknownInstruction):
		return OutcomeRejected
	}
	if _, ok := treasury.CodeOf(err); ok {
		return OutcomeRejected
	}
	return OutcomeRetry
}

// Dispatcher drains raw NATS messages into the processor.
type Dispatcher struct {
	ingest  *IngestService
	rawChan <-chan RawInstruction
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewDispatcher(ingest *IngestService, rawChan <-chan RawInstruction, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		ingest:  ingest,
		rawChan: rawChan,
		metrics: metrics,
		logger:  logger,
	}
}

// Run blocks until ctx is cancelled or the raw channel closes.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-d.rawChan:
			if !ok {
				return nil
			}
			d.handle(ctx, raw)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, raw RawInstruction) {
	res, err := d.ingest.Submit(ctx, raw.InstructionType, raw.Data)
	outcome := Classify(res, err)
	if ctx.Err() != nil {
		outcome = OutcomeRetry
	}

	switch outcome {
	case OutcomeMalformed:
		d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed instruction")
		call(raw.TermFunc)
	case OutcomeRetry:
		d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("instruction will be redelivered")
		call(raw.NakFunc)
	case OutcomeRejected:
		d.logger.Info().Err(err).Str("subject", raw.Subject).Msg("instruction rejected")
		call(raw.AckFunc)
	default:
		call(raw.AckFunc)
	}

	if d.metrics != nil {
		d.metrics.IngestMessages.WithLabelValues(raw.Subject, outcome).Inc()
	}
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}
