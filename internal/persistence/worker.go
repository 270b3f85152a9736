package persistence

import (
	"TreasuryLedger/internal/core"
	"TreasuryLedger/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The processor sends on that channel with a blocking send, so if this
// worker falls behind the processor stalls and no instruction is lost.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *InstructionLogWriter
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	maxBackoff   time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger

	// Optional; receives outputs once they are durable
	forward chan<- core.CoreOutput
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &PersistenceWorker{
		db:           db,
		writer:       NewInstructionLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		maxBackoff:   30 * time.Second,
		metrics:      metrics,
		logger:       logger,
	}
}

// Forward makes the worker hand every durably written output to ch with a
// non-blocking send. Used by the outbound publisher.
func (pw *PersistenceWorker) Forward(ch chan<- core.CoreOutput) {
	pw.forward = ch
}

// Run starts the persistence worker loop. It batches incoming outputs
// and flushes either when the batch is full or the flush timeout expires.
// Blocks until ctx is cancelled or the input channel closes.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	instrBatch := make([]InstructionRow, 0, pw.batchSize)
	journalBatch := make([]JournalRow, 0, pw.batchSize*3)
	outputs := make([]core.CoreOutput, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	reset := func() {
		instrBatch = instrBatch[:0]
		journalBatch = journalBatch[:0]
		outputs = outputs[:0]
	}
	flushed := func(err error, msg string) {
		if err != nil {
			pw.logger.Error().Err(err).Msg(msg)
			return
		}
		pw.forwardAll(outputs)
	}

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			if len(instrBatch) > 0 {
				flushed(pw.flush(context.Background(), instrBatch, journalBatch), "final flush failed")
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if len(instrBatch) > 0 {
					flushed(pw.flush(context.Background(), instrBatch, journalBatch), "final flush failed")
				}
				return nil
			}

			instr, journals := ToRows(output)
			instrBatch = append(instrBatch, instr)
			journalBatch = append(journalBatch, journals...)
			outputs = append(outputs, output)

			if len(instrBatch) >= pw.batchSize {
				flushed(pw.flushWithRetry(ctx, instrBatch, journalBatch), "batch flush failed after retries")
				reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(instrBatch) > 0 {
				flushed(pw.flushWithRetry(ctx, instrBatch, journalBatch), "timeout flush failed after retries")
				reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled, in which case one last flush runs on a fresh context.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, instrs []InstructionRow, journals []JournalRow) error {
	backoff := 100 * time.Millisecond

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("instructions", len(instrs)).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := pw.flush(context.Background(), instrs, journals); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > pw.maxBackoff {
				backoff = pw.maxBackoff
			}
		}

		err := pw.flush(ctx, instrs, journals)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.logger.Warn().Err(err).Msg("persistence flush failed")
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, instrs []InstructionRow, journals []JournalRow) error {
	start := time.Now()

	// Instructions and journals commit in a single transaction
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteInstructionBatch(ctx, tx, instrs); err != nil {
		pw.countError("write_instructions")
		return err
	}

	if err := pw.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		pw.countError("write_journals")
		return err
	}

	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(instrs)))
		pw.metrics.PersistInstructionsWritten.Add(float64(len(instrs)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		pw.metrics.PersistLastSequence.Set(float64(instrs[len(instrs)-1].Sequence))
	}
	pw.logger.Debug().
		Int("instructions", len(instrs)).
		Int("journals", len(journals)).
		Int64("last_sequence", instrs[len(instrs)-1].Sequence).
		Msg("persisted batch")
	return nil
}

func (pw *PersistenceWorker) forwardAll(outputs []core.CoreOutput) {
	if pw.forward == nil {
		return
	}
	for _, out := range outputs {
		select {
		case pw.forward <- out:
		default:
			if pw.metrics != nil {
				pw.metrics.PublishDrops.Inc()
			}
		}
	}
}

func (pw *PersistenceWorker) countError(stage string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}
