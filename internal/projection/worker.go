package projection

import (
	"TreasuryLedger/internal/core"
	"TreasuryLedger/internal/ledger"
	"TreasuryLedger/internal/treasury"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
)

const watermarkName = "main"

// ProjectionWorker updates projection tables from applied instructions.
// The projection channel is non-blocking with drop; a lagging projection
// is rebuilt from a ledger snapshot with Rebuild.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	lastSeq   int64
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		logger:    logger,
	}
}

// LastSequence is the last processor sequence this worker applied.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			seq := output.Envelope.Sequence
			if err := pw.Apply(ctx, output); err != nil {
				// Projections are eventually consistent and can be rebuilt
				pw.logger.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
				continue
			}
			pw.lastSeq = seq
		}
	}
}

// Apply projects one output in a single transaction.
func (pw *ProjectionWorker) Apply(ctx context.Context, output core.CoreOutput) error {
	seq := output.Envelope.Sequence
	at := output.Envelope.Timestamp

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, acct := range output.Accounts {
		if acct.Kind != ledger.KindToken {
			continue
		}
		if err := upsertBalance(ctx, tx, acct, seq, at); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	for _, ev := range output.Events {
		if err := applyEvent(ctx, tx, ev, output.Treasury, seq); err != nil {
			return fmt.Errorf("treasury projection: %w", err)
		}
	}

	if err := setWatermark(ctx, tx, seq); err != nil {
		return err
	}
	return tx.Commit()
}

// upsertBalance writes absolute post-state, so replaying an output is a
// no-op and out-of-order writes never regress a balance.
func upsertBalance(ctx context.Context, tx *sql.Tx, acct ledger.Account, seq int64, at time.Time) error {
	amount := strconv.FormatUint(acct.Amount, 10)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (address, owner, mint, amount, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address) DO UPDATE
			SET amount = EXCLUDED.amount,
			    last_sequence = EXCLUDED.last_sequence,
			    updated_at = EXCLUDED.updated_at
			WHERE projections.balances.last_sequence < EXCLUDED.last_sequence
	`, acct.Address.String(), acct.Owner.String(), acct.Mint.String(), amount, seq, at); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balance_history (address, sequence, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (address, sequence) DO NOTHING
	`, acct.Address.String(), seq, amount)
	return err
}

func applyEvent(ctx context.Context, tx *sql.Tx, ev treasury.Event, t *treasury.Treasury, seq int64) error {
	switch e := ev.(type) {
	case *treasury.TreasuryCreated:
		if t == nil {
			return fmt.Errorf("TreasuryCreated at %d without a record", seq)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.treasuries
				(address, authority, treasury_mint, pos_mint, treasury_vault, bump, created_seq, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			ON CONFLICT (address) DO NOTHING
		`, t.Address.String(), t.Authority.String(), t.TreasuryMint.String(),
			t.PosMint.String(), t.TreasuryVault.String(), int16(t.Bump), seq)
		return err
	case *treasury.Deposited:
		return setTotals(ctx, tx, e.Treasury, e.VaultBalance, e.ReceiptSupply, seq)
	case *treasury.Claimed:
		return setTotals(ctx, tx, e.Treasury, e.VaultBalance, e.ReceiptSupply, seq)
	}
	return nil
}

func setTotals(ctx context.Context, tx *sql.Tx, addr solana.PublicKey, vault, supply uint64, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE projections.treasuries
		SET vault_balance = $2, receipt_supply = $3, last_sequence = $4
		WHERE address = $1 AND last_sequence <= $4
	`, addr.String(), strconv.FormatUint(vault, 10), strconv.FormatUint(supply, 10), seq)
	return err
}

func setWatermark(ctx context.Context, tx *sql.Tx, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection_name, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection_name) DO UPDATE
			SET last_sequence = GREATEST(projections.watermark.last_sequence, EXCLUDED.last_sequence),
			    updated_at = NOW()
	`, watermarkName, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}

// Watermark returns the last projected sequence, 0 when nothing was projected.
func Watermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE projection_name = $1`, watermarkName,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}
