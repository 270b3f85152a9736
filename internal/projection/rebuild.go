package projection

import (
	"TreasuryLedger/internal/ledger"
	"TreasuryLedger/internal/treasury"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
)

// Rebuild replaces every projection table with the state of a ledger
// snapshot taken at processor sequence seq. Dev faucet operations never
// reach the instruction log, so the snapshot is the only complete source.
// Balance history before seq is kept.
func Rebuild(ctx context.Context, db *sql.DB, programID solana.PublicKey, accounts []ledger.Account, seq int64, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.treasuries`,
		`DELETE FROM projections.watermark WHERE projection_name = 'main'`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	now := time.Now().UTC()
	byAddr := make(map[solana.PublicKey]ledger.Account, len(accounts))
	for _, acct := range accounts {
		byAddr[acct.Address] = acct
	}

	var balances, treasuries int
	for _, acct := range accounts {
		switch {
		case acct.Kind == ledger.KindToken:
			if err := upsertBalance(ctx, tx, acct, seq, now); err != nil {
				return fmt.Errorf("rebuild balance %s: %w", acct.Address, err)
			}
			balances++
		case acct.Kind == ledger.KindData && acct.Owner.Equals(programID):
			var t treasury.Treasury
			if err := t.UnmarshalBinary(acct.Data); err != nil {
				return fmt.Errorf("decode treasury %s: %w", acct.Address, err)
			}
			t.Address = acct.Address
			if err := applyEvent(ctx, tx, &treasury.TreasuryCreated{Treasury: t.Address}, &t, seq); err != nil {
				return err
			}
			vault := byAddr[t.TreasuryVault].Amount
			supply := byAddr[t.PosMint].Supply
			if err := setTotals(ctx, tx, t.Address, vault, supply, seq); err != nil {
				return err
			}
			treasuries++
		}
	}

	if err := setWatermark(ctx, tx, seq); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logger.Info().
		Int("balances", balances).
		Int("treasuries", treasuries).
		Int64("sequence", seq).
		Msg("projection rebuild complete")
	return nil
}
