package query

import (
	"TreasuryLedger/internal/address"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var ErrNotFound = errors.New("not found")

// QueryService provides read-only access to projection tables. Every
// response carries as_of_sequence, the processor sequence it reflects.
type QueryService struct {
	db      *sql.DB
	deriver *address.Deriver
}

func NewQueryService(db *sql.DB, deriver *address.Deriver) *QueryService {
	return &QueryService{db: db, deriver: deriver}
}

// GetTreasury returns the projected treasury record.
func (qs *QueryService) GetTreasury(ctx context.Context, addr solana.PublicKey) (*TreasuryResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	t := &TreasuryResponse{Address: addr.String(), AsOfSequence: asOfSeq}
	var bump int16
	err = qs.db.QueryRowContext(ctx, `
		SELECT authority, treasury_mint, pos_mint, treasury_vault, bump,
		       vault_balance::TEXT, receipt_supply::TEXT, created_seq
		FROM projections.treasuries
		WHERE address = $1
	`, addr.String()).Scan(
		&t.Authority, &t.TreasuryMint, &t.PosMint, &t.TreasuryVault, &bump,
		&t.VaultBalance, &t.ReceiptSupply, &t.CreatedSeq,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("treasury %s: %w", addr, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	t.Bump = uint8(bump)
	return t, nil
}

// GetBalance returns a token account's amount. With asOfSequence > 0 it
// returns the amount as of that processor sequence; an account untouched
// by then reads as zero.
func (qs *QueryService) GetBalance(ctx context.Context, account solana.PublicKey, asOfSequence int64) (*BalanceResponse, error) {
	if asOfSequence > 0 {
		return qs.balanceAt(ctx, account, asOfSequence)
	}

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	b := &BalanceResponse{Address: account.String(), AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT owner, mint, amount::TEXT
		FROM projections.balances
		WHERE address = $1
	`, account.String()).Scan(&b.Owner, &b.Mint, &b.Amount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", account, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (qs *QueryService) balanceAt(ctx context.Context, account solana.PublicKey, seq int64) (*BalanceResponse, error) {
	b := &BalanceResponse{Address: account.String(), Amount: "0", AsOfSequence: seq}
	err := qs.db.QueryRowContext(ctx, `
		SELECT amount::TEXT
		FROM projections.balance_history
		WHERE address = $1 AND sequence <= $2
		ORDER BY sequence DESC
		LIMIT 1
	`, account.String(), seq).Scan(&b.Amount)
	if errors.Is(err, sql.ErrNoRows) {
		return b, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetPosition returns the user's receipt balance in a treasury, zero when
// the user never staked.
func (qs *QueryService) GetPosition(ctx context.Context, treasury, user solana.PublicKey, asOfSequence int64) (*PositionResponse, error) {
	t, err := qs.GetTreasury(ctx, treasury)
	if err != nil {
		return nil, err
	}
	posMint, err := solana.PublicKeyFromBase58(t.PosMint)
	if err != nil {
		return nil, fmt.Errorf("projected pos mint %q: %w", t.PosMint, err)
	}
	userPos, err := qs.deriver.UserPosVault(posMint, user)
	if err != nil {
		return nil, err
	}

	pos := &PositionResponse{
		Treasury:     treasury.String(),
		User:         user.String(),
		UserPosVault: userPos.Address.String(),
		Amount:       "0",
		AsOfSequence: t.AsOfSequence,
	}
	b, err := qs.GetBalance(ctx, userPos.Address, asOfSequence)
	switch {
	case errors.Is(err, ErrNotFound):
		return pos, nil
	case err != nil:
		return nil, err
	}
	pos.Amount = b.Amount
	pos.AsOfSequence = b.AsOfSequence
	return pos, nil
}

// GetJournalHistory returns journal entries touching account, newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	account solana.PublicKey,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	query := `
		SELECT journal_id, batch_id, op_ref, sequence, instruction_seq,
		       debit_account, credit_account, COALESCE(mint, ''), amount::TEXT, journal_type, timestamp
		FROM ledger_log.journal
		WHERE (debit_account = $1 OR credit_account = $1)
	`
	args := []any{account.String()}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.OpRef, &e.Sequence, &e.InstructionSeq,
			&e.DebitAccount, &e.CreditAccount, &e.Mint, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the instruction log and
// that every projected treasury is fully backed.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT i1.sequence
		FROM ledger_log.instructions i1
		JOIN ledger_log.instructions i2 ON i2.sequence = i1.sequence - 1
		WHERE i1.prev_hash != i2.state_hash
		ORDER BY i1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	backingRows, err := qs.db.QueryContext(ctx, `
		SELECT address, vault_balance::TEXT, receipt_supply::TEXT
		FROM projections.treasuries
		WHERE vault_balance != receipt_supply
	`)
	if err != nil {
		return nil, err
	}
	defer backingRows.Close()

	for backingRows.Next() {
		var u UnbackedTreasury
		if err := backingRows.Scan(&u.Address, &u.VaultBalance, &u.ReceiptSupply); err != nil {
			return nil, err
		}
		report.UnbackedTreasuries = append(report.UnbackedTreasuries, u)
	}
	if err := backingRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbackedTreasuries) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE projection_name = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}
