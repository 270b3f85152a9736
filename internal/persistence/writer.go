package persistence

import (
	"TreasuryLedger/internal/core"
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// InstructionLogWriter writes applied instructions and their journals to
// Postgres using multi-row INSERTs. Writes are idempotent on sequence and
// journal id, so a retried batch is harmless.
type InstructionLogWriter struct {
	db *sql.DB
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// InstructionRow represents a row in ledger_log.instructions
type InstructionRow struct {
	Sequence        int64
	LedgerSequence  int64
	InstructionType string
	IdempotencyKey  string
	Treasury        string
	Signer          string
	Nonce           string // NUMERIC(20,0)
	Payload         []byte // JSON-encoded instruction
	StateHash       []byte
	PrevHash        []byte
	Timestamp       time.Time
}

// JournalRow represents a row in ledger_log.journal
type JournalRow struct {
	JournalID      string
	BatchID        string
	OpRef          string
	Sequence       int64
	InstructionSeq int64
	DebitAccount   string
	CreditAccount  string
	Mint           *string
	Amount         string // NUMERIC(20,0); uint64 does not fit BIGINT
	JournalType    string
	Timestamp      int64
}

func NewInstructionLogWriter(db *sql.DB) *InstructionLogWriter {
	return &InstructionLogWriter{db: db}
}

// ToRows flattens one processor output into log rows.
func ToRows(out core.CoreOutput) (InstructionRow, []JournalRow) {
	env := out.Envelope
	payload := env.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	instr := InstructionRow{
		Sequence:        env.Sequence,
		LedgerSequence:  env.LedgerSequence,
		InstructionType: env.InstructionType.String(),
		IdempotencyKey:  env.IdempotencyKey,
		Treasury:        env.Treasury.String(),
		Signer:          env.Signer.String(),
		Nonce:           strconv.FormatUint(env.Nonce, 10),
		Payload:         payload,
		StateHash:       env.StateHash[:],
		PrevHash:        env.PrevHash[:],
		Timestamp:       env.Timestamp,
	}

	if out.Batch == nil {
		return instr, nil
	}
	journals := make([]JournalRow, 0, len(out.Batch.Journals))
	for _, j := range out.Batch.Journals {
		var mint *string
		if !j.Mint.IsZero() {
			s := j.Mint.String()
			mint = &s
		}
		journals = append(journals, JournalRow{
			JournalID:      j.JournalID.String(),
			BatchID:        j.BatchID.String(),
			OpRef:          j.OpRef,
			Sequence:       j.Sequence,
			InstructionSeq: env.Sequence,
			DebitAccount:   j.DebitAccount.String(),
			CreditAccount:  j.CreditAccount.String(),
			Mint:           mint,
			Amount:         strconv.FormatUint(j.Amount, 10),
			JournalType:    j.JournalType.String(),
			Timestamp:      j.Timestamp,
		})
	}
	return instr, journals
}

// WriteInstructionBatch writes a batch of rows to ledger_log.instructions.
func (w *InstructionLogWriter) WriteInstructionBatch(ctx context.Context, ex execer, rows []InstructionRow) error {
	if len(rows) == 0 {
		return nil
	}

	const cols = 11
	query := `INSERT INTO ledger_log.instructions
		(sequence, ledger_sequence, instruction_type, idempotency_key, treasury, signer, nonce, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*cols)

	for i, r := range rows {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			r.Sequence, r.LedgerSequence, r.InstructionType, r.IdempotencyKey,
			r.Treasury, r.Signer, r.Nonce, r.Payload, r.StateHash, r.PrevHash, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to ledger_log.journal.
func (w *InstructionLogWriter) WriteJournalBatch(ctx context.Context, ex execer, rows []JournalRow) error {
	if len(rows) == 0 {
		return nil
	}

	const cols = 11
	query := `INSERT INTO ledger_log.journal
		(journal_id, batch_id, op_ref, sequence, instruction_seq, debit_account, credit_account, mint, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*cols)

	for i, j := range rows {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.JournalID, j.BatchID, j.OpRef, j.Sequence, j.InstructionSeq,
			j.DebitAccount, j.CreditAccount, j.Mint, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for k := 1; k <= n; k++ {
		if k > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+k)
	}
	b.WriteByte(')')
	return b.String()
}
