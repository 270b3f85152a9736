package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/gagliardetto/solana-go"
)

// Checkpoint is what the processor needs to resume after a restart: the
// hash chain tip, per-signer nonces and recent idempotency keys for LRU
// warming.
type Checkpoint struct {
	Sequence        int64
	LedgerSequence  int64
	StateHash       [32]byte
	Nonces          map[solana.PublicKey]uint64
	IdempotencyKeys []string
}

// RecoveryReader rebuilds a Checkpoint from the instruction log.
type RecoveryReader struct {
	db *sql.DB
}

func NewRecoveryReader(db *sql.DB) *RecoveryReader {
	return &RecoveryReader{db: db}
}

// LoadCheckpoint returns found=false when the log is empty.
func (r *RecoveryReader) LoadCheckpoint(ctx context.Context, warmKeys int) (*Checkpoint, bool, error) {
	cp := &Checkpoint{Nonces: make(map[solana.PublicKey]uint64)}

	var stateHash []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT sequence, ledger_sequence, state_hash
		FROM ledger_log.instructions
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&cp.Sequence, &cp.LedgerSequence, &stateHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load chain tip: %w", err)
	}
	if len(stateHash) != len(cp.StateHash) {
		return nil, false, fmt.Errorf("chain tip at %d has %d-byte state hash", cp.Sequence, len(stateHash))
	}
	copy(cp.StateHash[:], stateHash)

	if err := r.loadNonces(ctx, cp); err != nil {
		return nil, false, err
	}
	if err := r.loadKeys(ctx, cp, warmKeys); err != nil {
		return nil, false, err
	}
	return cp, true, nil
}

func (r *RecoveryReader) loadNonces(ctx context.Context, cp *Checkpoint) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT signer, MAX(nonce)::TEXT
		FROM ledger_log.instructions
		GROUP BY signer
	`)
	if err != nil {
		return fmt.Errorf("load signer nonces: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var signer, nonce string
		if err := rows.Scan(&signer, &nonce); err != nil {
			return err
		}
		key, err := solana.PublicKeyFromBase58(signer)
		if err != nil {
			return fmt.Errorf("signer %q: %w", signer, err)
		}
		n, err := strconv.ParseUint(nonce, 10, 64)
		if err != nil {
			return fmt.Errorf("nonce for %s: %w", signer, err)
		}
		cp.Nonces[key] = n
	}
	return rows.Err()
}

// loadKeys returns composite "type:key" entries oldest first, so warming
// leaves the newest keys most recently used.
func (r *RecoveryReader) loadKeys(ctx context.Context, cp *Checkpoint, limit int) error {
	if limit <= 0 {
		return nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT instruction_type || ':' || idempotency_key
		FROM ledger_log.instructions
		ORDER BY sequence DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return fmt.Errorf("load idempotency keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return err
		}
		cp.IdempotencyKeys = append(cp.IdempotencyKeys, key)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	slices.Reverse(cp.IdempotencyKeys)
	return nil
}
