package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
)

const DefaultTxTimeout = 2 * time.Second

// Store persists committed batches together with the resulting account
// states. Commit must be all-or-nothing.
type Store interface {
	Commit(batch *Batch, accounts []Account) error
}

// Ledger is the shared asset ledger: wallets, mints, token accounts and
// program data, mutated only through atomic transactions.
type Ledger struct {
	tracker   *BalanceTracker
	validator *InvariantValidator
	locks     *lockTable
	store     Store
	logger    zerolog.Logger

	txTimeout time.Duration
	now       func() time.Time

	commitMu sync.Mutex
	sequence int64
}

type Option func(*Ledger)

// WithStore makes every commit durable before it becomes visible.
func WithStore(s Store) Option {
	return func(l *Ledger) { l.store = s }
}

// WithTxTimeout bounds how long a transaction waits for its account locks.
func WithTxTimeout(d time.Duration) Option {
	return func(l *Ledger) { l.txTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func New(opts ...Option) *Ledger {
	tracker := NewBalanceTracker()
	l := &Ledger{
		tracker:   tracker,
		validator: NewInvariantValidator(tracker),
		locks:     newLockTable(),
		logger:    zerolog.Nop(),
		txTimeout: DefaultTxTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Execute runs fn against a staged view of the declared accounts and
// commits every change it made, or none of them. The returned batch carries
// the assigned sequence.
func (l *Ledger) Execute(ctx context.Context, ref string, access AccessSet, fn func(tx *Tx) error) (*Batch, error) {
	lockCtx, cancel := context.WithTimeout(ctx, l.txTimeout)
	defer cancel()

	release, err := l.locks.acquire(lockCtx, access.all())
	if err != nil {
		return nil, err
	}
	defer release()

	tx := newTx(l.tracker, ref, l.now().UnixMicro(), access)
	if err := fn(tx); err != nil {
		return nil, err
	}
	if len(tx.journals) == 0 {
		return nil, ErrEmptyTransaction
	}

	var accounts []Account
	for _, a := range tx.stage.dirtyAccounts() {
		if tx.writable[a.Address] {
			accounts = append(accounts, a)
		}
	}

	l.commitMu.Lock()
	defer l.commitMu.Unlock()

	seq := l.sequence + 1
	batch := &Batch{
		BatchID:     tx.batchID,
		OpRef:       ref,
		Sequence:    seq,
		Timestamp:   tx.timestamp,
		Journals:    tx.journals,
		Attestation: tx.attested,
	}
	for i := range batch.Journals {
		batch.Journals[i].Sequence = seq
	}
	if err := l.validator.ValidateBatchBalance(batch); err != nil {
		return nil, err
	}

	if l.store != nil {
		if err := l.store.Commit(batch, accounts); err != nil {
			return nil, fmt.Errorf("%w: batch %d: %v", ErrCommitFailed, seq, err)
		}
	}
	l.tracker.Install(accounts)
	l.sequence = seq

	l.logger.Debug().
		Int64("sequence", seq).
		Str("op_ref", ref).
		Int("journals", len(batch.Journals)).
		Msg("batch committed")
	return batch, nil
}

// Restore seeds an empty ledger from durable state and re-checks supply.
func (l *Ledger) Restore(accounts []Account, sequence int64) error {
	l.commitMu.Lock()
	defer l.commitMu.Unlock()
	if l.sequence != 0 {
		return fmt.Errorf("restore into a ledger at sequence %d", l.sequence)
	}
	l.tracker.Install(accounts)
	l.sequence = sequence
	return l.validator.ValidateMintSupply()
}

func (l *Ledger) Sequence() int64 {
	l.commitMu.Lock()
	defer l.commitMu.Unlock()
	return l.sequence
}

func (l *Ledger) Account(addr solana.PublicKey) (Account, bool) {
	return l.tracker.Get(addr)
}

// Balance returns the amount held by a token account.
func (l *Ledger) Balance(addr solana.PublicKey) (uint64, error) {
	a, ok := l.tracker.Get(addr)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	if a.Kind != KindToken {
		return 0, fmt.Errorf("%w: %s", ErrNotTokenAccount, addr)
	}
	return a.Amount, nil
}

func (l *Ledger) Supply(mint solana.PublicKey) (uint64, error) {
	a, ok := l.tracker.Get(mint)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, mint)
	}
	if a.Kind != KindMint {
		return 0, fmt.Errorf("%w: %s", ErrNotMint, mint)
	}
	return a.Supply, nil
}

func (l *Ledger) Lamports(addr solana.PublicKey) uint64 {
	a, _ := l.tracker.Get(addr)
	return a.Lamports
}

func (l *Ledger) Snapshot() []Account {
	return l.tracker.Snapshot()
}

func (l *Ledger) Validator() *InvariantValidator {
	return l.validator
}

// ============================================================================
// Client operations. These act for wallet keys only; program-derived
// authorities are reachable solely through Execute.
// ============================================================================

func (l *Ledger) Airdrop(ctx context.Context, to solana.PublicKey, lamports uint64) error {
	_, err := l.Execute(ctx, "airdrop", AccessSet{Writable: []solana.PublicKey{to}}, func(tx *Tx) error {
		return tx.Airdrop(to, lamports)
	})
	return err
}

// CreateMint allocates a mint at a fresh address and returns it.
func (l *Ledger) CreateMint(ctx context.Context, payer solana.PublicKey, decimals uint8, authority solana.PublicKey) (solana.PublicKey, error) {
	addr, err := newAccountAddress()
	if err != nil {
		return solana.PublicKey{}, err
	}
	access := AccessSet{
		Writable: []solana.PublicKey{payer, addr},
		Signers:  []solana.PublicKey{payer},
	}
	_, err = l.Execute(ctx, "create_mint", access, func(tx *Tx) error {
		return tx.CreateMint(payer, addr, decimals, authority)
	})
	if err != nil {
		return solana.PublicKey{}, err
	}
	return addr, nil
}

// CreateTokenAccount allocates an empty token account and returns its handle.
func (l *Ledger) CreateTokenAccount(ctx context.Context, payer, mint, owner solana.PublicKey) (solana.PublicKey, error) {
	addr, err := newAccountAddress()
	if err != nil {
		return solana.PublicKey{}, err
	}
	access := AccessSet{
		Writable: []solana.PublicKey{payer, addr},
		Readonly: []solana.PublicKey{mint},
		Signers:  []solana.PublicKey{payer},
	}
	_, err = l.Execute(ctx, "create_token_account", access, func(tx *Tx) error {
		return tx.CreateTokenAccount(payer, addr, mint, owner)
	})
	if err != nil {
		return solana.PublicKey{}, err
	}
	return addr, nil
}

func (l *Ledger) MintTo(ctx context.Context, mint, to solana.PublicKey, amount uint64, authority solana.PublicKey) error {
	if err := walletAuthority(authority); err != nil {
		return err
	}
	access := AccessSet{
		Writable: []solana.PublicKey{mint, to},
		Signers:  []solana.PublicKey{authority},
	}
	_, err := l.Execute(ctx, "mint_to", access, func(tx *Tx) error {
		return tx.MintTo(mint, to, amount, authority)
	})
	return err
}

func (l *Ledger) Transfer(ctx context.Context, from, to solana.PublicKey, amount uint64, authority solana.PublicKey) error {
	if err := walletAuthority(authority); err != nil {
		return err
	}
	access := AccessSet{
		Writable: []solana.PublicKey{from, to},
		Signers:  []solana.PublicKey{authority},
	}
	_, err := l.Execute(ctx, "transfer", access, func(tx *Tx) error {
		return tx.Transfer(from, to, amount, authority)
	})
	return err
}

func (l *Ledger) Burn(ctx context.Context, mint, from solana.PublicKey, amount uint64, authority solana.PublicKey) error {
	if err := walletAuthority(authority); err != nil {
		return err
	}
	access := AccessSet{
		Writable: []solana.PublicKey{mint, from},
		Signers:  []solana.PublicKey{authority},
	}
	_, err := l.Execute(ctx, "burn", access, func(tx *Tx) error {
		return tx.Burn(mint, from, amount, authority)
	})
	return err
}

func walletAuthority(k solana.PublicKey) error {
	if !k.IsOnCurve() {
		return fmt.Errorf("%w: %s", ErrProgramAuthority, k)
	}
	return nil
}

func newAccountAddress() (solana.PublicKey, error) {
	k, err := solana.NewRandomPrivateKey()
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("generate account address: %w", err)
	}
	return k.PublicKey(), nil
}
