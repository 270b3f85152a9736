package ledger

import (
	fpmath "TreasuryLedger/internal/math"
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// BalanceTracker holds the committed account set in memory.
type BalanceTracker struct {
	mu       sync.RWMutex
	accounts map[solana.PublicKey]Account
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		accounts: make(map[solana.PublicKey]Account),
	}
}

// Get returns a copy of the committed account.
func (bt *BalanceTracker) Get(addr solana.PublicKey) (Account, bool) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	a, ok := bt.accounts[addr]
	if !ok {
		return Account{}, false
	}
	return a.clone(), true
}

// Install overwrites the given accounts. Callers must hold the account locks.
func (bt *BalanceTracker) Install(accounts []Account) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	for _, a := range accounts {
		bt.accounts[a.Address] = a.clone()
	}
}

// ComputeMintTotals sums token balances per mint.
func (bt *BalanceTracker) ComputeMintTotals() (map[solana.PublicKey]uint64, error) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	totals := make(map[solana.PublicKey]uint64)
	for _, a := range bt.accounts {
		if a.Kind != KindToken {
			continue
		}
		sum, ok := fpmath.CheckedAdd(totals[a.Mint], a.Amount)
		if !ok {
			return nil, fmt.Errorf("%w: total for mint %s", ErrOverflow, a.Mint)
		}
		totals[a.Mint] = sum
	}
	return totals, nil
}

// Mints returns every mint account.
func (bt *BalanceTracker) Mints() []Account {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	var out []Account
	for _, a := range bt.accounts {
		if a.Kind == KindMint {
			out = append(out, a.clone())
		}
	}
	return out
}

// Snapshot returns a copy of all accounts ordered by address.
func (bt *BalanceTracker) Snapshot() []Account {
	bt.mu.RLock()
	out := make([]Account, 0, len(bt.accounts))
	for _, a := range bt.accounts {
		out = append(out, a.clone())
	}
	bt.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out
}

// stage is a copy-on-write overlay over committed accounts.
type stage struct {
	base  func(solana.PublicKey) (Account, bool)
	dirty map[solana.PublicKey]*Account
	order []solana.PublicKey
}

func newStage(base func(solana.PublicKey) (Account, bool)) *stage {
	return &stage{
		base:  base,
		dirty: make(map[solana.PublicKey]*Account),
	}
}

func (s *stage) get(addr solana.PublicKey) (*Account, bool) {
	if a, ok := s.dirty[addr]; ok {
		return a, true
	}
	a, ok := s.base(addr)
	if !ok {
		return nil, false
	}
	s.dirty[addr] = &a
	s.order = append(s.order, addr)
	return &a, true
}

func (s *stage) put(a Account) {
	if _, ok := s.dirty[a.Address]; !ok {
		s.order = append(s.order, a.Address)
	}
	s.dirty[a.Address] = &a
}

func (s *stage) dirtyAccounts() []Account {
	out := make([]Account, 0, len(s.order))
	for _, addr := range s.order {
		out = append(out, *s.dirty[addr])
	}
	return out
}

// applyJournal moves one journal's amount through the staged accounts using
// checked arithmetic. Neither side is modified when the entry fails.
func applyJournal(s *stage, j Journal) error {
	switch j.JournalType {
	case JournalTypeTransfer:
		from, err := stagedToken(s, j.CreditAccount, j.Mint)
		if err != nil {
			return err
		}
		to, err := stagedToken(s, j.DebitAccount, j.Mint)
		if err != nil {
			return err
		}
		fromAmt, ok := fpmath.CheckedSub(from.Amount, j.Amount)
		if !ok {
			return fmt.Errorf("%w: %s has %d, need %d", ErrInsufficientFunds, from.Address, from.Amount, j.Amount)
		}
		toAmt, ok := fpmath.CheckedAdd(to.Amount, j.Amount)
		if !ok {
			return fmt.Errorf("%w: balance of %s", ErrOverflow, to.Address)
		}
		from.Amount, to.Amount = fromAmt, toAmt

	case JournalTypeMintTo:
		mint, err := stagedMint(s, j.CreditAccount)
		if err != nil {
			return err
		}
		to, err := stagedToken(s, j.DebitAccount, mint.Address)
		if err != nil {
			return err
		}
		supply, ok := fpmath.CheckedAdd(mint.Supply, j.Amount)
		if !ok {
			return fmt.Errorf("%w: supply of %s", ErrOverflow, mint.Address)
		}
		toAmt, ok := fpmath.CheckedAdd(to.Amount, j.Amount)
		if !ok {
			return fmt.Errorf("%w: balance of %s", ErrOverflow, to.Address)
		}
		mint.Supply, to.Amount = supply, toAmt

	case JournalTypeBurn:
		mint, err := stagedMint(s, j.DebitAccount)
		if err != nil {
			return err
		}
		from, err := stagedToken(s, j.CreditAccount, mint.Address)
		if err != nil {
			return err
		}
		fromAmt, ok := fpmath.CheckedSub(from.Amount, j.Amount)
		if !ok {
			return fmt.Errorf("%w: %s has %d, need %d", ErrInsufficientFunds, from.Address, from.Amount, j.Amount)
		}
		supply, ok := fpmath.CheckedSub(mint.Supply, j.Amount)
		if !ok {
			return fmt.Errorf("%w: supply of %s below burn amount", ErrOverflow, mint.Address)
		}
		from.Amount, mint.Supply = fromAmt, supply

	case JournalTypeRent:
		payer, ok := s.get(j.CreditAccount)
		if !ok {
			return fmt.Errorf("%w: payer %s", ErrAccountNotFound, j.CreditAccount)
		}
		acct, ok := s.get(j.DebitAccount)
		if !ok {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, j.DebitAccount)
		}
		left, ok := fpmath.CheckedSub(payer.Lamports, j.Amount)
		if !ok {
			return fmt.Errorf("%w: payer %s has %d, need %d", ErrInsufficientLamports, payer.Address, payer.Lamports, j.Amount)
		}
		funded, ok := fpmath.CheckedAdd(acct.Lamports, j.Amount)
		if !ok {
			return fmt.Errorf("%w: lamports of %s", ErrOverflow, acct.Address)
		}
		payer.Lamports, acct.Lamports = left, funded

	case JournalTypeAirdrop:
		acct, ok := s.get(j.DebitAccount)
		if !ok {
			s.put(Account{Address: j.DebitAccount, Kind: KindSystem, Owner: SystemProgramID})
			acct, _ = s.get(j.DebitAccount)
		}
		funded, ok := fpmath.CheckedAdd(acct.Lamports, j.Amount)
		if !ok {
			return fmt.Errorf("%w: lamports of %s", ErrOverflow, acct.Address)
		}
		acct.Lamports = funded

	default:
		return fmt.Errorf("unknown journal type %d", j.JournalType)
	}
	return nil
}

func stagedToken(s *stage, addr, mint solana.PublicKey) (*Account, error) {
	a, ok := s.get(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	if a.Kind != KindToken {
		return nil, fmt.Errorf("%w: %s", ErrNotTokenAccount, addr)
	}
	if !a.Mint.Equals(mint) {
		return nil, fmt.Errorf("%w: %s holds %s, not %s", ErrMintMismatch, addr, a.Mint, mint)
	}
	return a, nil
}

func stagedMint(s *stage, addr solana.PublicKey) (*Account, error) {
	a, ok := s.get(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	if a.Kind != KindMint {
		return nil, fmt.Errorf("%w: %s", ErrNotMint, addr)
	}
	return a, nil
}
