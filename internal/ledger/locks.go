package ledger

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// lockTable grants exclusive per-account locks. Accounts are always taken
// in address order so two transactions can never wait on each other.
type lockTable struct {
	mu   sync.Mutex
	held map[solana.PublicKey]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{held: make(map[solana.PublicKey]chan struct{})}
}

// acquire blocks until every account is locked or ctx ends. On failure no
// lock is left held.
func (lt *lockTable) acquire(ctx context.Context, addrs []solana.PublicKey) (func(), error) {
	keys := sortedUnique(addrs)
	taken := make([]solana.PublicKey, 0, len(keys))

	release := func() {
		lt.mu.Lock()
		for _, k := range taken {
			close(lt.held[k])
			delete(lt.held, k)
		}
		lt.mu.Unlock()
	}

	for _, k := range keys {
		for {
			lt.mu.Lock()
			busy, ok := lt.held[k]
			if !ok {
				lt.held[k] = make(chan struct{})
				lt.mu.Unlock()
				taken = append(taken, k)
				break
			}
			lt.mu.Unlock()

			select {
			case <-busy:
			case <-ctx.Done():
				release()
				return nil, fmt.Errorf("%w: %s: %v", ErrAccountInUse, k, ctx.Err())
			}
		}
	}
	return release, nil
}

func sortedUnique(addrs []solana.PublicKey) []solana.PublicKey {
	out := append([]solana.PublicKey(nil), addrs...)
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	n := 0
	for i, a := range out {
		if i > 0 && a == out[n-1] {
			continue
		}
		out[n] = a
		n++
	}
	return out[:n]
}
