package core

import (
	"TreasuryLedger/internal/observability"
	"container/list"
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// IdempotencyChecker implements two-tier deduplication. The LRU remembers
// the result of each applied instruction so a resubmission can be answered
// without re-executing it.
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	metrics *observability.Metrics
	logger  zerolog.Logger
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(ctx context.Context, instructionType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics, logger zerolog.Logger) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
		logger:    logger,
	}
}

// Lookup reports whether the instruction was already applied. The cached
// result is nil when the hit came from Postgres or a warmed key.
func (ic *IdempotencyChecker) Lookup(ctx context.Context, instructionType, idempotencyKey string) (*Result, bool) {
	compositeKey := compositeKey(instructionType, idempotencyKey)

	if res, ok := ic.lru.Get(compositeKey); ok {
		ic.recordDuplicate(instructionType, "lru")
		return res, true
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(ctx, instructionType, idempotencyKey)
		if err != nil {
			// A Postgres outage must not stall the processor; the ledger
			// still rejects double allocation.
			ic.logger.Warn().Err(err).Str("key", idempotencyKey).Msg("tier-2 idempotency lookup failed")
			return nil, false
		}
		if isDup {
			ic.recordDuplicate(instructionType, "postgres")
			ic.lru.Add(compositeKey, nil)
			return nil, true
		}
	}
	return nil, false
}

// MarkProcessed remembers the result after successful processing
func (ic *IdempotencyChecker) MarkProcessed(instructionType, idempotencyKey string, res *Result) {
	before := ic.lru.Evictions()
	ic.lru.Add(compositeKey(instructionType, idempotencyKey), res)
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
		if n := ic.lru.Evictions() - before; n > 0 {
			ic.metrics.DedupLRUEvictions.Add(float64(n))
		}
	}
}

// Warm loads recently applied keys, typically from Postgres on startup.
func (ic *IdempotencyChecker) Warm(keys []string) {
	ic.lru.WarmFromKeys(keys)
}

func (ic *IdempotencyChecker) recordDuplicate(instructionType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(instructionType, tier).Inc()
	}
}

func compositeKey(instructionType, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s", instructionType, idempotencyKey)
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache of applied instruction results.
// Not thread-safe; only the processor loop touches it.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key    string
	result *Result
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

// Get returns the stored result and promotes the key
func (lru *IdempotencyLRU) Get(key string) (*Result, bool) {
	elem, exists := lru.cache[key]
	if !exists {
		return nil, false
	}
	lru.lruList.MoveToFront(elem)
	return elem.Value.(*lruEntry).result, true
}

// Add inserts a key (or promotes and updates it if present)
func (lru *IdempotencyLRU) Add(key string, result *Result) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		if result != nil {
			elem.Value.(*lruEntry).result = result
		}
		return
	}

	elem := lru.lruList.PushFront(&lruEntry{key: key, result: result})
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		delete(lru.cache, elem.Value.(*lruEntry).key)
		lru.evictions++
	}
}

// WarmFromKeys loads composite keys without results.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		if _, exists := lru.cache[key]; exists {
			continue
		}
		lru.Add(key, nil)
	}
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions (for metrics)
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
