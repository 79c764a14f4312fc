package engine

import (
	"context"
	"log"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultMaxRelated caps how many related memories one activation
	// can touch.
	DefaultMaxRelated = 5

	// DefaultBoostIncrement is the attention added to each related
	// memory.
	DefaultBoostIncrement = 0.35

	// relatedCacheSize and relatedCacheTTL bound the cache in front of
	// the related-memory lookup. Relations change rarely within a turn,
	// so a short TTL removes repeated reads without staleness risk.
	relatedCacheSize = 100
	relatedCacheTTL  = 30 * time.Second
)

// RelatedSource provides the related-memory links spreading activation
// follows.
type RelatedSource interface {
	RelatedIDs(ctx context.Context, id int64, limit int) ([]int64, error)
}

// BoostResult reports one related memory touched by a spread.
type BoostResult struct {
	MemoryID int64   `json:"memory_id"`
	NewScore float64 `json:"new_score"`
}

// CoActivator spreads activation from a mentioned memory to its related
// memories.
type CoActivator struct {
	attention  *AttentionStore
	related    RelatedSource
	cache      *expirable.LRU[int64, []int64]
	maxRelated int
	boost      float64
}

// NewCoActivator wires a co-activator. Non-positive limits fall back to
// the defaults.
func NewCoActivator(attention *AttentionStore, related RelatedSource, maxRelated int, boost float64) *CoActivator {
	if maxRelated <= 0 {
		maxRelated = DefaultMaxRelated
	}
	if boost <= 0 || boost > 1 {
		boost = DefaultBoostIncrement
	}
	return &CoActivator{
		attention:  attention,
		related:    related,
		cache:      expirable.NewLRU[int64, []int64](relatedCacheSize, nil, relatedCacheTTL),
		maxRelated: maxRelated,
		boost:      boost,
	}
}

// Spread boosts each related memory of memoryID that is not already in
// boosted, adding every touched id to the set. The caller owns the set
// and threads it through all spreads within a turn; that single shared
// set is what stops activation cycling through mutually related
// memories. A memory with no relations yields an empty result.
func (c *CoActivator) Spread(ctx context.Context, sessionID string, memoryID int64, turn int, boosted map[int64]struct{}) ([]BoostResult, error) {
	if sessionID == "" || memoryID <= 0 {
		return nil, nil
	}
	if boosted == nil {
		boosted = make(map[int64]struct{})
	}
	boosted[memoryID] = struct{}{}

	related, err := c.relatedIDs(ctx, memoryID)
	if err != nil {
		// Spreading is an enhancement on the activation hot path; a
		// failed relation read degrades to no spread.
		log.Printf("coactivation: related lookup failed for memory %d: %v", memoryID, err)
		return nil, nil
	}

	var results []BoostResult
	for _, id := range related {
		if id <= 0 || id == memoryID {
			continue
		}
		if _, seen := boosted[id]; seen {
			continue
		}
		boosted[id] = struct{}{}

		newScore, err := c.attention.Boost(ctx, sessionID, id, turn, c.boost)
		if err != nil {
			// Relation lists can reference deleted memories; skip them.
			log.Printf("coactivation: boost of memory %d failed: %v", id, err)
			continue
		}
		results = append(results, BoostResult{MemoryID: id, NewScore: newScore})
	}
	return results, nil
}

func (c *CoActivator) relatedIDs(ctx context.Context, memoryID int64) ([]int64, error) {
	if cached, ok := c.cache.Get(memoryID); ok {
		return cached, nil
	}
	related, err := c.related.RelatedIDs(ctx, memoryID, c.maxRelated)
	if err != nil {
		return nil, err
	}
	c.cache.Add(memoryID, related)
	return related, nil
}
