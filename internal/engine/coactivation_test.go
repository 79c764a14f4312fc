package engine

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/quintale/engram/pkg/types"
)

func newTestCoActivator(t *testing.T) (*CoActivator, *AttentionStore, func(rec *types.MemoryRecord) int64) {
	t.Helper()
	store := newEngineTestStore(t)
	attn := NewAttentionStore(store, store, nil, 0)
	co := NewCoActivator(attn, store, DefaultMaxRelated, DefaultBoostIncrement)
	insert := func(rec *types.MemoryRecord) int64 {
		return mustInsert(t, store, rec)
	}
	return co, attn, insert
}

func TestSpreadBoostsRelated(t *testing.T) {
	co, attn, insert := newTestCoActivator(t)
	ctx := context.Background()

	rel1 := insert(&types.MemoryRecord{Content: "rel1"})
	rel2 := insert(&types.MemoryRecord{Content: "rel2"})
	source := insert(&types.MemoryRecord{Content: "source", RelatedIDs: []int64{rel1, rel2}})

	attn.Activate(ctx, "s1", source, 1)
	attn.Activate(ctx, "s1", rel1, 1)

	boosted := map[int64]struct{}{}
	results, err := co.Spread(ctx, "s1", source, 1, boosted)
	if err != nil {
		t.Fatalf("Spread() failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Spread() touched %d memories, want 2", len(results))
	}

	// rel1 was already at 1.0 and stays capped; rel2 gets seeded at the
	// boost increment.
	for _, res := range results {
		switch res.MemoryID {
		case rel1:
			if res.NewScore != 1.0 {
				t.Errorf("rel1 score: got %v, want capped 1.0", res.NewScore)
			}
		case rel2:
			if math.Abs(res.NewScore-DefaultBoostIncrement) > 1e-9 {
				t.Errorf("rel2 score: got %v, want %v", res.NewScore, DefaultBoostIncrement)
			}
		default:
			t.Errorf("unexpected boosted memory %d", res.MemoryID)
		}
	}

	// The set now contains the source and both related ids.
	for _, id := range []int64{source, rel1, rel2} {
		if _, ok := boosted[id]; !ok {
			t.Errorf("memory %d missing from boosted set", id)
		}
	}
}

// cyclicRelatedSource models two memories that relate to each other.
type cyclicRelatedSource struct {
	a, b int64
}

func (c cyclicRelatedSource) RelatedIDs(ctx context.Context, id int64, limit int) ([]int64, error) {
	if id == c.a {
		return []int64{c.b}, nil
	}
	return []int64{c.a}, nil
}

func TestSpreadSharedSetPreventsCycles(t *testing.T) {
	store := newEngineTestStore(t)
	attn := NewAttentionStore(store, store, nil, 0)
	ctx := context.Background()

	a := mustInsert(t, store, &types.MemoryRecord{Content: "a"})
	b := mustInsert(t, store, &types.MemoryRecord{Content: "b"})
	co := NewCoActivator(attn, cyclicRelatedSource{a: a, b: b}, 0, 0)

	boosted := map[int64]struct{}{}
	first, err := co.Spread(ctx, "s1", a, 1, boosted)
	if err != nil {
		t.Fatalf("Spread(a) failed: %v", err)
	}
	if len(first) != 1 || first[0].MemoryID != b {
		t.Fatalf("Spread(a) = %+v, want boost of memory %d", first, b)
	}

	// Chained spread from b with the same set must not bounce back to a.
	second, err := co.Spread(ctx, "s1", b, 1, boosted)
	if err != nil {
		t.Fatalf("Spread(b) failed: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("chained spread re-boosted: %+v", second)
	}

	// A fresh set would bounce back, which is exactly why callers thread
	// one set through the whole turn.
	rebound, err := co.Spread(ctx, "s1", b, 1, map[int64]struct{}{})
	if err != nil {
		t.Fatalf("Spread(b, fresh) failed: %v", err)
	}
	if len(rebound) != 1 || rebound[0].MemoryID != a {
		t.Errorf("fresh-set spread = %+v, want boost of memory %d", rebound, a)
	}
}

func TestSpreadNoRelations(t *testing.T) {
	co, attn, insert := newTestCoActivator(t)
	ctx := context.Background()

	lone := insert(&types.MemoryRecord{Content: "lone"})
	attn.Activate(ctx, "s1", lone, 1)

	results, err := co.Spread(ctx, "s1", lone, 1, map[int64]struct{}{})
	if err != nil {
		t.Fatalf("Spread() failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Spread() = %+v, want empty", results)
	}
}

func TestSpreadInvalidInputs(t *testing.T) {
	co, _, _ := newTestCoActivator(t)
	ctx := context.Background()

	results, err := co.Spread(ctx, "", 1, 1, nil)
	if err != nil || results != nil {
		t.Errorf("empty session: got %v, %v", results, err)
	}
	results, err = co.Spread(ctx, "s1", 0, 1, nil)
	if err != nil || results != nil {
		t.Errorf("zero memory id: got %v, %v", results, err)
	}
}

// failingRelatedSource always errors, standing in for a degraded store.
type failingRelatedSource struct{}

func (failingRelatedSource) RelatedIDs(ctx context.Context, id int64, limit int) ([]int64, error) {
	return nil, errors.New("store offline")
}

func TestSpreadDegradesWhenLookupFails(t *testing.T) {
	store := newEngineTestStore(t)
	attn := NewAttentionStore(store, store, nil, 0)
	co := NewCoActivator(attn, failingRelatedSource{}, 0, 0)

	results, err := co.Spread(context.Background(), "s1", 1, 1, map[int64]struct{}{})
	if err != nil {
		t.Fatalf("Spread() surfaced lookup error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Spread() = %+v, want empty on degraded lookup", results)
	}
}

// countingRelatedSource tracks lookups so the cache is observable.
type countingRelatedSource struct {
	calls   int
	related []int64
}

func (c *countingRelatedSource) RelatedIDs(ctx context.Context, id int64, limit int) ([]int64, error) {
	c.calls++
	return c.related, nil
}

func TestSpreadCachesRelatedLookups(t *testing.T) {
	store := newEngineTestStore(t)
	attn := NewAttentionStore(store, store, nil, 0)
	ctx := context.Background()

	source := mustInsert(t, store, &types.MemoryRecord{Content: "source"})
	rel1 := mustInsert(t, store, &types.MemoryRecord{Content: "rel1"})
	rel2 := mustInsert(t, store, &types.MemoryRecord{Content: "rel2"})
	src := &countingRelatedSource{related: []int64{rel1, rel2}}
	co := NewCoActivator(attn, src, 0, 0)

	for i := 0; i < 3; i++ {
		if _, err := co.Spread(ctx, "s1", source, i, map[int64]struct{}{}); err != nil {
			t.Fatalf("Spread() failed: %v", err)
		}
	}
	if src.calls != 1 {
		t.Errorf("related lookups: got %d, want 1 (cached)", src.calls)
	}
}
