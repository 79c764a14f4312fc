package engine

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/quintale/engram/internal/storage"
	"github.com/quintale/engram/pkg/types"
)

func newTestLedger(t *testing.T) (*Ledger, func(rec *types.MemoryRecord) int64) {
	t.Helper()
	store := newEngineTestStore(t)
	ledger := NewLedger(store, store, NewCausalEmitter(store), true)
	insert := func(rec *types.MemoryRecord) int64 {
		return mustInsert(t, store, rec)
	}
	return ledger, insert
}

func TestRecordSupersede(t *testing.T) {
	ledger, insert := newTestLedger(t)
	ctx := context.Background()

	orig := insert(&types.MemoryRecord{Content: "api lives on port 8080", Stability: 20})
	repl := insert(&types.MemoryRecord{Content: "api lives on port 9090", Stability: 10})

	report, err := ledger.Supersede(ctx, orig, repl, "port changed", "agent")
	if err != nil {
		t.Fatalf("Supersede() failed: %v", err)
	}

	rec := report.Correction
	if rec.OriginalStabilityAfter != 10 {
		t.Errorf("original after: got %v, want 10 (halved)", rec.OriginalStabilityAfter)
	}
	if rec.CorrectionStabilityAfter == nil || math.Abs(*rec.CorrectionStabilityAfter-12) > 1e-9 {
		t.Errorf("correction after: got %v, want 12 (boosted)", rec.CorrectionStabilityAfter)
	}
	if !report.EdgeEmitted {
		t.Error("causal edge not emitted")
	}
	if rec.ID == 0 {
		t.Error("ledger row id not assigned")
	}
}

func TestRecordClampsStabilities(t *testing.T) {
	ledger, insert := newTestLedger(t)
	ctx := context.Background()

	fragile := insert(&types.MemoryRecord{Content: "fragile", Stability: 0.15})
	strong := insert(&types.MemoryRecord{Content: "strong", Stability: 360})

	report, err := ledger.Supersede(ctx, fragile, strong, "", "")
	if err != nil {
		t.Fatalf("Supersede() failed: %v", err)
	}
	if report.Correction.OriginalStabilityAfter != types.MinStability {
		t.Errorf("penalty floor: got %v, want %v",
			report.Correction.OriginalStabilityAfter, types.MinStability)
	}
	if *report.Correction.CorrectionStabilityAfter != types.MaxStability {
		t.Errorf("boost ceiling: got %v, want %v",
			*report.Correction.CorrectionStabilityAfter, types.MaxStability)
	}
}

func TestRecordValidationBeforeMutation(t *testing.T) {
	ledger, insert := newTestLedger(t)
	ctx := context.Background()

	orig := insert(&types.MemoryRecord{Content: "untouched", Stability: 20})
	sameID := orig

	_, err := ledger.Record(ctx, RecordParams{OriginalID: orig, CorrectionID: &sameID, Type: types.CorrectionSuperseded})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("self-correction: got %v, want ErrInvalidInput", err)
	}

	_, err = ledger.Record(ctx, RecordParams{OriginalID: orig, Type: "retracted"})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("unknown type: got %v, want ErrInvalidInput", err)
	}

	_, err = ledger.Record(ctx, RecordParams{OriginalID: 999, Type: types.CorrectionDeprecated})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing original: got %v, want ErrNotFound", err)
	}

	missing := int64(998)
	_, err = ledger.Record(ctx, RecordParams{OriginalID: orig, CorrectionID: &missing, Type: types.CorrectionRefined})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing correction: got %v, want ErrNotFound", err)
	}

	// None of the rejected calls touched the original's stability.
	rows, err := ledger.CorrectionsFor(ctx, orig, storage.CorrectionListOptions{IncludeUndone: true})
	if err != nil || len(rows) != 0 {
		t.Errorf("ledger rows after rejected calls: %d, %v", len(rows), err)
	}
}

func TestDeprecateWithoutReplacement(t *testing.T) {
	ledger, insert := newTestLedger(t)
	ctx := context.Background()

	orig := insert(&types.MemoryRecord{Content: "wrong fact", Stability: 8})

	report, err := ledger.Deprecate(ctx, orig, "no longer true", "agent")
	if err != nil {
		t.Fatalf("Deprecate() failed: %v", err)
	}
	if report.Correction.CorrectionMemoryID != nil {
		t.Error("deprecation should have no correction side")
	}
	if report.Correction.OriginalStabilityAfter != 4 {
		t.Errorf("original after: got %v, want 4", report.Correction.OriginalStabilityAfter)
	}
	if report.EdgeEmitted {
		t.Error("deprecation without replacement should not emit an edge")
	}
}

func TestUndoRoundTrip(t *testing.T) {
	ledger, insert := newTestLedger(t)
	ctx := context.Background()

	orig := insert(&types.MemoryRecord{Content: "v1", Stability: 14})
	repl := insert(&types.MemoryRecord{Content: "v2", Stability: 7})

	report, err := ledger.Supersede(ctx, orig, repl, "", "")
	if err != nil {
		t.Fatalf("Supersede() failed: %v", err)
	}

	undone, err := ledger.Undo(ctx, report.Correction.ID)
	if err != nil {
		t.Fatalf("Undo() failed: %v", err)
	}
	if !undone.IsUndone {
		t.Error("row not flagged undone")
	}

	_, err = ledger.Undo(ctx, report.Correction.ID)
	if !errors.Is(err, storage.ErrAlreadyUndone) {
		t.Errorf("second undo: got %v, want ErrAlreadyUndone", err)
	}

	_, err = ledger.Undo(ctx, 999)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown id: got %v, want ErrNotFound", err)
	}
}

func TestMergeFansOut(t *testing.T) {
	ledger, insert := newTestLedger(t)
	ctx := context.Background()

	a := insert(&types.MemoryRecord{Content: "part a", Stability: 10})
	b := insert(&types.MemoryRecord{Content: "part b", Stability: 10})
	merged := insert(&types.MemoryRecord{Content: "consolidated", Stability: 10})

	// The merged id among the sources is skipped, not an error.
	reports, err := ledger.Merge(ctx, []int64{a, b, merged}, merged, "consolidated", "agent")
	if err != nil {
		t.Fatalf("Merge() failed: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("Merge() produced %d reports, want 2", len(reports))
	}
	for _, report := range reports {
		if report.Correction.Type != types.CorrectionMerged {
			t.Errorf("type: got %q, want merged", report.Correction.Type)
		}
		if *report.Correction.CorrectionMemoryID != merged {
			t.Errorf("correction side: got %d, want %d", *report.Correction.CorrectionMemoryID, merged)
		}
	}
}

func TestTraverseChain(t *testing.T) {
	ledger, insert := newTestLedger(t)
	ctx := context.Background()

	// v1 -> v2 -> v3 supersession chain.
	v1 := insert(&types.MemoryRecord{Content: "v1", Stability: 10})
	v2 := insert(&types.MemoryRecord{Content: "v2", Stability: 10})
	v3 := insert(&types.MemoryRecord{Content: "v3", Stability: 10})

	if _, err := ledger.Supersede(ctx, v1, v2, "", ""); err != nil {
		t.Fatalf("Supersede(v1, v2) failed: %v", err)
	}
	if _, err := ledger.Supersede(ctx, v2, v3, "", ""); err != nil {
		t.Fatalf("Supersede(v2, v3) failed: %v", err)
	}

	// From the middle, both directions are reachable at depth 1.
	chain, err := ledger.TraverseChain(ctx, v2, storage.ChainOptions{})
	if err != nil {
		t.Fatalf("TraverseChain() failed: %v", err)
	}
	if len(chain.Entries) != 2 {
		t.Fatalf("chain from v2 has %d entries, want 2", len(chain.Entries))
	}
	byMemory := make(map[int64]ChainEntry)
	for _, entry := range chain.Entries {
		byMemory[entry.MemoryID] = entry
	}
	if entry := byMemory[v3]; entry.Direction != DirectionCorrectedBy || entry.Depth != 1 {
		t.Errorf("v3 entry: %+v", entry)
	}
	if entry := byMemory[v1]; entry.Direction != DirectionCorrects || entry.Depth != 1 {
		t.Errorf("v1 entry: %+v", entry)
	}
	if chain.MaxDepthReached {
		t.Error("shallow chain flagged MaxDepthReached")
	}

	// From the tail, the walk reaches v1 at depth 2.
	chain, err = ledger.TraverseChain(ctx, v3, storage.ChainOptions{})
	if err != nil {
		t.Fatalf("TraverseChain(v3) failed: %v", err)
	}
	if len(chain.Entries) != 2 {
		t.Fatalf("chain from v3 has %d entries, want 2", len(chain.Entries))
	}
}

func TestTraverseChainDepthCutoff(t *testing.T) {
	ledger, insert := newTestLedger(t)
	ctx := context.Background()

	ids := make([]int64, 4)
	for i := range ids {
		ids[i] = insert(&types.MemoryRecord{Content: "gen", Stability: 10})
	}
	for i := 0; i < len(ids)-1; i++ {
		if _, err := ledger.Supersede(ctx, ids[i], ids[i+1], "", ""); err != nil {
			t.Fatalf("Supersede() failed: %v", err)
		}
	}

	chain, err := ledger.TraverseChain(ctx, ids[0], storage.ChainOptions{MaxDepth: 2})
	if err != nil {
		t.Fatalf("TraverseChain() failed: %v", err)
	}
	if len(chain.Entries) != 2 {
		t.Errorf("cutoff chain has %d entries, want 2", len(chain.Entries))
	}
	if !chain.MaxDepthReached {
		t.Error("MaxDepthReached not flagged at cutoff")
	}
}

func TestTraverseChainEmptyAndInvalid(t *testing.T) {
	ledger, insert := newTestLedger(t)
	ctx := context.Background()

	lone := insert(&types.MemoryRecord{Content: "lone", Stability: 10})
	chain, err := ledger.TraverseChain(ctx, lone, storage.ChainOptions{})
	if err != nil || len(chain.Entries) != 0 || chain.MaxDepthReached {
		t.Errorf("lone chain: %+v, %v", chain, err)
	}

	chain, err = ledger.TraverseChain(ctx, -1, storage.ChainOptions{})
	if err != nil || len(chain.Entries) != 0 {
		t.Errorf("invalid id chain: %+v, %v", chain, err)
	}
}

func TestLedgerStats(t *testing.T) {
	ledger, insert := newTestLedger(t)
	ctx := context.Background()

	a := insert(&types.MemoryRecord{Content: "a", Stability: 10})
	b := insert(&types.MemoryRecord{Content: "b", Stability: 10})

	report, err := ledger.Supersede(ctx, a, b, "", "")
	if err != nil {
		t.Fatalf("Supersede() failed: %v", err)
	}
	if _, err := ledger.Deprecate(ctx, b, "", ""); err != nil {
		t.Fatalf("Deprecate() failed: %v", err)
	}
	if _, err := ledger.Undo(ctx, report.Correction.ID); err != nil {
		t.Fatalf("Undo() failed: %v", err)
	}

	stats, err := ledger.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.Total != 2 || stats.Undone != 1 || stats.Last24h != 2 {
		t.Errorf("stats: %+v", stats)
	}
	if stats.ByType["deprecated"] != 1 || stats.ByType["superseded"] != 0 {
		t.Errorf("ByType: %v", stats.ByType)
	}
}

func TestLedgerDisabled(t *testing.T) {
	store := newEngineTestStore(t)
	ledger := NewLedger(store, store, nil, false)
	ctx := context.Background()

	orig := mustInsert(t, store, &types.MemoryRecord{Content: "x", Stability: 10})

	_, err := ledger.Deprecate(ctx, orig, "", "")
	if !errors.Is(err, ErrCorrectionsDisabled) {
		t.Errorf("Deprecate: got %v, want ErrCorrectionsDisabled", err)
	}
	_, err = ledger.Undo(ctx, 1)
	if !errors.Is(err, ErrCorrectionsDisabled) {
		t.Errorf("Undo: got %v, want ErrCorrectionsDisabled", err)
	}
	_, err = ledger.Merge(ctx, []int64{orig}, orig+1, "", "")
	if !errors.Is(err, ErrCorrectionsDisabled) {
		t.Errorf("Merge: got %v, want ErrCorrectionsDisabled", err)
	}

	stats, err := ledger.Stats(ctx)
	if err != nil || stats.Total != 0 {
		t.Errorf("Stats: %+v, %v", stats, err)
	}
}

func TestRecordSurvivesEdgeFailure(t *testing.T) {
	store := newEngineTestStore(t)
	ledger := NewLedger(store, store, NewCausalEmitter(&flakyCausalStore{failing: true}), true)
	ctx := context.Background()

	orig := mustInsert(t, store, &types.MemoryRecord{Content: "a", Stability: 10})
	repl := mustInsert(t, store, &types.MemoryRecord{Content: "b", Stability: 10})

	report, err := ledger.Supersede(ctx, orig, repl, "", "")
	if err != nil {
		t.Fatalf("Supersede() failed despite edge failure: %v", err)
	}
	if report.EdgeEmitted {
		t.Error("edge reported emitted despite failing store")
	}

	// The correction itself landed.
	got, err := store.Get(ctx, orig)
	if err != nil || got.Stability != 5 {
		t.Errorf("original stability: %v, %v", got.Stability, err)
	}
}
