package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quintale/engram/internal/config"
	"github.com/quintale/engram/internal/storage"
	"github.com/quintale/engram/pkg/types"
)

func testEngineConfig() *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{Path: ":memory:"},
		Features: config.FeaturesConfig{
			Corrections:     true,
			CoActivation:    true,
			SessionCapacity: 7,
		},
		Scoring: config.ScoringConfig{RRFK: 60, RRFLimit: 10},
		Attention: config.AttentionConfig{
			DefaultDecayRate: 0.80,
			BoostIncrement:   0.35,
			MaxRelated:       5,
		},
		Classifier: config.ClassifierConfig{HotThreshold: 0.8, WarmThreshold: 0.25},
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := New(newEngineTestStore(t), testEngineConfig())
	require.NoError(t, err)
	return eng
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(nil, testEngineConfig())
	assert.Error(t, err)
}

func TestNew_InvalidWeightsFallBackToDefaults(t *testing.T) {
	store := newEngineTestStore(t)
	cfg := testEngineConfig()
	cfg.Scoring.Weights = config.WeightsConfig{Similarity: -1, Importance: 2}

	eng, err := New(store, cfg)
	require.NoError(t, err)
	assert.Equal(t, DefaultWeights(), eng.weights)
}

func TestTouch_ActivatesAndSpreads(t *testing.T) {
	store := newEngineTestStore(t)
	eng, err := New(store, testEngineConfig())
	require.NoError(t, err)
	ctx := context.Background()

	related := mustInsert(t, store, &types.MemoryRecord{Title: "related", ImportanceTier: types.TierNormal})
	primary := mustInsert(t, store, &types.MemoryRecord{
		Title:          "primary",
		ImportanceTier: types.TierNormal,
		RelatedIDs:     []int64{related},
	})

	session := NewSessionID()
	results, err := eng.Touch(ctx, session, primary, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, related, results[0].MemoryID)

	main, err := store.GetEntry(ctx, session, primary)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, main.AttentionScore, 1e-9)
	assert.Equal(t, types.AttentionHot, main.Tier)

	spread, err := store.GetEntry(ctx, session, related)
	require.NoError(t, err)
	assert.InDelta(t, DefaultBoostIncrement, spread.AttentionScore, 1e-9)
}

func TestTouch_SpreadDisabled(t *testing.T) {
	store := newEngineTestStore(t)
	cfg := testEngineConfig()
	cfg.Features.CoActivation = false
	eng, err := New(store, cfg)
	require.NoError(t, err)
	ctx := context.Background()

	related := mustInsert(t, store, &types.MemoryRecord{Title: "related"})
	primary := mustInsert(t, store, &types.MemoryRecord{Title: "primary", RelatedIDs: []int64{related}})

	session := NewSessionID()
	results, err := eng.Touch(ctx, session, primary, 1)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = store.GetEntry(ctx, session, related)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTouch_InvalidMemoryID(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.Touch(context.Background(), NewSessionID(), 0, 1)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestRankCandidates_OrdersAndHydrates(t *testing.T) {
	store := newEngineTestStore(t)
	eng, err := New(store, testEngineConfig())
	require.NoError(t, err)
	ctx := context.Background()

	critical := mustInsert(t, store, &types.MemoryRecord{
		Title:          "deploy checklist",
		Content:        "production deploy checklist for the api service",
		ImportanceTier: types.TierCritical,
	})
	normal := mustInsert(t, store, &types.MemoryRecord{
		Title:          "lunch order",
		Content:        "weekly lunch order notes",
		ImportanceTier: types.TierNormal,
	})

	vector := []Candidate{{MemoryID: critical, Score: 0.9}, {MemoryID: normal, Score: 0.8}}
	lexical := []Candidate{{MemoryID: critical, Score: 0.7}}

	ranked, err := eng.RankCandidates(ctx, vector, lexical, "deploy checklist")
	require.NoError(t, err)
	require.Len(t, ranked, 2)

	assert.Equal(t, critical, ranked[0].Record.ID)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
	assert.True(t, ranked[0].Fused.InVector)
	assert.True(t, ranked[0].Fused.InLexical)

	total := 0.0
	for _, f := range []FactorDetail{
		ranked[0].Breakdown.Similarity,
		ranked[0].Breakdown.Importance,
		ranked[0].Breakdown.Recency,
		ranked[0].Breakdown.Popularity,
		ranked[0].Breakdown.TierBoost,
	} {
		total += f.Contribution
	}
	assert.InDelta(t, ranked[0].Breakdown.Total, total, 1e-9)
}

func TestRankCandidates_SkipsDeprecatedAndMissing(t *testing.T) {
	store := newEngineTestStore(t)
	eng, err := New(store, testEngineConfig())
	require.NoError(t, err)
	ctx := context.Background()

	kept := mustInsert(t, store, &types.MemoryRecord{Title: "kept", ImportanceTier: types.TierNormal})
	dead := mustInsert(t, store, &types.MemoryRecord{Title: "dead", ImportanceTier: types.TierDeprecated})

	vector := []Candidate{
		{MemoryID: dead, Score: 0.95},
		{MemoryID: kept, Score: 0.9},
		{MemoryID: 99999, Score: 0.85},
	}

	ranked, err := eng.RankCandidates(ctx, vector, nil, "kept")
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, kept, ranked[0].Record.ID)
}

func TestRankCandidates_EmptyInput(t *testing.T) {
	eng := newTestEngine(t)
	ranked, err := eng.RankCandidates(context.Background(), nil, nil, "anything")
	require.NoError(t, err)
	assert.Empty(t, ranked)
}

func TestReviewAccess_StrengthensMemory(t *testing.T) {
	store := newEngineTestStore(t)
	eng, err := New(store, testEngineConfig())
	require.NoError(t, err)
	ctx := context.Background()

	id := mustInsert(t, store, &types.MemoryRecord{Title: "fact", Stability: 10, Difficulty: 5})

	outcome, err := eng.ReviewAccess(ctx, id, GradeGood)
	require.NoError(t, err)
	assert.Greater(t, outcome.Stability, 10.0)

	rec, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, outcome.Stability, rec.Stability, 1e-9)
	assert.Equal(t, 1, rec.ReviewCount)
	assert.Equal(t, 1, rec.AccessCount)
	require.NotNil(t, rec.LastReview)
}

func TestReviewAccess_LapseWeakensMemory(t *testing.T) {
	store := newEngineTestStore(t)
	eng, err := New(store, testEngineConfig())
	require.NoError(t, err)

	id := mustInsert(t, store, &types.MemoryRecord{Title: "fact", Stability: 10, Difficulty: 5})

	outcome, err := eng.ReviewAccess(context.Background(), id, GradeAgain)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, outcome.Stability, 1e-9)
}

func TestReviewAccess_MissingMemory(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.ReviewAccess(context.Background(), 4242, GradeGood)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEndOfTurn_DecaysSession(t *testing.T) {
	store := newEngineTestStore(t)
	eng, err := New(store, testEngineConfig())
	require.NoError(t, err)
	ctx := context.Background()

	id := mustInsert(t, store, &types.MemoryRecord{Title: "fact", ImportanceTier: types.TierNormal})
	session := NewSessionID()
	_, err = eng.Touch(ctx, session, id, 1)
	require.NoError(t, err)

	changed, err := eng.EndOfTurn(ctx, session, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	entry, err := store.GetEntry(ctx, session, id)
	require.NoError(t, err)
	assert.Less(t, entry.AttentionScore, 1.0)
}

func TestSurfaced_ReturnsWorkingMemory(t *testing.T) {
	store := newEngineTestStore(t)
	eng, err := New(store, testEngineConfig())
	require.NoError(t, err)
	ctx := context.Background()

	id := mustInsert(t, store, &types.MemoryRecord{Title: "active fact"})
	session := NewSessionID()
	_, err = eng.Touch(ctx, session, id, 1)
	require.NoError(t, err)

	surfaced, err := eng.Surfaced(ctx, session)
	require.NoError(t, err)
	require.Len(t, surfaced, 1)
	assert.Equal(t, id, surfaced[0].MemoryID)
	assert.Equal(t, types.AttentionHot, surfaced[0].Tier)
}

func TestLedgerAccessor_RecordsCorrections(t *testing.T) {
	store := newEngineTestStore(t)
	eng, err := New(store, testEngineConfig())
	require.NoError(t, err)
	ctx := context.Background()

	original := mustInsert(t, store, &types.MemoryRecord{Title: "old", Stability: 20})
	replacement := mustInsert(t, store, &types.MemoryRecord{Title: "new", Stability: 10})

	report, err := eng.Ledger().Supersede(ctx, original, replacement, "outdated", "reviewer")
	require.NoError(t, err)
	require.NotNil(t, report.Correction)

	rec, err := store.Get(ctx, original)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, rec.Stability, 1e-9)
}

func TestReviewAccessThenRank_FreshReviewLiftsRecency(t *testing.T) {
	store := newEngineTestStore(t)
	eng, err := New(store, testEngineConfig())
	require.NoError(t, err)
	ctx := context.Background()

	id := mustInsert(t, store, &types.MemoryRecord{Title: "fact", Content: "fact body"})
	_, err = eng.ReviewAccess(ctx, id, GradeEasy)
	require.NoError(t, err)

	ranked, err := eng.RankCandidates(ctx, []Candidate{{MemoryID: id, Score: 0.9}}, nil, "fact")
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Greater(t, ranked[0].Breakdown.Popularity.Value, 0.0)
}

