package engine

import (
	"cmp"
	"context"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/quintale/engram/internal/config"
	"github.com/quintale/engram/internal/storage"
	"github.com/quintale/engram/pkg/types"
)

// Stores is the full persistence surface the engine needs. The sqlite
// store satisfies it.
type Stores interface {
	storage.MemoryStore
	storage.WorkingMemoryStore
	storage.CorrectionStore
	storage.CausalStore
}

// Engine ties the retention scheduler, working-memory attention,
// spreading activation, rank fusion and the correction ledger together
// behind one façade.
type Engine struct {
	store Stores

	attention *AttentionStore
	spreader  *CoActivator
	ledger    *Ledger

	weights Weights
	fusion  FusionOptions
}

// New builds an Engine from a store and loaded configuration.
func New(store Stores, cfg *config.Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if cfg == nil {
		loaded, err := config.LoadConfig()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	classifier := NewClassifier(cfg.Classifier.HotThreshold, cfg.Classifier.WarmThreshold)
	attention := NewAttentionStore(store, store, classifier, cfg.Features.SessionCapacity)

	e := &Engine{
		store:     store,
		attention: attention,
		weights:   weightsFromConfig(cfg.Scoring.Weights),
		fusion:    FusionOptions{K: cfg.Scoring.RRFK, Limit: cfg.Scoring.RRFLimit},
	}
	e.fusion.Normalize()

	if cfg.Features.CoActivation {
		e.spreader = NewCoActivator(attention, store, cfg.Attention.MaxRelated, cfg.Attention.BoostIncrement)
	}

	emitter := NewCausalEmitter(store)
	e.ledger = NewLedger(store, store, emitter, cfg.Features.Corrections)

	return e, nil
}

func weightsFromConfig(wc config.WeightsConfig) Weights {
	if wc.IsZero() {
		return DefaultWeights()
	}
	w := Weights{
		Similarity: wc.Similarity,
		Importance: wc.Importance,
		Recency:    wc.Recency,
		Popularity: wc.Popularity,
		TierBoost:  wc.TierBoost,
	}
	if !w.Valid() {
		log.Printf("engine: configured scoring weights invalid, using defaults")
		return DefaultWeights()
	}
	return w
}

// Attention exposes the working-memory layer for session management.
func (e *Engine) Attention() *AttentionStore { return e.attention }

// Ledger exposes the correction ledger.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// Touch marks a memory as mentioned this turn: it is activated to full
// attention and, when spreading is enabled, its related memories receive
// a partial boost. Each Touch uses a fresh boosted set, so repeated
// touches within a turn re-spread but a single spread never loops.
func (e *Engine) Touch(ctx context.Context, sessionID string, memoryID int64, turn int) ([]BoostResult, error) {
	if !e.attention.Activate(ctx, sessionID, memoryID, turn) {
		return nil, fmt.Errorf("engine: activate memory %d: %w", memoryID, storage.ErrInvalidInput)
	}
	if e.spreader == nil {
		return nil, nil
	}
	boosted := make(map[int64]struct{})
	return e.spreader.Spread(ctx, sessionID, memoryID, turn, boosted)
}

// RankedCandidate is a fused-and-scored retrieval result.
type RankedCandidate struct {
	Record    *types.MemoryRecord
	Fused     FusedResult
	Score     float64
	Breakdown Breakdown
}

// RankCandidates fuses a vector and a lexical candidate list with
// reciprocal rank fusion, hydrates the surviving records and re-ranks
// them with the composite scorer. Records that no longer exist are
// dropped. Deprecated memories never surface.
func (e *Engine) RankCandidates(ctx context.Context, vector, lexical []Candidate, query string) ([]RankedCandidate, error) {
	fused := FuseRRF(vector, lexical, e.fusion)
	if len(fused) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(fused))
	for _, f := range fused {
		ids = append(ids, f.MemoryID)
	}
	records, err := e.store.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("engine: hydrate candidates: %w", err)
	}
	byID := make(map[int64]*types.MemoryRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	// RRF scores are rank-relative; normalize against the top fused
	// score so the best candidate enters the scorer at full similarity.
	topFused := fused[0].FusedScore
	for _, f := range fused {
		if f.FusedScore > topFused {
			topFused = f.FusedScore
		}
	}

	now := time.Now()
	out := make([]RankedCandidate, 0, len(fused))
	for _, f := range fused {
		rec, ok := byID[f.MemoryID]
		if !ok || IsExcludedFromSearch(rec.ImportanceTier) {
			continue
		}
		rel := 0.0
		if topFused > 0 {
			rel = f.FusedScore / topFused
		}
		semantic, keyword := 0.0, 0.0
		if f.InVector {
			semantic = rel
		}
		if f.InLexical {
			keyword = rel
		}
		sim := FuseScoresAdvanced(semantic, keyword, rec.Content, query) * 100
		score, breakdown := Score(rec, sim, e.weights, now)
		out = append(out, RankedCandidate{Record: rec, Fused: f, Score: score, Breakdown: breakdown})
	}

	slices.SortStableFunc(out, func(a, b RankedCandidate) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return cmp.Compare(a.Record.ID, b.Record.ID)
	})
	return out, nil
}

// ReviewAccess applies the testing effect: retrieving a memory is a
// review, so its stability and difficulty are updated from the recall
// grade and the access counter advances. This path and the ledger are
// the only writers of stability.
func (e *Engine) ReviewAccess(ctx context.Context, memoryID int64, grade Grade) (*ReviewOutcome, error) {
	rec, err := e.store.Get(ctx, memoryID)
	if err != nil {
		return nil, fmt.Errorf("engine: load memory %d: %w", memoryID, err)
	}

	now := time.Now()
	outcome := ProcessReview(ReviewState{
		Stability:   rec.Stability,
		Difficulty:  rec.Difficulty,
		ReviewCount: rec.ReviewCount,
		LastReview:  rec.LastReview,
	}, grade, now)

	if err := e.store.ApplyReview(ctx, memoryID, outcome.Stability, outcome.Difficulty, now); err != nil {
		return nil, fmt.Errorf("engine: apply review for %d: %w", memoryID, err)
	}
	if err := e.store.IncrementAccess(ctx, memoryID); err != nil {
		return nil, fmt.Errorf("engine: record access for %d: %w", memoryID, err)
	}
	return &outcome, nil
}

// EndOfTurn decays every tracked entry in the session toward the new
// turn and returns how many entries changed.
func (e *Engine) EndOfTurn(ctx context.Context, sessionID string, turn int) (int, error) {
	return e.attention.ApplyDecay(ctx, sessionID, turn)
}

// Surfaced returns the session's context-ready working memory.
func (e *Engine) Surfaced(ctx context.Context, sessionID string) ([]SurfacedEntry, error) {
	return e.attention.Surfaced(ctx, sessionID)
}
