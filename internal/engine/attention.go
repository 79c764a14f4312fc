package engine

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/google/uuid"

	"github.com/quintale/engram/internal/storage"
	"github.com/quintale/engram/pkg/types"
)

// DefaultSessionCapacity bounds how many entries a session holds at
// once. Seven tracks the span of human working memory; the stalest entry
// is evicted to make room.
const DefaultSessionCapacity = 7

// AttentionStore manages session-scoped attention: activation on
// mention, per-turn decay, and capacity eviction.
type AttentionStore struct {
	entries    storage.WorkingMemoryStore
	memories   storage.MemoryStore
	classifier *Classifier
	capacity   int
}

// NewAttentionStore wires an attention store over the working-memory and
// memory stores. A non-positive capacity uses the default.
func NewAttentionStore(entries storage.WorkingMemoryStore, memories storage.MemoryStore, classifier *Classifier, capacity int) *AttentionStore {
	if capacity <= 0 {
		capacity = DefaultSessionCapacity
	}
	if classifier == nil {
		classifier = NewClassifier(DefaultHotThreshold, DefaultWarmThreshold)
	}
	return &AttentionStore{
		entries:    entries,
		memories:   memories,
		classifier: classifier,
		capacity:   capacity,
	}
}

// NewSessionID returns a fresh working-memory session identifier.
func NewSessionID() string {
	return "wm-" + uuid.NewString()
}

// Activate marks a memory as directly mentioned this turn: attention
// snaps to 1.0 and the entry becomes HOT. Invalid ids are a quiet no-op
// because activation sits on the hot path of every turn; it reports
// whether an entry was written.
func (a *AttentionStore) Activate(ctx context.Context, sessionID string, memoryID int64, turn int) bool {
	if sessionID == "" || memoryID <= 0 {
		return false
	}

	if err := a.makeRoom(ctx, sessionID, memoryID); err != nil {
		log.Printf("attention: eviction failed for session %s: %v", sessionID, err)
	}

	err := a.entries.UpsertEntry(ctx, &types.WorkingMemoryEntry{
		SessionID:         sessionID,
		MemoryID:          memoryID,
		AttentionScore:    1.0,
		LastMentionedTurn: turn,
		Tier:              types.AttentionHot,
		FocusCount:        1,
	})
	if err != nil {
		log.Printf("attention: activate failed for memory %d: %v", memoryID, err)
		return false
	}
	return true
}

// makeRoom evicts the stalest entry when the session is full and the
// incoming memory is not already tracked.
func (a *AttentionStore) makeRoom(ctx context.Context, sessionID string, memoryID int64) error {
	if _, err := a.entries.GetEntry(ctx, sessionID, memoryID); err == nil {
		return nil
	}

	count, err := a.entries.CountSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if count < a.capacity {
		return nil
	}

	evicted, err := a.entries.EvictStalest(ctx, sessionID)
	if err != nil {
		return err
	}
	log.Printf("attention: session %s at capacity, evicted memory %d", sessionID, evicted)
	return nil
}

// DecayedScore applies turn-based exponential decay:
// score * rate^turnsElapsed. A NaN score reads as zero; non-finite or
// negative turn counts leave the score unchanged.
func DecayedScore(current, turnsElapsed, rate float64) float64 {
	if math.IsNaN(current) {
		return 0
	}
	if math.IsNaN(turnsElapsed) || math.IsInf(turnsElapsed, 0) || turnsElapsed < 0 {
		return current
	}
	if turnsElapsed == 0 {
		return clampScore(current)
	}
	return clampScore(current * math.Pow(rate, turnsElapsed))
}

// ApplyDecay sweeps every entry in the session: each decays by its
// memory's tier rate for the turns elapsed since its last mention, then
// is reclassified. It returns how many entries changed. An empty session
// is a no-op.
func (a *AttentionStore) ApplyDecay(ctx context.Context, sessionID string, currentTurn int) (int, error) {
	entries, err := a.entries.ListSession(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to list session for decay: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	rates, err := a.tierRates(ctx, entries)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, entry := range entries {
		turns := float64(currentTurn - entry.LastMentionedTurn)
		newScore := DecayedScore(entry.AttentionScore, turns, rates[entry.MemoryID])
		newTier := a.classifier.Classify(newScore)

		if newScore == entry.AttentionScore && newTier == entry.Tier {
			continue
		}
		if err := a.entries.UpdateScore(ctx, sessionID, entry.MemoryID, newScore, newTier); err != nil {
			return updated, fmt.Errorf("failed to persist decay for memory %d: %w", entry.MemoryID, err)
		}
		updated++
	}
	return updated, nil
}

// tierRates resolves the attention decay rate for each entry via its
// memory's importance tier. Memories that no longer exist decay at the
// default rate.
func (a *AttentionStore) tierRates(ctx context.Context, entries []*types.WorkingMemoryEntry) (map[int64]float64, error) {
	ids := make([]int64, len(entries))
	for i, entry := range entries {
		ids[i] = entry.MemoryID
	}

	records, err := a.memories.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load memories for decay rates: %w", err)
	}

	rates := make(map[int64]float64, len(ids))
	for _, id := range ids {
		rates[id] = DefaultAttentionDecayRate
	}
	for _, rec := range records {
		rates[rec.ID] = DecayRate(rec.ImportanceTier)
	}
	return rates, nil
}

// Boost raises an entry's attention by delta, capped at 1.0, and
// reclassifies it. A memory with no entry yet gets one seeded at the
// delta so spreading activation can reach memories never directly
// mentioned. It returns the new score.
func (a *AttentionStore) Boost(ctx context.Context, sessionID string, memoryID int64, turn int, delta float64) (float64, error) {
	entry, err := a.entries.GetEntry(ctx, sessionID, memoryID)
	if err == nil {
		newScore := clampScore(entry.AttentionScore + delta)
		tier := a.classifier.Classify(newScore)
		if err := a.entries.UpdateScore(ctx, sessionID, memoryID, newScore, tier); err != nil {
			return 0, fmt.Errorf("failed to boost memory %d: %w", memoryID, err)
		}
		return newScore, nil
	}

	newScore := clampScore(delta)
	if upErr := a.entries.UpsertEntry(ctx, &types.WorkingMemoryEntry{
		SessionID:         sessionID,
		MemoryID:          memoryID,
		AttentionScore:    newScore,
		LastMentionedTurn: turn,
		Tier:              a.classifier.Classify(newScore),
	}); upErr != nil {
		return 0, fmt.Errorf("failed to seed boosted memory %d: %w", memoryID, upErr)
	}
	return newScore, nil
}

// ClearSession drops every entry for the session and returns the count.
// Clearing an unknown session is a no-op.
func (a *AttentionStore) ClearSession(ctx context.Context, sessionID string) (int, error) {
	return a.entries.DeleteSession(ctx, sessionID)
}

// Stats aggregates the session's working-memory footprint.
func (a *AttentionStore) Stats(ctx context.Context, sessionID string) (*types.SessionStats, error) {
	return a.entries.SessionStats(ctx, sessionID)
}

// Surfaced returns the session's entries prepared for the context
// window: COLD dropped, HOT before WARM, content rendered per tier.
func (a *AttentionStore) Surfaced(ctx context.Context, sessionID string) ([]SurfacedEntry, error) {
	entries, err := a.entries.ListSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session: %w", err)
	}
	ranked := a.classifier.FilterAndRank(entries)
	if len(ranked) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(ranked))
	for i, entry := range ranked {
		ids[i] = entry.MemoryID
	}
	records, err := a.memories.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate surfaced memories: %w", err)
	}
	byID := make(map[int64]*types.MemoryRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	out := make([]SurfacedEntry, 0, len(ranked))
	for _, entry := range ranked {
		tier := a.classifier.Classify(entry.AttentionScore)
		content, ok := TieredContent(byID[entry.MemoryID], tier)
		if !ok {
			continue
		}
		out = append(out, SurfacedEntry{
			MemoryID:       entry.MemoryID,
			Tier:           tier,
			AttentionScore: entry.AttentionScore,
			Content:        content,
		})
	}
	return out, nil
}

// clampScore forces an attention score into [0, 1].
func clampScore(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
