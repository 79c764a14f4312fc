// Package storage provides composable storage interfaces for the Engram
// retention engine.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. The embedded SQLite
// backend in the sqlite subpackage implements all of them.
package storage

import (
	"context"
	"time"

	"github.com/quintale/engram/pkg/types"
)

// MemoryStore provides the memory-index operations the engine needs:
// lookups, retention-state writes, and the related-memory links used by
// spreading activation.
type MemoryStore interface {
	// Get retrieves a memory by ID.
	// Returns ErrNotFound if the memory doesn't exist.
	Get(ctx context.Context, id int64) (*types.MemoryRecord, error)

	// GetMany retrieves the given memories in one query. Missing ids are
	// skipped, not errors; the result order follows the input order.
	GetMany(ctx context.Context, ids []int64) ([]*types.MemoryRecord, error)

	// Insert creates a memory row and returns its assigned ID. Stability
	// and difficulty are clamped to their valid ranges before the write.
	Insert(ctx context.Context, rec *types.MemoryRecord) (int64, error)

	// UpdateStability overwrites a memory's stability, clamped to the
	// valid range. Returns ErrNotFound if the memory doesn't exist.
	UpdateStability(ctx context.Context, id int64, stability float64) error

	// ApplyReview persists the outcome of one review cycle: new stability
	// and difficulty (clamped), incremented review count, and last_review
	// set to reviewedAt. Returns ErrNotFound if the memory doesn't exist.
	ApplyReview(ctx context.Context, id int64, stability, difficulty float64, reviewedAt time.Time) error

	// IncrementAccess atomically bumps access_count.
	// Returns ErrNotFound if the memory doesn't exist.
	IncrementAccess(ctx context.Context, id int64) error

	// RelatedIDs returns the ordered related-memory ids for a memory,
	// capped at limit. A memory with no relations yields an empty slice.
	RelatedIDs(ctx context.Context, id int64, limit int) ([]int64, error)

	// Close releases any resources held by the store.
	Close() error
}

// WorkingMemoryStore manages session-scoped attention rows.
type WorkingMemoryStore interface {
	// UpsertEntry creates or replaces the row keyed by (session, memory).
	UpsertEntry(ctx context.Context, entry *types.WorkingMemoryEntry) error

	// GetEntry retrieves one attention row.
	// Returns ErrNotFound if no row exists for the pair.
	GetEntry(ctx context.Context, sessionID string, memoryID int64) (*types.WorkingMemoryEntry, error)

	// ListSession returns every row for a session, highest attention first.
	ListSession(ctx context.Context, sessionID string) ([]*types.WorkingMemoryEntry, error)

	// UpdateScore overwrites attention score and tier for one row.
	// Returns ErrNotFound if no row exists for the pair.
	UpdateScore(ctx context.Context, sessionID string, memoryID int64, score float64, tier types.AttentionTier) error

	// CountSession returns the number of rows held for a session.
	CountSession(ctx context.Context, sessionID string) (int, error)

	// EvictStalest removes the row with the lowest last_mentioned_turn
	// (ties broken by lowest score) and returns its memory id. Returns
	// ErrNotFound when the session holds no rows.
	EvictStalest(ctx context.Context, sessionID string) (int64, error)

	// DeleteSession removes every row for a session and returns the count.
	// Deleting an unknown session is a no-op, not an error.
	DeleteSession(ctx context.Context, sessionID string) (int, error)

	// SessionStats aggregates entry count and attention spread for a session.
	SessionStats(ctx context.Context, sessionID string) (*types.SessionStats, error)
}

// CorrectionStore persists the correction ledger. Implementations must run
// RecordCorrection and UndoCorrection as single transactions so stability
// writes and ledger rows never diverge.
type CorrectionStore interface {
	// RecordCorrection applies the stability changes and inserts the
	// ledger row atomically. The record's After fields and CreatedAt are
	// filled in; its ID is assigned by the store.
	RecordCorrection(ctx context.Context, rec *types.CorrectionRecord) error

	// GetCorrection retrieves one ledger row by id.
	// Returns ErrNotFound if the row doesn't exist.
	GetCorrection(ctx context.Context, id int64) (*types.CorrectionRecord, error)

	// UndoCorrection restores both snapshot stabilities and flags the row
	// undone, atomically. Returns ErrNotFound for an unknown row and
	// ErrAlreadyUndone when the row was undone before.
	UndoCorrection(ctx context.Context, id int64, undoneAt time.Time) error

	// CorrectionsByOriginal returns active rows whose original is the
	// given memory, newest first.
	CorrectionsByOriginal(ctx context.Context, memoryID int64, opts CorrectionListOptions) ([]*types.CorrectionRecord, error)

	// CorrectionsByCorrection returns active rows whose correction side is
	// the given memory, newest first.
	CorrectionsByCorrection(ctx context.Context, memoryID int64, opts CorrectionListOptions) ([]*types.CorrectionRecord, error)

	// CorrectionsFor returns rows touching the memory on either side,
	// newest first.
	CorrectionsFor(ctx context.Context, memoryID int64, opts CorrectionListOptions) ([]*types.CorrectionRecord, error)

	// CorrectionStats aggregates ledger activity as of now.
	CorrectionStats(ctx context.Context, now time.Time) (*CorrectionStats, error)
}

// CausalStore writes provenance edges. The backing table is optional;
// implementations return ErrNotInitialized when it is absent and callers
// treat edge failures as non-fatal.
type CausalStore interface {
	// InsertEdge writes one causal edge, replacing an existing edge with
	// the same source, target, and relation.
	InsertEdge(ctx context.Context, edge *types.CausalEdge) error

	// DeleteEdge removes the edge between the pair, any relation.
	// Deleting a missing edge is a no-op, not an error.
	DeleteEdge(ctx context.Context, sourceID, targetID int64) error
}
