package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quintale/engram/internal/storage"
	"github.com/quintale/engram/pkg/types"
)

// UpsertEntry creates or replaces the attention row keyed by
// (session, memory). Focus count accumulates across upserts.
func (s *Store) UpsertEntry(ctx context.Context, entry *types.WorkingMemoryEntry) error {
	if entry == nil {
		return storage.ErrInvalidInput
	}
	if entry.SessionID == "" {
		return fmt.Errorf("%w: session id is required", storage.ErrInvalidInput)
	}
	if entry.MemoryID <= 0 {
		return fmt.Errorf("%w: memory id must be positive", storage.ErrInvalidInput)
	}

	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO working_memory (
			session_id, memory_id, attention_score, last_mentioned_turn,
			tier, focus_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, memory_id) DO UPDATE SET
			attention_score = excluded.attention_score,
			last_mentioned_turn = excluded.last_mentioned_turn,
			tier = excluded.tier,
			focus_count = working_memory.focus_count + excluded.focus_count,
			updated_at = excluded.updated_at`,
		entry.SessionID,
		entry.MemoryID,
		clampUnit(entry.AttentionScore),
		entry.LastMentionedTurn,
		string(entry.Tier),
		entry.FocusCount,
		now,
		now,
	)
	if err != nil {
		return wrapBusy(fmt.Errorf("failed to upsert working memory entry: %w", err))
	}
	return nil
}

// GetEntry retrieves one attention row.
func (s *Store) GetEntry(ctx context.Context, sessionID string, memoryID int64) (*types.WorkingMemoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, memory_id, attention_score, last_mentioned_turn,
		       tier, focus_count, created_at, updated_at
		FROM working_memory
		WHERE session_id = ? AND memory_id = ?`,
		sessionID, memoryID)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrapBusy(fmt.Errorf("failed to get working memory entry: %w", err))
	}
	return entry, nil
}

// ListSession returns every row for a session, highest attention first.
func (s *Store) ListSession(ctx context.Context, sessionID string) ([]*types.WorkingMemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, memory_id, attention_score, last_mentioned_turn,
		       tier, focus_count, created_at, updated_at
		FROM working_memory
		WHERE session_id = ?
		ORDER BY attention_score DESC, memory_id ASC`,
		sessionID)
	if err != nil {
		return nil, wrapBusy(fmt.Errorf("failed to list session: %w", err))
	}
	defer rows.Close()

	var entries []*types.WorkingMemoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan working memory entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// UpdateScore overwrites attention score and tier for one row.
func (s *Store) UpdateScore(ctx context.Context, sessionID string, memoryID int64, score float64, tier types.AttentionTier) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE working_memory
		SET attention_score = ?, tier = ?, updated_at = ?
		WHERE session_id = ? AND memory_id = ?`,
		clampUnit(score), string(tier), time.Now(), sessionID, memoryID)
	if err != nil {
		return wrapBusy(fmt.Errorf("failed to update attention score: %w", err))
	}
	return requireRow(res)
}

// CountSession returns the number of rows held for a session.
func (s *Store) CountSession(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM working_memory WHERE session_id = ?`, sessionID).Scan(&count)
	if err != nil {
		return 0, wrapBusy(fmt.Errorf("failed to count session: %w", err))
	}
	return count, nil
}

// EvictStalest removes the least recently mentioned row (ties broken by
// lowest attention) and returns its memory id.
func (s *Store) EvictStalest(ctx context.Context, sessionID string) (int64, error) {
	var memoryID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT memory_id FROM working_memory
		WHERE session_id = ?
		ORDER BY last_mentioned_turn ASC, attention_score ASC, memory_id ASC
		LIMIT 1`,
		sessionID).Scan(&memoryID)
	if err == sql.ErrNoRows {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, wrapBusy(fmt.Errorf("failed to pick eviction candidate: %w", err))
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM working_memory WHERE session_id = ? AND memory_id = ?`,
		sessionID, memoryID)
	if err != nil {
		return 0, wrapBusy(fmt.Errorf("failed to evict entry: %w", err))
	}
	return memoryID, nil
}

// DeleteSession removes every row for a session and returns the count.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM working_memory WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, wrapBusy(fmt.Errorf("failed to clear session: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}

// SessionStats aggregates entry count and attention spread for a session.
// A session with no rows yields zeroed stats.
func (s *Store) SessionStats(ctx context.Context, sessionID string) (*types.SessionStats, error) {
	stats := &types.SessionStats{SessionID: sessionID}

	var (
		avg, max, min sql.NullFloat64
		focus         sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(attention_score), MAX(attention_score),
		       MIN(attention_score), SUM(focus_count)
		FROM working_memory
		WHERE session_id = ?`,
		sessionID).Scan(&stats.Entries, &avg, &max, &min, &focus)
	if err != nil {
		return nil, wrapBusy(fmt.Errorf("failed to aggregate session stats: %w", err))
	}

	stats.AvgAttention = avg.Float64
	stats.MaxAttention = max.Float64
	stats.MinAttention = min.Float64
	stats.TotalFocus = int(focus.Int64)
	return stats, nil
}

func scanEntry(sc scanner) (*types.WorkingMemoryEntry, error) {
	var (
		entry types.WorkingMemoryEntry
		tier  string
	)
	err := sc.Scan(
		&entry.SessionID, &entry.MemoryID, &entry.AttentionScore,
		&entry.LastMentionedTurn, &tier, &entry.FocusCount,
		&entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.Tier = types.AttentionTier(tier)
	return &entry, nil
}

// clampUnit forces an attention score into [0, 1]. NaN maps to 0.
func clampUnit(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
