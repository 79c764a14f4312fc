package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quintale/engram/internal/storage"
	"github.com/quintale/engram/pkg/types"
)

// RecordCorrection applies both stability writes and inserts the ledger
// row in one transaction. The record arrives with its Before/After
// snapshots already computed; the store assigns ID and CreatedAt.
func (s *Store) RecordCorrection(ctx context.Context, rec *types.CorrectionRecord) error {
	if !s.corrections {
		return storage.ErrNotInitialized
	}
	if rec == nil {
		return storage.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapBusy(fmt.Errorf("failed to begin correction transaction: %w", err))
	}
	defer tx.Rollback()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE memory_index SET stability = ?, updated_at = ? WHERE id = ?`,
		types.ClampStability(rec.OriginalStabilityAfter), rec.CreatedAt, rec.OriginalMemoryID)
	if err != nil {
		return wrapBusy(fmt.Errorf("failed to penalize original memory: %w", err))
	}
	if err := requireRow(res); err != nil {
		return err
	}

	if rec.CorrectionMemoryID != nil && rec.CorrectionStabilityAfter != nil {
		res, err := tx.ExecContext(ctx,
			`UPDATE memory_index SET stability = ?, updated_at = ? WHERE id = ?`,
			types.ClampStability(*rec.CorrectionStabilityAfter), rec.CreatedAt, *rec.CorrectionMemoryID)
		if err != nil {
			return wrapBusy(fmt.Errorf("failed to boost correction memory: %w", err))
		}
		if err := requireRow(res); err != nil {
			return err
		}
	}

	ins, err := tx.ExecContext(ctx, `
		INSERT INTO memory_corrections (
			original_memory_id, correction_memory_id, correction_type,
			original_stability_before, original_stability_after,
			correction_stability_before, correction_stability_after,
			reason, corrected_by, created_at, is_undone
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		rec.OriginalMemoryID,
		nullableInt(rec.CorrectionMemoryID),
		string(rec.Type),
		rec.OriginalStabilityBefore,
		rec.OriginalStabilityAfter,
		nullableFloat(rec.CorrectionStabilityBefore),
		nullableFloat(rec.CorrectionStabilityAfter),
		nullableString(rec.Reason),
		nullableString(rec.CorrectedBy),
		rec.CreatedAt,
	)
	if err != nil {
		return wrapBusy(fmt.Errorf("failed to insert correction row: %w", err))
	}

	id, err := ins.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read correction id: %w", err)
	}
	rec.ID = id

	if err := tx.Commit(); err != nil {
		return wrapBusy(fmt.Errorf("failed to commit correction: %w", err))
	}
	return nil
}

const correctionColumns = `id, original_memory_id, correction_memory_id, correction_type,
	original_stability_before, original_stability_after,
	correction_stability_before, correction_stability_after,
	reason, corrected_by, created_at, is_undone, undone_at`

// GetCorrection retrieves one ledger row by id.
func (s *Store) GetCorrection(ctx context.Context, id int64) (*types.CorrectionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+correctionColumns+` FROM memory_corrections WHERE id = ?`, id)

	rec, err := scanCorrection(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if storage.IsMissingTable(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrapBusy(fmt.Errorf("failed to get correction %d: %w", id, err))
	}
	return rec, nil
}

// UndoCorrection restores both snapshot stabilities and flags the row
// undone, atomically. A second undo of the same row fails.
func (s *Store) UndoCorrection(ctx context.Context, id int64, undoneAt time.Time) error {
	if !s.corrections {
		return storage.ErrNotInitialized
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapBusy(fmt.Errorf("failed to begin undo transaction: %w", err))
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+correctionColumns+` FROM memory_corrections WHERE id = ?`, id)
	rec, err := scanCorrection(row)
	if err == sql.ErrNoRows {
		return storage.ErrNotFound
	}
	if err != nil {
		return wrapBusy(fmt.Errorf("failed to load correction for undo: %w", err))
	}
	if rec.IsUndone {
		return storage.ErrAlreadyUndone
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE memory_index SET stability = ?, updated_at = ? WHERE id = ?`,
		rec.OriginalStabilityBefore, undoneAt, rec.OriginalMemoryID)
	if err != nil {
		return wrapBusy(fmt.Errorf("failed to restore original stability: %w", err))
	}
	if err := requireRow(res); err != nil {
		return err
	}

	if rec.CorrectionMemoryID != nil && rec.CorrectionStabilityBefore != nil {
		res, err := tx.ExecContext(ctx,
			`UPDATE memory_index SET stability = ?, updated_at = ? WHERE id = ?`,
			*rec.CorrectionStabilityBefore, undoneAt, *rec.CorrectionMemoryID)
		if err != nil {
			return wrapBusy(fmt.Errorf("failed to restore correction stability: %w", err))
		}
		if err := requireRow(res); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE memory_corrections SET is_undone = 1, undone_at = ? WHERE id = ?`,
		undoneAt, id)
	if err != nil {
		return wrapBusy(fmt.Errorf("failed to flag correction undone: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return wrapBusy(fmt.Errorf("failed to commit undo: %w", err))
	}
	return nil
}

// CorrectionsByOriginal returns rows whose original is the given memory,
// newest first.
func (s *Store) CorrectionsByOriginal(ctx context.Context, memoryID int64, opts storage.CorrectionListOptions) ([]*types.CorrectionRecord, error) {
	return s.listCorrections(ctx, `original_memory_id = ?`, memoryID, opts)
}

// CorrectionsByCorrection returns rows whose correction side is the given
// memory, newest first.
func (s *Store) CorrectionsByCorrection(ctx context.Context, memoryID int64, opts storage.CorrectionListOptions) ([]*types.CorrectionRecord, error) {
	return s.listCorrections(ctx, `correction_memory_id = ?`, memoryID, opts)
}

// CorrectionsFor returns rows touching the memory on either side, newest
// first.
func (s *Store) CorrectionsFor(ctx context.Context, memoryID int64, opts storage.CorrectionListOptions) ([]*types.CorrectionRecord, error) {
	opts.Normalize()
	where := `(original_memory_id = ? OR correction_memory_id = ?)`
	if !opts.IncludeUndone {
		where += ` AND is_undone = 0`
	}
	return s.queryCorrections(ctx,
		`SELECT `+correctionColumns+` FROM memory_corrections
		 WHERE `+where+` ORDER BY created_at DESC, id DESC LIMIT ?`,
		memoryID, memoryID, opts.Limit)
}

func (s *Store) listCorrections(ctx context.Context, where string, memoryID int64, opts storage.CorrectionListOptions) ([]*types.CorrectionRecord, error) {
	opts.Normalize()
	if !opts.IncludeUndone {
		where += ` AND is_undone = 0`
	}
	return s.queryCorrections(ctx,
		`SELECT `+correctionColumns+` FROM memory_corrections
		 WHERE `+where+` ORDER BY created_at DESC, id DESC LIMIT ?`,
		memoryID, opts.Limit)
}

func (s *Store) queryCorrections(ctx context.Context, query string, args ...any) ([]*types.CorrectionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if storage.IsMissingTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapBusy(fmt.Errorf("failed to list corrections: %w", err))
	}
	defer rows.Close()

	var out []*types.CorrectionRecord
	for rows.Next() {
		rec, err := scanCorrection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan correction: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CorrectionStats aggregates ledger activity. A store without the ledger
// schema yields zeroed stats.
func (s *Store) CorrectionStats(ctx context.Context, now time.Time) (*storage.CorrectionStats, error) {
	stats := &storage.CorrectionStats{ByType: make(map[string]int)}
	if !s.corrections {
		return stats, nil
	}

	cutoff := now.Add(-24 * time.Hour)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(is_undone), 0),
		       COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0)
		FROM memory_corrections`,
		cutoff).Scan(&stats.Total, &stats.Undone, &stats.Last24h)
	if storage.IsMissingTable(err) {
		return stats, nil
	}
	if err != nil {
		return nil, wrapBusy(fmt.Errorf("failed to aggregate correction stats: %w", err))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT correction_type, COUNT(*)
		FROM memory_corrections
		WHERE is_undone = 0
		GROUP BY correction_type`)
	if err != nil {
		return nil, wrapBusy(fmt.Errorf("failed to aggregate by type: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ctype string
			count int
		)
		if err := rows.Scan(&ctype, &count); err != nil {
			return nil, fmt.Errorf("failed to scan type count: %w", err)
		}
		stats.ByType[ctype] = count
	}
	return stats, rows.Err()
}

// InsertEdge writes one causal edge, replacing an existing edge with the
// same source, target, and relation.
func (s *Store) InsertEdge(ctx context.Context, edge *types.CausalEdge) error {
	if !s.corrections {
		return storage.ErrNotInitialized
	}
	if edge == nil {
		return storage.ErrInvalidInput
	}

	extractedAt := edge.ExtractedAt
	if extractedAt.IsZero() {
		extractedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO causal_edges (
			source_id, target_id, relation, strength, evidence, extracted_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		edge.SourceID, edge.TargetID, string(edge.Relation),
		edge.Strength, nullableString(edge.Evidence), extractedAt)
	if storage.IsMissingTable(err) {
		return storage.ErrNotInitialized
	}
	if err != nil {
		return wrapBusy(fmt.Errorf("failed to insert causal edge: %w", err))
	}
	return nil
}

// DeleteEdge removes the edge between the pair, any relation. Missing
// edges and missing tables are no-ops.
func (s *Store) DeleteEdge(ctx context.Context, sourceID, targetID int64) error {
	if !s.corrections {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM causal_edges WHERE source_id = ? AND target_id = ?`,
		sourceID, targetID)
	if storage.IsMissingTable(err) {
		return nil
	}
	if err != nil {
		return wrapBusy(fmt.Errorf("failed to delete causal edge: %w", err))
	}
	return nil
}

func scanCorrection(sc scanner) (*types.CorrectionRecord, error) {
	var (
		rec          types.CorrectionRecord
		correctionID sql.NullInt64
		corrBefore   sql.NullFloat64
		corrAfter    sql.NullFloat64
		reason       sql.NullString
		correctedBy  sql.NullString
		undone       int
		undoneAt     sql.NullTime
		ctype        string
	)

	err := sc.Scan(
		&rec.ID, &rec.OriginalMemoryID, &correctionID, &ctype,
		&rec.OriginalStabilityBefore, &rec.OriginalStabilityAfter,
		&corrBefore, &corrAfter,
		&reason, &correctedBy, &rec.CreatedAt, &undone, &undoneAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Type = types.CorrectionType(ctype)
	if correctionID.Valid {
		id := correctionID.Int64
		rec.CorrectionMemoryID = &id
	}
	if corrBefore.Valid {
		v := corrBefore.Float64
		rec.CorrectionStabilityBefore = &v
	}
	if corrAfter.Valid {
		v := corrAfter.Float64
		rec.CorrectionStabilityAfter = &v
	}
	rec.Reason = reason.String
	rec.CorrectedBy = correctedBy.String
	rec.IsUndone = undone != 0
	if undoneAt.Valid {
		t := undoneAt.Time
		rec.UndoneAt = &t
	}
	return &rec, nil
}

// nullableInt converts an int64 pointer to sql.NullInt64.
func nullableInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
