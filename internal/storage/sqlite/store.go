package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/quintale/engram/internal/storage"
	"github.com/quintale/engram/pkg/types"
)

// Store implements storage.MemoryStore, storage.WorkingMemoryStore,
// storage.CorrectionStore, and storage.CausalStore on a single SQLite
// database.
type Store struct {
	db          *sql.DB
	corrections bool
}

// Options configures a Store at open time.
type Options struct {
	// EnableCorrections applies the ledger schema. When false the store
	// has no correction tables: ledger reads return empty results and
	// ledger writes return storage.ErrNotInitialized.
	EnableCorrections bool
}

// New opens a SQLite store with WAL self-healing. If the initial open
// fails due to stale WAL files (left behind by a crashed process), it
// verifies no other process holds them and retries once after removing
// the stale -shm/-wal files.
func New(dsn string, opts Options) (*Store, error) {
	store, err := open(dsn, opts)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" {
		return nil, err
	}

	if !isWALStale(dbPath) {
		return nil, err
	}

	removeStaleWAL(dbPath)

	store, retryErr := open(dsn, opts)
	if retryErr != nil {
		return nil, fmt.Errorf("failed after WAL recovery: %w (original: %v)", retryErr, err)
	}

	log.Printf("sqlite: recovered from stale WAL files for %s", dbPath)
	return store, nil
}

// open opens the database, configures WAL mode, and creates the schema.
func open(dsn string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Using a single open
	// connection serialises writes and avoids SQLITE_BUSY errors under
	// concurrent load. WAL mode allows concurrent readers to proceed
	// without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait instead of getting an immediate SQLITE_BUSY error when the
	// connection is held by another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if opts.EnableCorrections {
		if _, err := db.Exec(CorrectionsSchema); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create corrections schema: %w", err)
		}
	}

	return &Store{db: db, corrections: opts.EnableCorrections}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CorrectionsEnabled reports whether the ledger schema was applied.
func (s *Store) CorrectionsEnabled() bool {
	return s.corrections
}

const memoryColumns = `id, title, content, importance_tier, stability, difficulty,
	review_count, last_review, access_count, related_ids, created_at, updated_at`

// Get retrieves a memory by ID.
func (s *Store) Get(ctx context.Context, id int64) (*types.MemoryRecord, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: memory id must be positive", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memory_index WHERE id = ?`, id)

	rec, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrapBusy(fmt.Errorf("failed to get memory %d: %w", id, err))
	}
	return rec, nil
}

// GetMany retrieves the given memories in one query. Missing ids are
// skipped; the result follows the input order.
func (s *Store) GetMany(ctx context.Context, ids []int64) ([]*types.MemoryRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memory_index WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, wrapBusy(fmt.Errorf("failed to get memories: %w", err))
	}
	defer rows.Close()

	byID := make(map[int64]*types.MemoryRecord, len(ids))
	for rows.Next() {
		rec, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		byID[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, wrapBusy(err)
	}

	out := make([]*types.MemoryRecord, 0, len(byID))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
			delete(byID, id)
		}
	}
	return out, nil
}

// Insert creates a memory row and returns its assigned ID.
func (s *Store) Insert(ctx context.Context, rec *types.MemoryRecord) (int64, error) {
	if rec == nil {
		return 0, storage.ErrInvalidInput
	}
	if rec.Content == "" {
		return 0, fmt.Errorf("%w: memory content is required", storage.ErrInvalidInput)
	}

	rec.ImportanceTier = types.NormalizeImportanceTier(rec.ImportanceTier)
	if rec.Stability == 0 {
		rec.Stability = types.DefaultStability
	}
	if rec.Difficulty == 0 {
		rec.Difficulty = types.DefaultDifficulty
	}
	rec.Stability = types.ClampStability(rec.Stability)
	rec.Difficulty = types.ClampDifficulty(rec.Difficulty)

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}

	var relatedJSON []byte
	if len(rec.RelatedIDs) > 0 {
		var err error
		relatedJSON, err = json.Marshal(rec.RelatedIDs)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal related ids: %w", err)
		}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_index (
			title, content, importance_tier, stability, difficulty,
			review_count, last_review, access_count, related_ids,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableString(rec.Title),
		rec.Content,
		string(rec.ImportanceTier),
		rec.Stability,
		rec.Difficulty,
		rec.ReviewCount,
		nullableTime(rec.LastReview),
		rec.AccessCount,
		nullableBytes(relatedJSON),
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return 0, wrapBusy(fmt.Errorf("failed to insert memory: %w", err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}
	rec.ID = id
	return id, nil
}

// UpdateStability overwrites a memory's stability, clamped.
func (s *Store) UpdateStability(ctx context.Context, id int64, stability float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memory_index SET stability = ?, updated_at = ? WHERE id = ?`,
		types.ClampStability(stability), time.Now(), id)
	if err != nil {
		return wrapBusy(fmt.Errorf("failed to update stability: %w", err))
	}
	return requireRow(res)
}

// ApplyReview persists the outcome of one review cycle.
func (s *Store) ApplyReview(ctx context.Context, id int64, stability, difficulty float64, reviewedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_index
		SET stability = ?, difficulty = ?, review_count = review_count + 1,
		    last_review = ?, updated_at = ?
		WHERE id = ?`,
		types.ClampStability(stability),
		types.ClampDifficulty(difficulty),
		reviewedAt, time.Now(), id)
	if err != nil {
		return wrapBusy(fmt.Errorf("failed to apply review: %w", err))
	}
	return requireRow(res)
}

// IncrementAccess atomically bumps access_count.
func (s *Store) IncrementAccess(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memory_index SET access_count = access_count + 1, updated_at = ? WHERE id = ?`,
		time.Now(), id)
	if err != nil {
		return wrapBusy(fmt.Errorf("failed to increment access count: %w", err))
	}
	return requireRow(res)
}

// RelatedIDs returns the ordered related-memory ids for a memory, capped
// at limit. An unknown memory or one with no relations yields an empty
// slice.
func (s *Store) RelatedIDs(ctx context.Context, id int64, limit int) ([]int64, error) {
	if limit < 1 {
		limit = 5
	}

	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT related_ids FROM memory_index WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapBusy(fmt.Errorf("failed to read related ids: %w", err))
	}
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}

	var related []int64
	if err := json.Unmarshal([]byte(raw.String), &related); err != nil {
		// A malformed related_ids column degrades to no relations.
		log.Printf("sqlite: malformed related_ids for memory %d: %v", id, err)
		return nil, nil
	}
	if len(related) > limit {
		related = related[:limit]
	}
	return related, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(sc scanner) (*types.MemoryRecord, error) {
	var (
		rec        types.MemoryRecord
		title      sql.NullString
		tier       string
		lastReview sql.NullTime
		related    sql.NullString
	)

	err := sc.Scan(
		&rec.ID, &title, &rec.Content, &tier, &rec.Stability, &rec.Difficulty,
		&rec.ReviewCount, &lastReview, &rec.AccessCount, &related,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Title = title.String
	rec.ImportanceTier = types.NormalizeImportanceTier(types.ImportanceTier(tier))
	if lastReview.Valid {
		t := lastReview.Time
		rec.LastReview = &t
	}
	if related.Valid && related.String != "" {
		if err := json.Unmarshal([]byte(related.String), &rec.RelatedIDs); err != nil {
			rec.RelatedIDs = nil
		}
	}
	return &rec, nil
}

// requireRow maps a zero-row UPDATE to ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// wrapBusy maps transient SQLite lock errors onto storage.ErrBusy so
// callers can detect retryable failures with errors.Is.
func wrapBusy(err error) error {
	if err == nil {
		return nil
	}
	if storage.IsBusy(err) {
		return fmt.Errorf("%w: %v", storage.ErrBusy, err)
	}
	return err
}

// nullableTime converts a time pointer to sql.NullTime.
func nullableTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullableBytes converts a byte slice to sql.NullString.
func nullableBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// nullableString converts a string to sql.NullString.
// An empty string is treated as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullableFloat converts a float pointer to sql.NullFloat64.
func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{Valid: false}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// dbPathFromDSN extracts the filesystem path from a SQLite DSN.
// Handles bare paths ("/path/to/db.sqlite") and file: URIs
// ("file:/path/to/db.sqlite?mode=rwc"). Returns empty string for
// in-memory databases or unparseable DSNs.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}

	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" || path == "" {
			return ""
		}
		return path
	}

	return dsn
}

// isRecoverableWALError returns true if the error matches patterns caused
// by stale WAL files left behind after a crash (SIGKILL, OOM, etc.).
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") ||
		strings.Contains(msg, "database is locked")
}

// isWALStale checks whether -shm/-wal files exist for the given database
// path AND no other process currently holds them open (via lsof).
// Returns false if lsof is unavailable (conservative: no deletion).
func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"

	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}

	cmd := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath)
	output, err := cmd.Output()
	if err != nil {
		// lsof returns exit code 1 when no files are open, meaning stale.
		return true
	}

	return strings.TrimSpace(string(output)) == ""
}

// removeStaleWAL removes -shm and -wal files for the given database path.
func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("sqlite: failed to remove stale %s: %v", path, err)
		}
	}
}

// fileExists returns true if the path exists on disk.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
