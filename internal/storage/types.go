package storage

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound indicates that the requested row was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotInitialized indicates a write against a table whose schema was
	// never created (for example corrections when the feature is disabled).
	ErrNotInitialized = errors.New("store not initialized")

	// ErrBusy indicates transient lock contention. Callers may retry.
	ErrBusy = errors.New("store busy")

	// ErrAlreadyUndone indicates a second undo of the same correction row.
	ErrAlreadyUndone = errors.New("correction already undone")
)

// IsBusy reports whether err is a transient SQLite lock error. The driver
// surfaces contention as SQLITE_BUSY / SQLITE_LOCKED message text, so the
// check is on the message rather than a typed error.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBusy) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

// IsMissingTable reports whether err means the queried table was never
// created. Read paths treat this as an empty result rather than a failure.
func IsMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

// ChainOptions bounds a correction chain traversal.
type ChainOptions struct {
	// MaxDepth is the maximum number of correction links to follow from
	// the starting memory (default: 10, max: 50).
	MaxDepth int

	// IncludeUndone includes undone corrections in the walk.
	IncludeUndone bool
}

// Normalize applies defaults and validates the ChainOptions.
func (o *ChainOptions) Normalize() {
	if o.MaxDepth < 1 {
		o.MaxDepth = 10
	}
	if o.MaxDepth > 50 {
		o.MaxDepth = 50
	}
}

// CorrectionListOptions filters correction lookups for a single memory.
type CorrectionListOptions struct {
	// IncludeUndone includes undone rows in the result.
	IncludeUndone bool

	// Limit is the maximum number of rows to return (default: 10, max: 100).
	Limit int
}

// Normalize applies defaults and validates the CorrectionListOptions.
func (o *CorrectionListOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 10
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
}

// CorrectionStats summarizes ledger activity.
type CorrectionStats struct {
	// Total counts every ledger row, undone included.
	Total int

	// ByType counts active (not undone) rows per correction type.
	ByType map[string]int

	// Undone counts rows that have been rolled back.
	Undone int

	// Last24h counts rows created in the trailing 24 hours.
	Last24h int
}
