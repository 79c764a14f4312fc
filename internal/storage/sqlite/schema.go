// Package sqlite provides the embedded SQLite implementation of the
// storage interfaces.
package sqlite

// Schema contains the SQL statements to create the core schema. Every
// statement is idempotent so the schema can be applied on each open.
const Schema = `
-- Memory index: long-term memories with their retention state
CREATE TABLE IF NOT EXISTS memory_index (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT,
    content TEXT NOT NULL,
    importance_tier TEXT NOT NULL DEFAULT 'normal',

    -- Forgetting-curve state
    stability REAL NOT NULL DEFAULT 1.0,
    difficulty REAL NOT NULL DEFAULT 5.0,
    review_count INTEGER NOT NULL DEFAULT 0,
    last_review TIMESTAMP,

    -- Quality signals
    access_count INTEGER NOT NULL DEFAULT 0,

    -- Related memory ids for spreading activation (JSON array)
    related_ids TEXT,

    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_memory_tier ON memory_index(importance_tier);
CREATE INDEX IF NOT EXISTS idx_memory_stability ON memory_index(stability);

-- Working memory: session-scoped attention rows
CREATE TABLE IF NOT EXISTS working_memory (
    session_id TEXT NOT NULL,
    memory_id INTEGER NOT NULL,
    attention_score REAL NOT NULL DEFAULT 1.0,
    last_mentioned_turn INTEGER NOT NULL DEFAULT 0,
    tier TEXT NOT NULL DEFAULT 'HOT',
    focus_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (session_id, memory_id),
    FOREIGN KEY (memory_id) REFERENCES memory_index(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_wm_session ON working_memory(session_id);
CREATE INDEX IF NOT EXISTS idx_wm_attention ON working_memory(session_id, attention_score DESC);
`

// CorrectionsSchema contains the ledger and causal-edge DDL. It is applied
// only when the corrections feature is enabled, so a store opened with the
// feature off has no ledger tables and write paths surface that state.
const CorrectionsSchema = `
-- Correction ledger: one row per correction event with stability snapshots
CREATE TABLE IF NOT EXISTS memory_corrections (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    original_memory_id INTEGER NOT NULL,
    correction_memory_id INTEGER,
    correction_type TEXT NOT NULL,

    -- Before/after snapshots make undo an exact restore
    original_stability_before REAL NOT NULL,
    original_stability_after REAL NOT NULL,
    correction_stability_before REAL,
    correction_stability_after REAL,

    reason TEXT,
    corrected_by TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,

    is_undone INTEGER NOT NULL DEFAULT 0,
    undone_at TIMESTAMP,

    FOREIGN KEY (original_memory_id) REFERENCES memory_index(id) ON DELETE CASCADE,
    FOREIGN KEY (correction_memory_id) REFERENCES memory_index(id) ON DELETE SET NULL
);

CREATE INDEX IF NOT EXISTS idx_corr_original ON memory_corrections(original_memory_id);
CREATE INDEX IF NOT EXISTS idx_corr_correction ON memory_corrections(correction_memory_id);
CREATE INDEX IF NOT EXISTS idx_corr_type ON memory_corrections(correction_type);
CREATE INDEX IF NOT EXISTS idx_corr_created ON memory_corrections(created_at);
CREATE INDEX IF NOT EXISTS idx_corr_active ON memory_corrections(original_memory_id)
    WHERE is_undone = 0;

-- Causal edges: provenance links emitted alongside corrections
CREATE TABLE IF NOT EXISTS causal_edges (
    source_id INTEGER NOT NULL,
    target_id INTEGER NOT NULL,
    relation TEXT NOT NULL,
    strength REAL NOT NULL DEFAULT 1.0,
    evidence TEXT,
    extracted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (source_id, target_id, relation)
);
`
