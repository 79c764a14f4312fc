package types

import "time"

// Stability and difficulty bounds shared by the scheduler and every store
// write path. Stability is measured in days; difficulty is unitless.
const (
	MinStability = 0.1
	MaxStability = 365.0
	MinDifficulty = 1.0
	MaxDifficulty = 10.0

	DefaultStability  = 1.0
	DefaultDifficulty = 5.0
)

// ClampStability forces a stability value into the persistable range.
func ClampStability(s float64) float64 {
	if s != s || s < MinStability {
		return MinStability
	}
	if s > MaxStability {
		return MaxStability
	}
	return s
}

// ClampDifficulty forces a difficulty value into the persistable range.
func ClampDifficulty(d float64) float64 {
	if d != d || d < MinDifficulty {
		return MinDifficulty
	}
	if d > MaxDifficulty {
		return MaxDifficulty
	}
	return d
}

// MemoryRecord is a single long-term memory with its retention state.
type MemoryRecord struct {
	ID             int64          `json:"id"`                        // Row identifier
	Title          string         `json:"title,omitempty"`           // Short label, used as the WARM summary
	Content        string         `json:"content"`                   // Full memory content
	ImportanceTier ImportanceTier `json:"importance_tier"`           // Retention tier
	Stability      float64        `json:"stability"`                 // Forgetting-curve stability in days
	Difficulty     float64        `json:"difficulty"`                // Review difficulty, 1-10
	AccessCount    int            `json:"access_count"`              // Lifetime access counter
	ReviewCount    int            `json:"review_count"`              // Completed review cycles
	LastReview     *time.Time     `json:"last_review,omitempty"`     // Most recent review, nil if never reviewed
	RelatedIDs     []int64        `json:"related_ids,omitempty"`     // Ordered related memory ids for spreading activation
	CreatedAt      time.Time      `json:"created_at"`                // Row creation time
	UpdatedAt      time.Time      `json:"updated_at"`                // Last mutation time
}

// WorkingMemoryEntry is a session-scoped attention row for one memory.
type WorkingMemoryEntry struct {
	SessionID         string        `json:"session_id"`          // Owning session
	MemoryID          int64         `json:"memory_id"`           // Target memory
	AttentionScore    float64       `json:"attention_score"`     // Current attention, 0-1
	LastMentionedTurn int           `json:"last_mentioned_turn"` // Turn of last direct mention or boost
	Tier              AttentionTier `json:"tier"`                // HOT, WARM, or COLD
	FocusCount        int           `json:"focus_count"`         // Times this entry was directly activated
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// CorrectionRecord is one row in the correction ledger. Before/after
// stability snapshots make undo an exact restore rather than a recompute.
type CorrectionRecord struct {
	ID                        int64          `json:"id"`
	OriginalMemoryID          int64          `json:"original_memory_id"`
	CorrectionMemoryID        *int64         `json:"correction_memory_id,omitempty"` // Nil for pure deprecation
	Type                      CorrectionType `json:"correction_type"`
	OriginalStabilityBefore   float64        `json:"original_stability_before"`
	OriginalStabilityAfter    float64        `json:"original_stability_after"`
	CorrectionStabilityBefore *float64       `json:"correction_stability_before,omitempty"`
	CorrectionStabilityAfter  *float64       `json:"correction_stability_after,omitempty"`
	Reason                    string         `json:"reason,omitempty"`
	CorrectedBy               string         `json:"corrected_by,omitempty"` // Agent or user that recorded the correction
	CreatedAt                 time.Time      `json:"created_at"`
	IsUndone                  bool           `json:"is_undone"`
	UndoneAt                  *time.Time     `json:"undone_at,omitempty"`
}

// CausalEdge is a provenance edge emitted alongside a correction.
type CausalEdge struct {
	SourceID    int64          `json:"source_id"` // The correcting memory
	TargetID    int64          `json:"target_id"` // The corrected memory
	Relation    CausalRelation `json:"relation"`
	Strength    float64        `json:"strength"`
	Evidence    string         `json:"evidence,omitempty"`
	ExtractedAt time.Time      `json:"extracted_at"`
}

// SessionStats summarizes a session's working-memory footprint.
type SessionStats struct {
	SessionID    string  `json:"session_id"`
	Entries      int     `json:"entries"`
	AvgAttention float64 `json:"avg_attention"`
	MaxAttention float64 `json:"max_attention"`
	MinAttention float64 `json:"min_attention"`
	TotalFocus   int     `json:"total_focus"`
}
