package engine

import (
	"math"
	"sort"

	"github.com/quintale/engram/pkg/types"
)

const (
	// DefaultHotThreshold is the attention score at or above which an
	// entry surfaces with full content.
	DefaultHotThreshold = 0.8

	// DefaultWarmThreshold is the attention score at or above which an
	// entry surfaces as a summary.
	DefaultWarmThreshold = 0.25

	// summaryFallbackRunes is how much content stands in for a summary
	// when a memory has no title.
	summaryFallbackRunes = 150
)

// Classifier maps attention scores to surfacing tiers. The zero value is
// unusable; construct with NewClassifier.
type Classifier struct {
	hot  float64
	warm float64
}

// NewClassifier builds a classifier with the given thresholds. An
// inverted or out-of-range pair falls back to the defaults.
func NewClassifier(hot, warm float64) *Classifier {
	if math.IsNaN(hot) || math.IsNaN(warm) || hot <= warm || hot > 1 || warm < 0 {
		hot, warm = DefaultHotThreshold, DefaultWarmThreshold
	}
	return &Classifier{hot: hot, warm: warm}
}

// Classify maps an attention score to its tier. NaN scores read as COLD.
func (c *Classifier) Classify(score float64) types.AttentionTier {
	if math.IsNaN(score) {
		return types.AttentionCold
	}
	switch {
	case score >= c.hot:
		return types.AttentionHot
	case score >= c.warm:
		return types.AttentionWarm
	default:
		return types.AttentionCold
	}
}

// SurfacedEntry is one working-memory entry prepared for the context
// window.
type SurfacedEntry struct {
	MemoryID       int64
	Tier           types.AttentionTier
	AttentionScore float64
	Content        string
}

// TieredContent renders a record for its attention tier: HOT keeps the
// full content, WARM collapses to the title (or a content prefix when
// the title is empty), COLD is excluded.
func TieredContent(rec *types.MemoryRecord, tier types.AttentionTier) (string, bool) {
	if rec == nil {
		return "", false
	}
	switch tier {
	case types.AttentionHot:
		return rec.Content, true
	case types.AttentionWarm:
		if rec.Title != "" {
			return rec.Title, true
		}
		runes := []rune(rec.Content)
		if len(runes) > summaryFallbackRunes {
			return string(runes[:summaryFallbackRunes]), true
		}
		return rec.Content, true
	default:
		return "", false
	}
}

// FilterAndRank drops COLD entries and orders the rest: the HOT block
// first, then WARM, each sorted by descending attention score. The sort
// is stable so equal scores keep their input order.
func (c *Classifier) FilterAndRank(entries []*types.WorkingMemoryEntry) []*types.WorkingMemoryEntry {
	var kept []*types.WorkingMemoryEntry
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		if c.Classify(entry.AttentionScore) != types.AttentionCold {
			kept = append(kept, entry)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		hotI := c.Classify(kept[i].AttentionScore) == types.AttentionHot
		hotJ := c.Classify(kept[j].AttentionScore) == types.AttentionHot
		if hotI != hotJ {
			return hotI
		}
		return kept[i].AttentionScore > kept[j].AttentionScore
	})
	return kept
}
