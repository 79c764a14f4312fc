package engine

import (
	"math"
	"slices"
	"strings"
)

const (
	// DefaultRRFK dampens the influence of exact rank positions. Sixty
	// is the standard constant for reciprocal rank fusion.
	DefaultRRFK = 60

	// DefaultFusionLimit caps the fused result list.
	DefaultFusionLimit = 10

	// ConvergenceBonus rewards candidates that both retrieval channels
	// agree on.
	ConvergenceBonus = 0.1

	// termBonusPerMatch and termBonusCap bound the per-term content
	// bonus in advanced score fusion.
	termBonusPerMatch = 0.05
	termBonusCap      = 0.2

	// termMinLength filters short stopword-like query terms from the
	// per-term bonus.
	termMinLength = 3
)

// Candidate is one entry from a retrieval channel's ranked list.
type Candidate struct {
	MemoryID int64   `json:"memory_id"`
	Score    float64 `json:"score"`
}

// FusedResult is one candidate after reciprocal rank fusion.
type FusedResult struct {
	MemoryID    int64   `json:"memory_id"`
	FusedScore  float64 `json:"fused_score"`
	InVector    bool    `json:"in_vector"`
	InLexical   bool    `json:"in_lexical"`
	VectorRank  int     `json:"vector_rank,omitempty"`
	LexicalRank int     `json:"lexical_rank,omitempty"`
}

// FusionOptions tunes FuseRRF. The zero value means defaults.
type FusionOptions struct {
	K     int
	Limit int
}

// Normalize applies defaults to the FusionOptions.
func (o *FusionOptions) Normalize() {
	if o.K < 1 {
		o.K = DefaultRRFK
	}
	if o.Limit < 1 {
		o.Limit = DefaultFusionLimit
	}
}

// FuseRRF merges two ranked candidate lists with reciprocal rank fusion:
// each list contributes 1/(k+rank) per candidate (ranks are 1-based),
// candidates present in both lists earn the convergence bonus, and the
// merged list is deduplicated, sorted by fused score, and truncated.
// Ties break on memory id so the output is deterministic.
func FuseRRF(vector, lexical []Candidate, opts FusionOptions) []FusedResult {
	opts.Normalize()

	merged := make(map[int64]*FusedResult)
	for rank, cand := range vector {
		if cand.MemoryID <= 0 {
			continue
		}
		res := merged[cand.MemoryID]
		if res == nil {
			res = &FusedResult{MemoryID: cand.MemoryID}
			merged[cand.MemoryID] = res
		}
		if !res.InVector {
			res.InVector = true
			res.VectorRank = rank + 1
			res.FusedScore += 1.0 / float64(opts.K+rank+1)
		}
	}
	for rank, cand := range lexical {
		if cand.MemoryID <= 0 {
			continue
		}
		res := merged[cand.MemoryID]
		if res == nil {
			res = &FusedResult{MemoryID: cand.MemoryID}
			merged[cand.MemoryID] = res
		}
		if !res.InLexical {
			res.InLexical = true
			res.LexicalRank = rank + 1
			res.FusedScore += 1.0 / float64(opts.K+rank+1)
		}
	}

	out := make([]FusedResult, 0, len(merged))
	for _, res := range merged {
		if res.InVector && res.InLexical {
			res.FusedScore += ConvergenceBonus
		}
		out = append(out, *res)
	}

	slices.SortFunc(out, func(a, b FusedResult) int {
		switch {
		case a.FusedScore > b.FusedScore:
			return -1
		case a.FusedScore < b.FusedScore:
			return 1
		case a.MemoryID < b.MemoryID:
			return -1
		case a.MemoryID > b.MemoryID:
			return 1
		default:
			return 0
		}
	})

	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// FuseScoresAdvanced combines per-document semantic and keyword scores:
// the base is the stronger of the two, convergence (both channels
// positive) adds a fixed bonus, and each distinct query term longer than
// three characters found in the content adds a small capped bonus. The
// result is capped at 1.0.
func FuseScoresAdvanced(semantic, keyword float64, content, query string) float64 {
	if math.IsNaN(semantic) || semantic < 0 {
		semantic = 0
	}
	if math.IsNaN(keyword) || keyword < 0 {
		keyword = 0
	}

	score := math.Max(semantic, keyword)
	if semantic > 0 && keyword > 0 {
		score += ConvergenceBonus
	}
	score += termMatchBonus(content, query)

	return math.Min(score, 1.0)
}

// termMatchBonus counts distinct query terms longer than the minimum
// that appear in the content, case-insensitively.
func termMatchBonus(content, query string) float64 {
	if content == "" || query == "" {
		return 0
	}
	haystack := strings.ToLower(content)

	seen := make(map[string]struct{})
	bonus := 0.0
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if len([]rune(term)) <= termMinLength {
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		if strings.Contains(haystack, term) {
			bonus += termBonusPerMatch
		}
	}
	return math.Min(bonus, termBonusCap)
}
