package engine

import (
	"math"
	"slices"
	"time"

	"github.com/quintale/engram/pkg/types"
)

const (
	// recencyDecayPerDay controls how fast the recency factor falls off.
	recencyDecayPerDay = 0.10

	// popularityLogCeiling is the log10 access count at which popularity
	// saturates (10^3 accesses).
	popularityLogCeiling = 3.0

	// neutralRecency stands in when a record has no usable timestamp.
	neutralRecency = 0.5
)

// Weights are the composite scorer's per-factor weights.
type Weights struct {
	Similarity float64 `yaml:"similarity"`
	Importance float64 `yaml:"importance"`
	Recency    float64 `yaml:"recency"`
	Popularity float64 `yaml:"popularity"`
	TierBoost  float64 `yaml:"tier_boost"`
}

// DefaultWeights returns the standard factor weighting: similarity
// dominates, importance second, recency third.
func DefaultWeights() Weights {
	return Weights{
		Similarity: 0.35,
		Importance: 0.25,
		Recency:    0.20,
		Popularity: 0.10,
		TierBoost:  0.10,
	}
}

// Valid reports whether every weight is finite and non-negative and at
// least one is positive.
func (w Weights) Valid() bool {
	sum := 0.0
	for _, v := range []float64{w.Similarity, w.Importance, w.Recency, w.Popularity, w.TierBoost} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
		sum += v
	}
	return sum > 0
}

// FactorDetail explains one factor's contribution to a composite score.
type FactorDetail struct {
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// Breakdown itemizes a composite score. The factor contributions sum to
// Total before clamping.
type Breakdown struct {
	Similarity FactorDetail `json:"similarity"`
	Importance FactorDetail `json:"importance"`
	Recency    FactorDetail `json:"recency"`
	Popularity FactorDetail `json:"popularity"`
	TierBoost  FactorDetail `json:"tier_boost"`
	Total      float64      `json:"total"`
}

// ScoredRecord pairs a record with its composite score.
type ScoredRecord struct {
	Record    *types.MemoryRecord `json:"record"`
	Score     float64             `json:"score"`
	Breakdown Breakdown           `json:"breakdown"`
}

// RecencyScore maps a record's last update to [0, 1] with hyperbolic
// falloff: 1/(1 + 0.10*days). Constitutional memories are always fully
// recent, records with no usable timestamp read neutral, and future
// timestamps read fully recent.
func RecencyScore(updatedAt time.Time, tier types.ImportanceTier, now time.Time) float64 {
	if tier == types.TierConstitutional {
		return 1.0
	}
	if updatedAt.IsZero() {
		return neutralRecency
	}
	days := now.Sub(updatedAt).Hours() / 24.0
	if days <= 0 {
		return 1.0
	}
	return 1.0 / (1.0 + recencyDecayPerDay*days)
}

// PopularityScore maps a lifetime access count to [0, 1] on a log scale:
// min(1, log10(n+1)/3). Ten accesses land at ~1/3, a thousand saturates.
func PopularityScore(accessCount int) float64 {
	if accessCount < 0 {
		accessCount = 0
	}
	return math.Min(1.0, math.Log10(float64(accessCount)+1)/popularityLogCeiling)
}

// Score computes the weighted composite for one record. similarity is
// the retrieval channel's 0-100 match score.
func Score(rec *types.MemoryRecord, similarity float64, weights Weights, now time.Time) (float64, Breakdown) {
	if !weights.Valid() {
		weights = DefaultWeights()
	}
	if rec == nil {
		return 0, Breakdown{}
	}

	if math.IsNaN(similarity) || similarity < 0 {
		similarity = 0
	}
	if similarity > 100 {
		similarity = 100
	}

	tier := types.NormalizeImportanceTier(rec.ImportanceTier)
	cfg := TierConfigFor(rec.ImportanceTier)

	factors := Breakdown{
		Similarity: factor(similarity/100.0, weights.Similarity),
		Importance: factor(cfg.Value, weights.Importance),
		Recency:    factor(RecencyScore(rec.UpdatedAt, tier, now), weights.Recency),
		Popularity: factor(PopularityScore(rec.AccessCount), weights.Popularity),
		TierBoost:  factor(TierBoost(rec.ImportanceTier), weights.TierBoost),
	}
	factors.Total = factors.Similarity.Contribution +
		factors.Importance.Contribution +
		factors.Recency.Contribution +
		factors.Popularity.Contribution +
		factors.TierBoost.Contribution

	return clampScore(factors.Total), factors
}

func factor(value, weight float64) FactorDetail {
	return FactorDetail{Value: value, Weight: weight, Contribution: value * weight}
}

// SimilarityInput pairs a record with its retrieval similarity for batch
// scoring.
type SimilarityInput struct {
	Record     *types.MemoryRecord
	Similarity float64
}

// ScoreAll computes composite scores for a batch and returns them sorted
// by descending score. The sort is stable so ties keep input order.
func ScoreAll(inputs []SimilarityInput, weights Weights, now time.Time) []ScoredRecord {
	out := make([]ScoredRecord, 0, len(inputs))
	for _, in := range inputs {
		if in.Record == nil {
			continue
		}
		score, breakdown := Score(in.Record, in.Similarity, weights, now)
		out = append(out, ScoredRecord{Record: in.Record, Score: score, Breakdown: breakdown})
	}
	slices.SortStableFunc(out, func(a, b ScoredRecord) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	return out
}
