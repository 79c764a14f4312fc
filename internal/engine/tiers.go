package engine

import (
	"math"

	"github.com/quintale/engram/pkg/types"
)

// TierConfig captures every tier-dependent behavior in one place so the
// scorer, the attention decay sweep, and search filtering agree on what a
// tier means.
type TierConfig struct {
	// Value is the importance weight and tier boost fed to the scorer.
	Value float64

	// SearchBoost multiplies match scores during retrieval.
	SearchBoost float64

	// Decays controls whether the forgetting curve applies at all.
	Decays bool

	// AttentionDecayRate is the per-turn working-memory retention factor.
	AttentionDecayRate float64

	// AutoExpireDays is the lifetime before automatic expiry. Zero means
	// never.
	AutoExpireDays int

	// ExcludeFromSearch removes the tier from retrieval entirely.
	ExcludeFromSearch bool

	// AlwaysSurface forces the tier into every result set.
	AlwaysSurface bool
}

// DeprecatedTierBoost is zero: a deprecated memory contributes nothing,
// it does not fall back to the normal-tier weight.
const DeprecatedTierBoost = 0.0

// DefaultAttentionDecayRate applies to unknown tiers.
const DefaultAttentionDecayRate = 0.80

var tierConfigs = map[types.ImportanceTier]TierConfig{
	types.TierConstitutional: {
		Value:              1.0,
		SearchBoost:        3.0,
		Decays:             false,
		AttentionDecayRate: 1.0,
		AlwaysSurface:      true,
	},
	types.TierCritical: {
		Value:              1.0,
		SearchBoost:        2.0,
		Decays:             false,
		AttentionDecayRate: 1.0,
	},
	types.TierImportant: {
		Value:              0.8,
		SearchBoost:        1.5,
		Decays:             true,
		AttentionDecayRate: 1.0,
	},
	types.TierNormal: {
		Value:              0.5,
		SearchBoost:        1.0,
		Decays:             true,
		AttentionDecayRate: 0.80,
	},
	types.TierTemporary: {
		Value:              0.3,
		SearchBoost:        0.5,
		Decays:             true,
		AttentionDecayRate: 0.60,
		AutoExpireDays:     7,
	},
	types.TierDeprecated: {
		Value:              DeprecatedTierBoost,
		SearchBoost:        0.0,
		Decays:             true,
		AttentionDecayRate: 1.0,
		ExcludeFromSearch:  true,
	},
}

// TierConfigFor returns the configuration for a tier. Unknown tiers read
// as normal.
func TierConfigFor(tier types.ImportanceTier) TierConfig {
	if cfg, ok := tierConfigs[tier]; ok {
		return cfg
	}
	return tierConfigs[types.TierNormal]
}

// DecayRate returns the per-turn attention retention factor for a tier.
// Unknown tiers use the default rate.
func DecayRate(tier types.ImportanceTier) float64 {
	if cfg, ok := tierConfigs[tier]; ok {
		return cfg.AttentionDecayRate
	}
	return DefaultAttentionDecayRate
}

// TierBoost returns the scorer's tier boost for a tier.
func TierBoost(tier types.ImportanceTier) float64 {
	return TierConfigFor(tier).Value
}

// SearchBoostFor returns the retrieval multiplier for a tier.
func SearchBoostFor(tier types.ImportanceTier) float64 {
	return TierConfigFor(tier).SearchBoost
}

// AllowsDecay reports whether the forgetting curve applies to a tier.
func AllowsDecay(tier types.ImportanceTier) bool {
	return TierConfigFor(tier).Decays
}

// IsExcludedFromSearch reports whether a tier is filtered out of
// retrieval.
func IsExcludedFromSearch(tier types.ImportanceTier) bool {
	return TierConfigFor(tier).ExcludeFromSearch
}

// CompareTiers orders tiers by importance weight: negative when a is
// less important than b, zero when equal, positive when more important.
func CompareTiers(a, b types.ImportanceTier) int {
	av, bv := TierBoost(a), TierBoost(b)
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

// ApplySearchBoost multiplies a match score by the tier's boost. A NaN
// score reads as zero.
func ApplySearchBoost(score float64, tier types.ImportanceTier) float64 {
	if math.IsNaN(score) {
		return 0
	}
	return score * SearchBoostFor(tier)
}
