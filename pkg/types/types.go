// Package types defines the core data structures for the Engram memory
// retention engine: importance tiers, attention states, correction types,
// and the records that flow between the scheduler, the working-memory
// layer, and the correction ledger.
package types

// ImportanceTier classifies how aggressively a memory resists forgetting.
type ImportanceTier string

// AttentionTier classifies how prominent an entry is in working memory.
type AttentionTier string

// CorrectionType classifies the relationship between a correction and the
// memory it corrects.
type CorrectionType string

// CausalRelation is the edge label written to the causal graph when a
// correction is recorded.
type CausalRelation string

// Importance tier constants, ordered from most to least protected.
const (
	// TierConstitutional marks memories that must always surface and never decay.
	TierConstitutional ImportanceTier = "constitutional"

	// TierCritical marks memories exempt from attention decay.
	TierCritical ImportanceTier = "critical"

	// TierImportant marks high-value memories with a search boost.
	TierImportant ImportanceTier = "important"

	// TierNormal is the default tier for new memories.
	TierNormal ImportanceTier = "normal"

	// TierTemporary marks short-lived memories that decay fast and auto-expire.
	TierTemporary ImportanceTier = "temporary"

	// TierDeprecated marks memories excluded from search and ranking.
	TierDeprecated ImportanceTier = "deprecated"
)

// Attention tier constants.
const (
	// AttentionHot entries surface with full content.
	AttentionHot AttentionTier = "HOT"

	// AttentionWarm entries surface as summaries only.
	AttentionWarm AttentionTier = "WARM"

	// AttentionCold entries are dropped from the surfaced set.
	AttentionCold AttentionTier = "COLD"
)

// Correction type constants.
const (
	// CorrectionSuperseded indicates a newer memory fully replaces the original.
	CorrectionSuperseded CorrectionType = "superseded"

	// CorrectionDeprecated indicates the original is wrong with no replacement.
	CorrectionDeprecated CorrectionType = "deprecated"

	// CorrectionRefined indicates the correction narrows or improves the original.
	CorrectionRefined CorrectionType = "refined"

	// CorrectionMerged indicates several memories were consolidated into one.
	CorrectionMerged CorrectionType = "merged"
)

// Causal relation constants.
const (
	// RelationSupersedes links a replacement to the memory it replaces.
	RelationSupersedes CausalRelation = "supersedes"

	// RelationDerivedFrom links a refinement or merge result to its source.
	RelationDerivedFrom CausalRelation = "derived_from"
)

// ValidImportanceTiers is a slice of all valid importance tiers for validation.
var ValidImportanceTiers = []ImportanceTier{
	TierConstitutional,
	TierCritical,
	TierImportant,
	TierNormal,
	TierTemporary,
	TierDeprecated,
}

// ValidAttentionTiers is a slice of all valid attention tiers for validation.
var ValidAttentionTiers = []AttentionTier{
	AttentionHot,
	AttentionWarm,
	AttentionCold,
}

// ValidCorrectionTypes is a slice of all valid correction types for validation.
var ValidCorrectionTypes = []CorrectionType{
	CorrectionSuperseded,
	CorrectionDeprecated,
	CorrectionRefined,
	CorrectionMerged,
}

// IsValidImportanceTier checks if the given tier is valid.
func IsValidImportanceTier(tier ImportanceTier) bool {
	for _, validTier := range ValidImportanceTiers {
		if validTier == tier {
			return true
		}
	}
	return false
}

// IsValidAttentionTier checks if the given tier is valid.
func IsValidAttentionTier(tier AttentionTier) bool {
	for _, validTier := range ValidAttentionTiers {
		if validTier == tier {
			return true
		}
	}
	return false
}

// IsValidCorrectionType checks if the given correction type is valid.
func IsValidCorrectionType(ct CorrectionType) bool {
	for _, validType := range ValidCorrectionTypes {
		if validType == ct {
			return true
		}
	}
	return false
}

// NormalizeImportanceTier maps unknown or empty tiers to TierNormal so a
// bad tier string on a row never breaks scoring or decay.
func NormalizeImportanceTier(tier ImportanceTier) ImportanceTier {
	if IsValidImportanceTier(tier) {
		return tier
	}
	return TierNormal
}

// CausalRelationFor maps a correction type to the causal edge label it
// emits. Replacement-style corrections supersede; refinements and merges
// derive from their sources.
func CausalRelationFor(ct CorrectionType) CausalRelation {
	switch ct {
	case CorrectionSuperseded, CorrectionDeprecated:
		return RelationSupersedes
	default:
		return RelationDerivedFrom
	}
}
