package types

import (
	"math"
	"testing"
)

func TestIsValidImportanceTier(t *testing.T) {
	tests := []struct {
		tier  ImportanceTier
		valid bool
	}{
		{TierConstitutional, true},
		{TierCritical, true},
		{TierImportant, true},
		{TierNormal, true},
		{TierTemporary, true},
		{TierDeprecated, true},
		{ImportanceTier("urgent"), false},
		{ImportanceTier(""), false},
	}
	for _, tt := range tests {
		if got := IsValidImportanceTier(tt.tier); got != tt.valid {
			t.Errorf("IsValidImportanceTier(%q) = %v, want %v", tt.tier, got, tt.valid)
		}
	}
}

func TestNormalizeImportanceTier(t *testing.T) {
	if got := NormalizeImportanceTier("nonsense"); got != TierNormal {
		t.Errorf("unknown tier normalized to %q, want %q", got, TierNormal)
	}
	if got := NormalizeImportanceTier(TierTemporary); got != TierTemporary {
		t.Errorf("valid tier changed to %q", got)
	}
}

func TestIsValidCorrectionType(t *testing.T) {
	for _, ct := range ValidCorrectionTypes {
		if !IsValidCorrectionType(ct) {
			t.Errorf("IsValidCorrectionType(%q) = false", ct)
		}
	}
	if IsValidCorrectionType("retracted") {
		t.Error("unknown correction type accepted")
	}
}

func TestCausalRelationFor(t *testing.T) {
	tests := []struct {
		ct   CorrectionType
		want CausalRelation
	}{
		{CorrectionSuperseded, RelationSupersedes},
		{CorrectionDeprecated, RelationSupersedes},
		{CorrectionRefined, RelationDerivedFrom},
		{CorrectionMerged, RelationDerivedFrom},
	}
	for _, tt := range tests {
		if got := CausalRelationFor(tt.ct); got != tt.want {
			t.Errorf("CausalRelationFor(%q) = %q, want %q", tt.ct, got, tt.want)
		}
	}
}

func TestClampStability(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"below floor", 0.01, MinStability},
		{"zero", 0, MinStability},
		{"negative", -5, MinStability},
		{"in range", 42.5, 42.5},
		{"above ceiling", 1000, MaxStability},
		{"nan", math.NaN(), MinStability},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampStability(tt.in); got != tt.want {
				t.Errorf("ClampStability(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestClampDifficulty(t *testing.T) {
	if got := ClampDifficulty(0); got != MinDifficulty {
		t.Errorf("ClampDifficulty(0) = %v, want %v", got, MinDifficulty)
	}
	if got := ClampDifficulty(15); got != MaxDifficulty {
		t.Errorf("ClampDifficulty(15) = %v, want %v", got, MaxDifficulty)
	}
	if got := ClampDifficulty(5.5); got != 5.5 {
		t.Errorf("ClampDifficulty(5.5) = %v", got)
	}
}
