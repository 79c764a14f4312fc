// Package engine implements the retention core: the forgetting-curve
// scheduler, working-memory attention, spreading activation, composite
// scoring with rank fusion, and the correction ledger.
package engine

import (
	"math"
	"time"

	"github.com/quintale/engram/pkg/types"
)

// Grade is the review outcome reported for a memory access.
type Grade int

const (
	// GradeAgain indicates full retrieval failure.
	GradeAgain Grade = 1

	// GradeHard indicates strained retrieval.
	GradeHard Grade = 2

	// GradeGood indicates normal successful retrieval.
	GradeGood Grade = 3

	// GradeEasy indicates effortless retrieval.
	GradeEasy Grade = 4
)

const (
	// schedulerFactor calibrates the power-law forgetting curve so that
	// retrievability at t == stability is exactly 0.9.
	schedulerFactor = 19.0 / 81.0

	// schedulerDecay is the power-law exponent. Flatter than an
	// exponential at long intervals, which matches observed forgetting.
	schedulerDecay = -0.5

	// lapseMultiplier shrinks stability after a failed retrieval.
	lapseMultiplier = 0.2

	// retrievabilityBonusWeight scales the extra stability gained by
	// reviewing close to the point of forgetting (desirable difficulty).
	retrievabilityBonusWeight = 0.5

	// DefaultTargetRetention is the retrievability the interval planner
	// schedules the next review at.
	DefaultTargetRetention = 0.9
)

// Retrievability returns the probability of recall after elapsedDays
// given the memory's stability: (1 + factor*t/S)^decay.
//
// Zero elapsed time returns exactly 1.0. Non-finite inputs are
// sanitized: NaN stability falls to the floor, infinite stability means
// nothing is forgotten, infinite elapsed time means everything is.
func Retrievability(stability, elapsedDays float64) float64 {
	if math.IsInf(stability, 1) {
		return 1.0
	}
	stability = types.ClampStability(stability)

	if math.IsNaN(elapsedDays) || elapsedDays <= 0 {
		return 1.0
	}
	if math.IsInf(elapsedDays, 1) {
		return 0.0
	}

	return math.Pow(1+schedulerFactor*elapsedDays/stability, schedulerDecay)
}

// UpdateStability returns the post-review stability.
//
// A failed retrieval collapses stability to a fraction of its value.
// A successful one grows it by three multiplicative factors: easier
// memories grow more, better grades grow more, and reviews made when the
// memory was nearly forgotten grow more.
func UpdateStability(stability, difficulty float64, grade Grade, retrievability float64) float64 {
	stability = types.ClampStability(stability)

	if grade <= GradeAgain {
		return types.ClampStability(stability * lapseMultiplier)
	}

	difficulty = types.ClampDifficulty(difficulty)
	if math.IsNaN(retrievability) {
		retrievability = 1.0
	}

	difficultyFactor := 1 + (11-difficulty)*0.1
	gradeFactor := 1.0
	switch grade {
	case GradeHard:
		gradeFactor = 0.8
	case GradeEasy:
		gradeFactor = 1.3
	}
	retrievabilityBonus := 1 + (1-retrievability)*retrievabilityBonusWeight

	return types.ClampStability(stability * difficultyFactor * gradeFactor * retrievabilityBonus)
}

// UpdateDifficulty returns the post-review difficulty. Failures push
// difficulty up, easy retrievals pull it down, a good retrieval leaves
// it unchanged.
func UpdateDifficulty(difficulty float64, grade Grade) float64 {
	difficulty = types.ClampDifficulty(difficulty)

	switch grade {
	case GradeAgain:
		difficulty += 1.0
	case GradeHard:
		difficulty += 0.5
	case GradeEasy:
		difficulty -= 0.5
	}
	return types.ClampDifficulty(difficulty)
}

// OptimalInterval inverts the forgetting curve: the number of whole days
// until retrievability falls to targetRetention. Minimum one day.
func OptimalInterval(stability, targetRetention float64) float64 {
	stability = types.ClampStability(stability)
	if math.IsNaN(targetRetention) || targetRetention <= 0 || targetRetention >= 1 {
		return 1
	}

	interval := stability / schedulerFactor * (math.Pow(targetRetention, 1/schedulerDecay) - 1)
	interval = math.Round(interval)
	if interval < 1 {
		return 1
	}
	return interval
}

// ReviewState is the retention state consumed and produced by a review.
type ReviewState struct {
	Stability   float64
	Difficulty  float64
	ReviewCount int
	LastReview  *time.Time
}

// ReviewOutcome is the result of processing one review event.
type ReviewOutcome struct {
	Stability      float64
	Difficulty     float64
	ReviewCount    int
	Retrievability float64
	NextReview     time.Time
	IntervalDays   float64
}

// ProcessReview runs one full review cycle at the given time: elapsed
// days since the last review, current retrievability, updated stability
// and difficulty, and the next review date at the default target
// retention.
func ProcessReview(state ReviewState, grade Grade, now time.Time) ReviewOutcome {
	stability := state.Stability
	if stability == 0 {
		stability = types.DefaultStability
	}
	difficulty := state.Difficulty
	if difficulty == 0 {
		difficulty = types.DefaultDifficulty
	}

	elapsed := ElapsedDays(state.LastReview, now)
	retrievability := Retrievability(stability, elapsed)

	newStability := UpdateStability(stability, difficulty, grade, retrievability)
	newDifficulty := UpdateDifficulty(difficulty, grade)
	interval := OptimalInterval(newStability, DefaultTargetRetention)

	return ReviewOutcome{
		Stability:      newStability,
		Difficulty:     newDifficulty,
		ReviewCount:    state.ReviewCount + 1,
		Retrievability: retrievability,
		NextReview:     now.Add(time.Duration(interval * 24 * float64(time.Hour))),
		IntervalDays:   interval,
	}
}

// ElapsedDays returns the fractional days between the last review and
// now. A nil last review or a future timestamp counts as zero elapsed.
func ElapsedDays(lastReview *time.Time, now time.Time) float64 {
	if lastReview == nil {
		return 0
	}
	days := now.Sub(*lastReview).Hours() / 24.0
	if days < 0 {
		return 0
	}
	return days
}
