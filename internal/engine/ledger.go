package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/quintale/engram/internal/storage"
	"github.com/quintale/engram/pkg/types"
)

// ErrCorrectionsDisabled is returned by ledger mutations when the
// corrections feature is switched off. Reads degrade to empty results
// instead.
var ErrCorrectionsDisabled = errors.New("corrections are disabled")

const (
	// StabilityPenalty halves the corrected memory's stability so the
	// outdated version fades instead of being deleted.
	StabilityPenalty = 0.5

	// StabilityBoost strengthens the replacement so it outcompetes the
	// original in ranking.
	StabilityBoost = 1.2
)

// Ledger records, undoes, and traverses corrections.
type Ledger struct {
	corrections storage.CorrectionStore
	memories    storage.MemoryStore
	emitter     *CausalEmitter
	enabled     bool
}

// NewLedger wires a correction ledger. emitter may be nil, in which
// case no causal edges are written.
func NewLedger(corrections storage.CorrectionStore, memories storage.MemoryStore, emitter *CausalEmitter, enabled bool) *Ledger {
	return &Ledger{
		corrections: corrections,
		memories:    memories,
		emitter:     emitter,
		enabled:     enabled,
	}
}

// RecordParams describes one correction event.
type RecordParams struct {
	// OriginalID is the memory being corrected.
	OriginalID int64

	// CorrectionID is the replacing memory. Nil for pure deprecation.
	CorrectionID *int64

	// Type classifies the correction.
	Type types.CorrectionType

	// Reason is free-text context for the ledger row.
	Reason string

	// CorrectedBy identifies the agent or user recording the correction.
	CorrectedBy string
}

// CorrectionReport is the result of recording a correction.
type CorrectionReport struct {
	Correction  *types.CorrectionRecord `json:"correction"`
	EdgeEmitted bool                    `json:"edge_emitted"`
}

// Record validates and applies one correction: the original's stability
// is halved, the replacement's (when present) is boosted, and the ledger
// row with before/after snapshots lands in the same transaction. A
// causal edge is emitted best-effort afterwards; its failure never fails
// the correction.
//
// All validation happens before any mutation: an invalid type, a
// self-correction, or a missing memory leaves both records untouched.
func (l *Ledger) Record(ctx context.Context, params RecordParams) (*CorrectionReport, error) {
	if !l.enabled {
		return nil, ErrCorrectionsDisabled
	}
	if !types.IsValidCorrectionType(params.Type) {
		return nil, fmt.Errorf("%w: unknown correction type %q", storage.ErrInvalidInput, params.Type)
	}
	if params.OriginalID <= 0 {
		return nil, fmt.Errorf("%w: original memory id must be positive", storage.ErrInvalidInput)
	}
	if params.CorrectionID != nil {
		if *params.CorrectionID <= 0 {
			return nil, fmt.Errorf("%w: correction memory id must be positive", storage.ErrInvalidInput)
		}
		if *params.CorrectionID == params.OriginalID {
			return nil, fmt.Errorf("%w: a memory cannot correct itself", storage.ErrInvalidInput)
		}
	}

	original, err := l.memories.Get(ctx, params.OriginalID)
	if err != nil {
		return nil, fmt.Errorf("original memory %d: %w", params.OriginalID, err)
	}

	rec := &types.CorrectionRecord{
		OriginalMemoryID:        params.OriginalID,
		CorrectionMemoryID:      params.CorrectionID,
		Type:                    params.Type,
		OriginalStabilityBefore: original.Stability,
		OriginalStabilityAfter:  types.ClampStability(original.Stability * StabilityPenalty),
		Reason:                  params.Reason,
		CorrectedBy:             params.CorrectedBy,
	}

	if params.CorrectionID != nil {
		correction, err := l.memories.Get(ctx, *params.CorrectionID)
		if err != nil {
			return nil, fmt.Errorf("correction memory %d: %w", *params.CorrectionID, err)
		}
		before := correction.Stability
		after := types.ClampStability(before * StabilityBoost)
		rec.CorrectionStabilityBefore = &before
		rec.CorrectionStabilityAfter = &after
	}

	if err := l.corrections.RecordCorrection(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to record correction: %w", err)
	}

	report := &CorrectionReport{Correction: rec}
	if params.CorrectionID != nil && l.emitter != nil {
		edge := &types.CausalEdge{
			SourceID:    *params.CorrectionID,
			TargetID:    params.OriginalID,
			Relation:    types.CausalRelationFor(params.Type),
			Strength:    1.0,
			Evidence:    params.Reason,
			ExtractedAt: rec.CreatedAt,
		}
		if err := l.emitter.Emit(ctx, edge); err != nil {
			log.Printf("ledger: causal edge for correction %d skipped: %v", rec.ID, err)
		} else {
			report.EdgeEmitted = true
		}
	}
	return report, nil
}

// Undo rolls back a correction: both memories return to their snapshot
// stabilities exactly and the row is flagged undone. A second undo of
// the same row fails with storage.ErrAlreadyUndone. The matching causal
// edge is removed best-effort.
func (l *Ledger) Undo(ctx context.Context, correctionID int64) (*types.CorrectionRecord, error) {
	if !l.enabled {
		return nil, ErrCorrectionsDisabled
	}

	if err := l.corrections.UndoCorrection(ctx, correctionID, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to undo correction %d: %w", correctionID, err)
	}

	rec, err := l.corrections.GetCorrection(ctx, correctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload undone correction: %w", err)
	}

	if rec.CorrectionMemoryID != nil && l.emitter != nil {
		if err := l.emitter.Remove(ctx, *rec.CorrectionMemoryID, rec.OriginalMemoryID); err != nil {
			log.Printf("ledger: causal edge removal for correction %d skipped: %v", correctionID, err)
		}
	}
	return rec, nil
}

// ChainDirection labels how a chain entry was reached.
type ChainDirection string

const (
	// DirectionCorrectedBy follows original -> correction links.
	DirectionCorrectedBy ChainDirection = "corrected_by"

	// DirectionCorrects follows correction -> original links.
	DirectionCorrects ChainDirection = "corrects"
)

// ChainEntry is one correction link discovered during a chain walk.
type ChainEntry struct {
	Correction *types.CorrectionRecord `json:"correction"`
	MemoryID   int64                   `json:"memory_id"`
	Depth      int                     `json:"depth"`
	Direction  ChainDirection          `json:"direction"`
}

// Chain is the full correction history around one memory.
type Chain struct {
	StartID         int64        `json:"start_id"`
	Entries         []ChainEntry `json:"entries"`
	MaxDepthReached bool         `json:"max_depth_reached"`
}

// chainFrontier is one pending node in the chain walk.
type chainFrontier struct {
	memoryID int64
	depth    int
}

// TraverseChain walks the correction graph around memoryID in both
// directions with an explicit worklist. A visited set makes cyclic
// correction graphs terminate; the depth cutoff bounds pathological
// chains and is reported when hit. A memory with no corrections yields
// an empty chain.
func (l *Ledger) TraverseChain(ctx context.Context, memoryID int64, opts storage.ChainOptions) (*Chain, error) {
	opts.Normalize()
	chain := &Chain{StartID: memoryID}
	if memoryID <= 0 {
		return chain, nil
	}

	visited := map[int64]struct{}{memoryID: {}}
	queue := []chainFrontier{{memoryID: memoryID, depth: 0}}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		if node.depth >= opts.MaxDepth {
			chain.MaxDepthReached = true
			continue
		}

		listOpts := storage.CorrectionListOptions{IncludeUndone: opts.IncludeUndone, Limit: 100}

		forward, err := l.corrections.CorrectionsByOriginal(ctx, node.memoryID, listOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to walk corrected_by links: %w", err)
		}
		for _, rec := range forward {
			if rec.CorrectionMemoryID == nil {
				continue
			}
			next := *rec.CorrectionMemoryID
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			chain.Entries = append(chain.Entries, ChainEntry{
				Correction: rec,
				MemoryID:   next,
				Depth:      node.depth + 1,
				Direction:  DirectionCorrectedBy,
			})
			queue = append(queue, chainFrontier{memoryID: next, depth: node.depth + 1})
		}

		backward, err := l.corrections.CorrectionsByCorrection(ctx, node.memoryID, listOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to walk corrects links: %w", err)
		}
		for _, rec := range backward {
			next := rec.OriginalMemoryID
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			chain.Entries = append(chain.Entries, ChainEntry{
				Correction: rec,
				MemoryID:   next,
				Depth:      node.depth + 1,
				Direction:  DirectionCorrects,
			})
			queue = append(queue, chainFrontier{memoryID: next, depth: node.depth + 1})
		}
	}
	return chain, nil
}

// CorrectionsFor lists ledger rows touching a memory, newest first.
func (l *Ledger) CorrectionsFor(ctx context.Context, memoryID int64, opts storage.CorrectionListOptions) ([]*types.CorrectionRecord, error) {
	rows, err := l.corrections.CorrectionsFor(ctx, memoryID, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list corrections: %w", err)
	}
	return rows, nil
}

// Stats aggregates ledger activity. Disabled or uninitialized ledgers
// report zeroed stats rather than failing.
func (l *Ledger) Stats(ctx context.Context) (*storage.CorrectionStats, error) {
	if !l.enabled {
		return &storage.CorrectionStats{ByType: map[string]int{}}, nil
	}
	stats, err := l.corrections.CorrectionStats(ctx, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate correction stats: %w", err)
	}
	return stats, nil
}

// Supersede records a full replacement of original by correction.
func (l *Ledger) Supersede(ctx context.Context, originalID, correctionID int64, reason, correctedBy string) (*CorrectionReport, error) {
	return l.Record(ctx, RecordParams{
		OriginalID:   originalID,
		CorrectionID: &correctionID,
		Type:         types.CorrectionSuperseded,
		Reason:       reason,
		CorrectedBy:  correctedBy,
	})
}

// Refine records an improvement of original by correction.
func (l *Ledger) Refine(ctx context.Context, originalID, correctionID int64, reason, correctedBy string) (*CorrectionReport, error) {
	return l.Record(ctx, RecordParams{
		OriginalID:   originalID,
		CorrectionID: &correctionID,
		Type:         types.CorrectionRefined,
		Reason:       reason,
		CorrectedBy:  correctedBy,
	})
}

// Deprecate records that original is wrong with no replacement.
func (l *Ledger) Deprecate(ctx context.Context, originalID int64, reason, correctedBy string) (*CorrectionReport, error) {
	return l.Record(ctx, RecordParams{
		OriginalID:  originalID,
		Type:        types.CorrectionDeprecated,
		Reason:      reason,
		CorrectedBy: correctedBy,
	})
}

// Merge records the consolidation of several source memories into one.
// Self-references among the sources are skipped. It returns one report
// per recorded source.
func (l *Ledger) Merge(ctx context.Context, sourceIDs []int64, mergedID int64, reason, correctedBy string) ([]*CorrectionReport, error) {
	if !l.enabled {
		return nil, ErrCorrectionsDisabled
	}
	if mergedID <= 0 {
		return nil, fmt.Errorf("%w: merged memory id must be positive", storage.ErrInvalidInput)
	}

	var reports []*CorrectionReport
	for _, sourceID := range sourceIDs {
		if sourceID == mergedID {
			continue
		}
		report, err := l.Record(ctx, RecordParams{
			OriginalID:   sourceID,
			CorrectionID: &mergedID,
			Type:         types.CorrectionMerged,
			Reason:       reason,
			CorrectedBy:  correctedBy,
		})
		if err != nil {
			return reports, fmt.Errorf("merge of source %d: %w", sourceID, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}
