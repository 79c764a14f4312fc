package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/quintale/engram/internal/storage"
	"github.com/quintale/engram/pkg/types"
)

// ErrEdgesUnavailable is returned when the causal-edge breaker is open
// and edge writes are being skipped.
var ErrEdgesUnavailable = errors.New("causal edge writes unavailable")

// causalBreakerTrip is the consecutive-failure count that opens the
// breaker; causalBreakerReset is how long it stays open before probing
// again.
const (
	causalBreakerTrip  = 3
	causalBreakerReset = 30 * time.Second
)

// CausalEmitter writes provenance edges through a circuit breaker.
// Edge emission is best-effort: corrections must keep working when the
// causal table is absent or its writes keep failing, so a tripped
// breaker turns edge writes into quiet no-ops until the store recovers.
type CausalEmitter struct {
	store   storage.CausalStore
	breaker *gobreaker.CircuitBreaker
}

// NewCausalEmitter wraps the causal store in a breaker.
func NewCausalEmitter(store storage.CausalStore) *CausalEmitter {
	settings := gobreaker.Settings{
		Name:    "CausalEdgeWriter",
		Timeout: causalBreakerReset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= causalBreakerTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("engine: %s breaker %s -> %s", name, from, to)
		},
	}
	return &CausalEmitter{
		store:   store,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Emit writes one edge. A missing causal table counts as a permanent
// condition rather than a failure streak, so it does not trip the
// breaker; an open breaker rejects immediately.
func (e *CausalEmitter) Emit(ctx context.Context, edge *types.CausalEdge) error {
	if e == nil || e.store == nil {
		return ErrEdgesUnavailable
	}

	_, err := e.breaker.Execute(func() (any, error) {
		err := e.store.InsertEdge(ctx, edge)
		if errors.Is(err, storage.ErrNotInitialized) {
			return nil, nil
		}
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrEdgesUnavailable
	}
	return err
}

// Remove deletes the edge between the pair through the breaker.
func (e *CausalEmitter) Remove(ctx context.Context, sourceID, targetID int64) error {
	if e == nil || e.store == nil {
		return ErrEdgesUnavailable
	}

	_, err := e.breaker.Execute(func() (any, error) {
		return nil, e.store.DeleteEdge(ctx, sourceID, targetID)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrEdgesUnavailable
	}
	return err
}

// State reports the breaker state: "closed", "open", or "half-open".
func (e *CausalEmitter) State() string {
	switch e.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
