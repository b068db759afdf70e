package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"knowgraph/application/ports"
	"knowgraph/domain/graph"
	"knowgraph/domain/versioning"
)

// CircuitBreakerConfig holds configuration for the store circuit breaker
type CircuitBreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultCircuitBreakerConfig returns a default configuration
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// CircuitBreakerRepository guards a GraphRepository with a circuit breaker.
// Not-found and version-conflict results are answers, not failures, and do
// not count towards tripping.
type CircuitBreakerRepository struct {
	next   ports.GraphRepository
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

var _ ports.GraphRepository = (*CircuitBreakerRepository)(nil)

// NewCircuitBreakerRepository wraps next
func NewCircuitBreakerRepository(next ports.GraphRepository, config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreakerRepository {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &CircuitBreakerRepository{next: next, logger: logger}
	r.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= config.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: isStoreHealthy,
	})
	return r
}

// State returns the current breaker state
func (r *CircuitBreakerRepository) State() gobreaker.State {
	return r.cb.State()
}

func isStoreHealthy(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, ports.ErrGraphNotFound),
		errors.Is(err, ports.ErrVersionNotFound),
		errors.Is(err, ports.ErrVersionConflict),
		errors.Is(err, context.Canceled):
		return true
	}
	return false
}

func (r *CircuitBreakerRepository) execute(op string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := r.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		r.logger.Warn("Store call rejected by circuit breaker",
			zap.String("operation", op),
			zap.String("state", r.cb.State().String()),
		)
		return nil, fmt.Errorf("%s: %v: %w", op, err, ports.ErrStoreUnavailable)
	}
	return result, err
}

func (r *CircuitBreakerRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ports.GraphTx) error) error {
	_, err := r.execute("within_tx", func() (interface{}, error) {
		return nil, r.next.WithinTx(ctx, fn)
	})
	return err
}

func (r *CircuitBreakerRepository) GetCurrent(ctx context.Context, graphID string) (*ports.CurrentRecord, error) {
	result, err := r.execute("get_current", func() (interface{}, error) {
		return r.next.GetCurrent(ctx, graphID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*ports.CurrentRecord), nil
}

func (r *CircuitBreakerRepository) ListHistory(ctx context.Context, graphID string) ([]versioning.VersionEntry, error) {
	result, err := r.execute("list_history", func() (interface{}, error) {
		return r.next.ListHistory(ctx, graphID)
	})
	if err != nil {
		return nil, err
	}
	return result.([]versioning.VersionEntry), nil
}

func (r *CircuitBreakerRepository) GetSnapshot(ctx context.Context, graphID string, version int) (*versioning.Snapshot, error) {
	result, err := r.execute("get_snapshot", func() (interface{}, error) {
		return r.next.GetSnapshot(ctx, graphID, version)
	})
	if err != nil {
		return nil, err
	}
	return result.(*versioning.Snapshot), nil
}

func (r *CircuitBreakerRepository) List(ctx context.Context) ([]graph.Summary, error) {
	result, err := r.execute("list", func() (interface{}, error) {
		return r.next.List(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]graph.Summary), nil
}

func (r *CircuitBreakerRepository) Delete(ctx context.Context, graphID string) (int, error) {
	result, err := r.execute("delete", func() (interface{}, error) {
		return r.next.Delete(ctx, graphID)
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

// Ping bypasses the breaker so readiness reflects the store itself
func (r *CircuitBreakerRepository) Ping(ctx context.Context) error {
	return r.next.Ping(ctx)
}
