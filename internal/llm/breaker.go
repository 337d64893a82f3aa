package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ppiankov/decipher/internal/logger"
)

// BreakerConfig tunes the circuit breaker around a provider
type BreakerConfig struct {
	MinRequests      uint32
	FailureThreshold float64
	OpenTimeout      time.Duration
	Interval         time.Duration
}

// BreakerProvider fails fast with ErrServiceUnavailable after sustained provider failures
type BreakerProvider struct {
	next Provider
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerProvider wraps next in a circuit breaker
func NewBreakerProvider(next Provider, cfg BreakerConfig, log *logger.Logger) *BreakerProvider {
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 5
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 0.8
	}
	if cfg.Interval == 0 {
		cfg.Interval = 2 * time.Minute
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("llm circuit breaker state changed", "provider", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// a caller giving up is not a provider failure
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &BreakerProvider{next: next, cb: cb}
}

// Name returns the wrapped provider's name
func (b *BreakerProvider) Name() string { return b.next.Name() }

// IsAvailable reports false while the breaker is open
func (b *BreakerProvider) IsAvailable(ctx context.Context) bool {
	if b.cb.State() == gobreaker.StateOpen {
		return false
	}
	return b.next.IsAvailable(ctx)
}

// Complete forwards to the wrapped provider unless the breaker is open
func (b *BreakerProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Complete(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s: %w", b.next.Name(), ErrServiceUnavailable)
		}
		return nil, err
	}
	return out.(*CompletionResponse), nil
}

// State returns the breaker state name
func (b *BreakerProvider) State() string {
	return b.cb.State().String()
}
