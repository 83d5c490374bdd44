package identify

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the circuit breaker protecting the identification
// backend.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that trip the
	// circuit open.
	MaxFailures uint32

	// Timeout is how long the circuit stays open before allowing probe
	// requests again.
	Timeout time.Duration
}

// DefaultBreakerConfig trips after 3 consecutive failures and probes
// again after 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 3, Timeout: 30 * time.Second}
}

// Breaker wraps an Identifier with a circuit breaker. While the circuit
// is open every call fails fast with ErrUnavailable, which callers
// already treat as degraded mode, so a dead backend never stalls the
// capture path.
type Breaker struct {
	inner Identifier
	cb    *gobreaker.CircuitBreaker
}

// NewBreaker wraps inner with the given breaker configuration.
func NewBreaker(inner Identifier, cfg BreakerConfig) *Breaker {
	settings := gobreaker.Settings{
		Name:    "identify",
		Timeout: cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("identify: circuit breaker %s -> %s", from, to)
		},
	}
	return &Breaker{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Identify runs the wrapped identification through the breaker.
func (b *Breaker) Identify(ctx context.Context, image []byte) (*Candidate, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Identify(ctx, image)
	})
	if err != nil {
		return nil, breakerErr(err)
	}
	candidate, _ := result.(*Candidate)
	return candidate, nil
}

// Enroll runs enrollment through the breaker.
func (b *Breaker) Enroll(ctx context.Context, externalRef string, image []byte) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.inner.Enroll(ctx, externalRef, image)
	})
	return breakerErr(err)
}

// Forget runs removal through the breaker.
func (b *Breaker) Forget(ctx context.Context, externalRef string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.inner.Forget(ctx, externalRef)
	})
	return breakerErr(err)
}

// State returns "closed", "open" or "half-open" for diagnostics.
func (b *Breaker) State() string {
	switch b.cb.State() {
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

// breakerErr folds gobreaker's own rejections into ErrUnavailable so
// callers only ever see one degraded-mode sentinel.
func breakerErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrUnavailable
	}
	return err
}
