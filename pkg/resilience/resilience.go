package resilience

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/medianest/backend/domain"
)

// Policy declares what a caller should do when the wrapped dependency cannot
// answer: FailClosed dependencies are security-critical (their unavailability
// rejects the request), FailOpen dependencies are optimizations (their
// unavailability degrades to the slow path).
type Policy int

const (
	FailClosed Policy = iota
	FailOpen
)

func (p Policy) String() string {
	if p == FailOpen {
		return "fail_open"
	}
	return "fail_closed"
}

// Config tunes one resilient caller.
type Config struct {
	Name        string
	Policy      Policy
	CallTimeout time.Duration
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// MinRequests and FailureRatio decide when the breaker trips.
	MinRequests  uint32
	FailureRatio float64
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 50 * time.Millisecond
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = 3
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 10 * time.Second
	}
	if c.MinRequests == 0 {
		c.MinRequests = 10
	}
	if c.FailureRatio <= 0 {
		c.FailureRatio = 0.6
	}
	return c
}

// Caller wraps store lookups with a bounded timeout and a circuit breaker so
// a slow or dead dependency cannot stall the request path. One Caller guards
// one dependency; the same wrapper serves both the fail-closed revocation
// lookups and the fail-open cache lookups.
type Caller struct {
	name    string
	policy  Policy
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[any]
	logger  *zap.Logger
}

// StateObserver receives breaker state transitions, e.g. for metrics.
type StateObserver func(name string, from, to gobreaker.State)

// NewCaller builds a resilient caller.
func NewCaller(cfg Config, logger *zap.Logger, observer StateObserver) *Caller {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("breaker state change",
				zap.String("dependency", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if observer != nil {
				observer(name, from, to)
			}
		},
		// Typed domain outcomes (not-found and friends) are answers, not
		// failures; only transport-level trouble should trip the breaker.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var dErr *domain.Error
			return errors.As(err, &dErr) && dErr.Code != domain.ErrCodeUnavailable
		},
	})

	return &Caller{
		name:    cfg.Name,
		policy:  cfg.Policy,
		timeout: cfg.CallTimeout,
		cb:      cb,
		logger:  logger,
	}
}

// Name returns the dependency name.
func (c *Caller) Name() string { return c.name }

// FailsOpen reports whether unavailability of this dependency should degrade
// rather than reject.
func (c *Caller) FailsOpen() bool { return c.policy == FailOpen }

// Unavailable reports whether err means the dependency could not answer
// (as opposed to answering with a typed domain outcome).
func Unavailable(err error) bool {
	return domain.IsDomainError(err, domain.ErrCodeUnavailable)
}

// Do executes fn under the caller's timeout and breaker. Typed domain errors
// pass through untouched; breaker rejections, timeouts and transport errors
// come back as UNAVAILABLE so call sites can apply their policy.
func Do[T any](ctx context.Context, c *Caller, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.cb.Execute(func() (any, error) {
		return fn(callCtx)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return zero, domain.WrapError(domain.ErrCodeUnavailable, c.name+" circuit open", err)
		case errors.Is(err, context.DeadlineExceeded):
			return zero, domain.WrapError(domain.ErrCodeUnavailable, c.name+" call timed out", err)
		}
		var dErr *domain.Error
		if errors.As(err, &dErr) && dErr.Code != domain.ErrCodeUnavailable {
			return zero, err
		}
		return zero, domain.WrapError(domain.ErrCodeUnavailable, c.name+" call failed", err)
	}

	typed, ok := result.(T)
	if !ok && result != nil {
		return zero, domain.WrapError(domain.ErrCodeInternal, c.name+" unexpected result type", nil)
	}
	return typed, nil
}
