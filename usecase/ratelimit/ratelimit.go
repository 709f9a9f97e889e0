package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/medianest/backend/domain"
	"github.com/medianest/backend/repository"
)

// Endpoint classes known to the limiter.
const (
	ClassGeneral      = "general"
	ClassLogin        = "login"
	ClassMediaRequest = "media_request"
)

// Policy bounds one endpoint class to limit requests per window.
type Policy struct {
	Limit  int64
	Window time.Duration
}

// DefaultPolicies mirrors the portal's traffic shaping: ordinary API traffic
// per user, the unauthenticated login endpoint per origin, and expensive
// media request submission per user.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		ClassGeneral:      {Limit: 100, Window: time.Minute},
		ClassLogin:        {Limit: 5, Window: time.Minute},
		ClassMediaRequest: {Limit: 5, Window: time.Hour},
	}
}

// Result reports one limiter decision.
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter enforces fixed-window counters on top of an atomic counter store.
// Correctness under concurrency is delegated entirely to the store's single
// round-trip increment; the limiter holds no mutable state of its own.
type Limiter struct {
	store    repository.RateCounterStore
	policies map[string]Policy
	logger   *zap.Logger
	now      func() time.Time
}

func New(store repository.RateCounterStore, policies map[string]Policy, logger *zap.Logger) *Limiter {
	if len(policies) == 0 {
		policies = DefaultPolicies()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		store:    store,
		policies: policies,
		logger:   logger,
		now:      time.Now,
	}
}

// CheckAndIncrement counts the request against (identity, class) and reports
// whether it fits the window. The increment commits even when the inbound
// request has already been aborted, so abandoned requests still count toward
// the limit.
func (l *Limiter) CheckAndIncrement(ctx context.Context, identity, class string) (Result, error) {
	policy, ok := l.policies[class]
	if !ok {
		policy, ok = l.policies[ClassGeneral]
		if !ok {
			return Result{Allowed: true}, nil
		}
	}

	now := l.now()
	windowStart := now.Unix() - now.Unix()%int64(policy.Window.Seconds())
	windowEnd := time.Unix(windowStart, 0).Add(policy.Window)
	key := fmt.Sprintf("%s:%s:%d", class, identity, windowStart)

	// Detached from the request's cancellation but still bounded.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	count, err := l.store.IncrWindow(storeCtx, key, windowEnd.Sub(now))
	if err != nil {
		return Result{}, domain.WrapError(domain.ErrCodeUnavailable, "rate counter unavailable", err)
	}

	if count > policy.Limit {
		retryAfter := windowEnd.Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return Result{Allowed: false, Remaining: 0, RetryAfter: retryAfter}, nil
	}

	return Result{Allowed: true, Remaining: policy.Limit - count}, nil
}

// RejectionError converts a disallowed result into the typed RATE_LIMITED
// error carrying the retry hint.
func (r Result) RejectionError() error {
	seconds := int(r.RetryAfter.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return domain.NewRateLimited(seconds)
}
