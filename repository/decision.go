package repository

import (
	"context"
	"time"

	"github.com/medianest/backend/domain"
)

// DecisionCache memoizes recent authentication decisions per
// (subject, session). The stored decision carries the fingerprint hash of the
// context it was computed under; context comparison happens in the use case
// layer so a mismatch can be reported instead of silently ignored.
// The cache is a performance optimization, never a security boundary.
type DecisionCache interface {
	// Get returns the cached decision for the subject/session pair, or
	// domain.ErrDecisionNotFound on a miss.
	Get(ctx context.Context, subject, sessionID string) (*domain.Decision, error)

	// Put stores the decision with the given ttl.
	Put(ctx context.Context, decision *domain.Decision, ttl time.Duration) error

	// Invalidate purges the entry for one session.
	Invalidate(ctx context.Context, subject, sessionID string) error

	// InvalidateSubject purges every cached session for the subject.
	// Used on logout, role change and account-level security events.
	InvalidateSubject(ctx context.Context, subject string) error
}
