package repository

import (
	"context"
	"time"

	"github.com/medianest/backend/domain"
)

// RevocationRegistry tracks invalidated token ids with a bounded TTL.
// Lookups against the registry are security-critical: callers must fail
// closed when the registry cannot be reached.
type RevocationRegistry interface {
	// Revoke records the token id. Idempotent; the entry expires after ttl,
	// which implementations clamp to the maximum token lifetime.
	Revoke(ctx context.Context, tokenID, reason string, ttl time.Duration) error

	// Get returns the revocation entry for the token id, or
	// domain.ErrRevocationNotFound when the id has not been revoked.
	Get(ctx context.Context, tokenID string) (*domain.RevocationEntry, error)
}
