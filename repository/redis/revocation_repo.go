package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redislib "github.com/redis/go-redis/v9"

	"github.com/medianest/backend/domain"
	"github.com/medianest/backend/repository"
)

type revocationRegistry struct {
	client *redislib.Client
	prefix string
	maxTTL time.Duration
}

// NewRevocationRegistry creates a Redis-backed revocation registry. Entries
// live at most maxTTL regardless of the requested ttl, which bounds storage
// growth to the maximum natural token lifetime.
func NewRevocationRegistry(client *redislib.Client, maxTTL time.Duration) repository.RevocationRegistry {
	if maxTTL <= 0 {
		maxTTL = 24 * time.Hour
	}
	return &revocationRegistry{
		client: client,
		prefix: "auth:revoked:",
		maxTTL: maxTTL,
	}
}

func (r *revocationRegistry) Revoke(ctx context.Context, tokenID, reason string, ttl time.Duration) error {
	if tokenID == "" {
		return domain.ErrInvalidPayload
	}

	entry := domain.RevocationEntry{
		TokenID:   tokenID,
		Reason:    reason,
		RevokedAt: time.Now(),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	if ttl <= 0 || ttl > r.maxTTL {
		ttl = r.maxTTL
	}

	// Plain SET makes re-revocation idempotent; the newest reason wins,
	// which is what rotation followed by a forced purge needs.
	return r.client.Set(ctx, r.key(tokenID), payload, ttl).Err()
}

func (r *revocationRegistry) Get(ctx context.Context, tokenID string) (*domain.RevocationEntry, error) {
	result, err := r.client.Get(ctx, r.key(tokenID)).Result()
	if err != nil {
		if err == redislib.Nil {
			return nil, domain.ErrRevocationNotFound
		}
		return nil, err
	}

	var entry domain.RevocationEntry
	if err := json.Unmarshal([]byte(result), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *revocationRegistry) key(tokenID string) string {
	return fmt.Sprintf("%s%s", r.prefix, tokenID)
}
