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

type decisionCache struct {
	client *redislib.Client
	prefix string
	ttl    time.Duration
}

// NewDecisionCache creates a Redis-backed authentication decision cache.
// ttl is the fallback when a decision is stored without an explicit one.
func NewDecisionCache(client *redislib.Client, ttl time.Duration) repository.DecisionCache {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &decisionCache{
		client: client,
		prefix: "auth:decision:",
		ttl:    ttl,
	}
}

func (c *decisionCache) Get(ctx context.Context, subject, sessionID string) (*domain.Decision, error) {
	result, err := c.client.Get(ctx, c.key(subject, sessionID)).Result()
	if err != nil {
		if err == redislib.Nil {
			return nil, domain.ErrDecisionNotFound
		}
		return nil, err
	}

	var decision domain.Decision
	if err := json.Unmarshal([]byte(result), &decision); err != nil {
		return nil, err
	}
	return &decision, nil
}

func (c *decisionCache) Put(ctx context.Context, decision *domain.Decision, ttl time.Duration) error {
	if decision == nil || decision.Subject == "" || decision.SessionID == "" {
		return domain.ErrInvalidPayload
	}
	if ttl <= 0 {
		ttl = c.ttl
	}

	payload, err := json.Marshal(decision)
	if err != nil {
		return err
	}

	// The per-subject index set enables purge-all-sessions without SCAN.
	// Index entries outlive cache entries by at most the ttl; a stale index
	// member just produces a harmless no-op DEL on invalidation.
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.key(decision.Subject, decision.SessionID), payload, ttl)
	pipe.SAdd(ctx, c.indexKey(decision.Subject), decision.SessionID)
	pipe.Expire(ctx, c.indexKey(decision.Subject), 24*time.Hour)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *decisionCache) Invalidate(ctx context.Context, subject, sessionID string) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, c.key(subject, sessionID))
	pipe.SRem(ctx, c.indexKey(subject), sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *decisionCache) InvalidateSubject(ctx context.Context, subject string) error {
	sessions, err := c.client.SMembers(ctx, c.indexKey(subject)).Result()
	if err != nil && err != redislib.Nil {
		return err
	}

	pipe := c.client.TxPipeline()
	for _, sessionID := range sessions {
		pipe.Del(ctx, c.key(subject, sessionID))
	}
	pipe.Del(ctx, c.indexKey(subject))
	_, err = pipe.Exec(ctx)
	return err
}

func (c *decisionCache) key(subject, sessionID string) string {
	return fmt.Sprintf("%s%s:%s", c.prefix, subject, sessionID)
}

func (c *decisionCache) indexKey(subject string) string {
	return fmt.Sprintf("%sindex:%s", c.prefix, subject)
}
