package redis

import (
	"context"
	"fmt"
	"time"

	redislib "github.com/redis/go-redis/v9"

	"github.com/medianest/backend/repository"
)

// incrWindowScript performs the increment and the expiry arming in one
// server-side step, so concurrent callers can never observe a counter
// without a deadline or lose an update to a read-modify-write race.
var incrWindowScript = redislib.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

type rateCounterStore struct {
	client *redislib.Client
	prefix string
}

// NewRateCounterStore creates a Redis-backed windowed counter store.
func NewRateCounterStore(client *redislib.Client) repository.RateCounterStore {
	return &rateCounterStore{
		client: client,
		prefix: "rate:",
	}
}

func (s *rateCounterStore) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	if window <= 0 {
		window = time.Minute
	}
	result, err := incrWindowScript.Run(ctx, s.client, []string{s.key(key)}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, err
	}
	return result, nil
}

func (s *rateCounterStore) key(key string) string {
	return fmt.Sprintf("%s%s", s.prefix, key)
}
