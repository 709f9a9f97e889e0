package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medianest/backend/domain"
)

// fakeCounterStore mimics the atomic single-round-trip increment contract.
type fakeCounterStore struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newFakeCounterStore() *fakeCounterStore {
	return &fakeCounterStore{counts: map[string]int64{}}
}

func (f *fakeCounterStore) IncrWindow(_ context.Context, key string, _ time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.counts[key]++
	return f.counts[key], nil
}

func newTestLimiter(store *fakeCounterStore, policies map[string]Policy) *Limiter {
	return New(store, policies, nil)
}

func TestCheckAndIncrementEnforcesLimit(t *testing.T) {
	store := newFakeCounterStore()
	limiter := newTestLimiter(store, map[string]Policy{
		ClassGeneral: {Limit: 3, Window: time.Minute},
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		result, err := limiter.CheckAndIncrement(ctx, "user-1", ClassGeneral)
		require.NoError(t, err)
		assert.True(t, result.Allowed, "request %d should fit the window", i+1)
		assert.Equal(t, int64(3-i-1), result.Remaining)
	}

	result, err := limiter.CheckAndIncrement(ctx, "user-1", ClassGeneral)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Greater(t, result.RetryAfter, time.Duration(0))
}

func TestCheckAndIncrementIsolatesIdentities(t *testing.T) {
	store := newFakeCounterStore()
	limiter := newTestLimiter(store, map[string]Policy{
		ClassGeneral: {Limit: 1, Window: time.Minute},
	})

	ctx := context.Background()
	first, err := limiter.CheckAndIncrement(ctx, "user-1", ClassGeneral)
	require.NoError(t, err)
	assert.True(t, first.Allowed)

	blocked, err := limiter.CheckAndIncrement(ctx, "user-1", ClassGeneral)
	require.NoError(t, err)
	assert.False(t, blocked.Allowed)

	other, err := limiter.CheckAndIncrement(ctx, "user-2", ClassGeneral)
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestCheckAndIncrementConcurrentNeverOvershoots(t *testing.T) {
	const limit = 10
	const attempts = 50

	store := newFakeCounterStore()
	limiter := newTestLimiter(store, map[string]Policy{
		ClassGeneral: {Limit: limit, Window: time.Minute},
	})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := limiter.CheckAndIncrement(context.Background(), "user-1", ClassGeneral)
			if err != nil {
				return
			}
			if result.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, allowed)
}

func TestWindowRollsOver(t *testing.T) {
	store := newFakeCounterStore()
	limiter := newTestLimiter(store, map[string]Policy{
		ClassGeneral: {Limit: 1, Window: time.Minute},
	})

	base := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	limiter.now = func() time.Time { return base }

	ctx := context.Background()
	first, err := limiter.CheckAndIncrement(ctx, "user-1", ClassGeneral)
	require.NoError(t, err)
	assert.True(t, first.Allowed)

	blocked, err := limiter.CheckAndIncrement(ctx, "user-1", ClassGeneral)
	require.NoError(t, err)
	assert.False(t, blocked.Allowed)
	// 30s into a 60s window leaves 30s until it resets.
	assert.Equal(t, 30*time.Second, blocked.RetryAfter)

	limiter.now = func() time.Time { return base.Add(time.Minute) }
	next, err := limiter.CheckAndIncrement(ctx, "user-1", ClassGeneral)
	require.NoError(t, err)
	assert.True(t, next.Allowed)
}

func TestUnknownClassFallsBackToGeneral(t *testing.T) {
	store := newFakeCounterStore()
	limiter := newTestLimiter(store, map[string]Policy{
		ClassGeneral: {Limit: 1, Window: time.Minute},
	})

	ctx := context.Background()
	first, err := limiter.CheckAndIncrement(ctx, "user-1", "unknown_class")
	require.NoError(t, err)
	assert.True(t, first.Allowed)
}

func TestStoreFailureSurfacesAsUnavailable(t *testing.T) {
	store := newFakeCounterStore()
	store.err = assert.AnError
	limiter := newTestLimiter(store, nil)

	_, err := limiter.CheckAndIncrement(context.Background(), "user-1", ClassGeneral)
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeUnavailable, domain.CodeOf(err))
}

func TestRejectionErrorCarriesRetryHint(t *testing.T) {
	result := Result{Allowed: false, RetryAfter: 42 * time.Second}
	err := result.RejectionError()

	assert.Equal(t, domain.ErrCodeRateLimited, domain.CodeOf(err))
	retry, ok := domain.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 42, retry)
}
