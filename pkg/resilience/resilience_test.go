package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medianest/backend/domain"
)

func TestDoReturnsTypedResult(t *testing.T) {
	caller := NewCaller(Config{Name: "store", CallTimeout: time.Second}, nil, nil)

	result, err := Do(context.Background(), caller, func(context.Context) (string, error) {
		return "value", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "value", result)
}

func TestDoPassesThroughDomainOutcomes(t *testing.T) {
	caller := NewCaller(Config{Name: "store", CallTimeout: time.Second}, nil, nil)

	_, err := Do(context.Background(), caller, func(context.Context) (*domain.RevocationEntry, error) {
		return nil, domain.ErrRevocationNotFound
	})

	assert.ErrorIs(t, err, domain.ErrRevocationNotFound)
	assert.False(t, Unavailable(err))
}

func TestDoWrapsTransportErrors(t *testing.T) {
	caller := NewCaller(Config{Name: "store", CallTimeout: time.Second}, nil, nil)

	_, err := Do(context.Background(), caller, func(context.Context) (int, error) {
		return 0, errors.New("connection refused")
	})

	require.Error(t, err)
	assert.True(t, Unavailable(err))
}

func TestDoTimesOutSlowCalls(t *testing.T) {
	caller := NewCaller(Config{Name: "store", CallTimeout: 10 * time.Millisecond}, nil, nil)

	_, err := Do(context.Background(), caller, func(ctx context.Context) (int, error) {
		select {
		case <-time.After(time.Second):
			return 1, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})

	require.Error(t, err)
	assert.True(t, Unavailable(err))
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var transitions []string
	caller := NewCaller(Config{
		Name:         "store",
		CallTimeout:  time.Second,
		MinRequests:  3,
		FailureRatio: 0.5,
		OpenTimeout:  time.Minute,
	}, nil, func(name string, from, to gobreaker.State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	for i := 0; i < 3; i++ {
		_, _ = Do(context.Background(), caller, func(context.Context) (int, error) {
			return 0, errors.New("down")
		})
	}

	_, err := Do(context.Background(), caller, func(context.Context) (int, error) {
		return 1, nil
	})
	require.Error(t, err)
	assert.True(t, Unavailable(err))
	assert.Contains(t, transitions, "closed->open")
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	caller := NewCaller(Config{
		Name:         "store",
		CallTimeout:  time.Second,
		MinRequests:  2,
		FailureRatio: 0.5,
	}, nil, nil)

	for i := 0; i < 10; i++ {
		_, err := Do(context.Background(), caller, func(context.Context) (*domain.RevocationEntry, error) {
			return nil, domain.ErrRevocationNotFound
		})
		assert.ErrorIs(t, err, domain.ErrRevocationNotFound)
	}

	result, err := Do(context.Background(), caller, func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, result)
}

func TestPolicyReporting(t *testing.T) {
	failOpen := NewCaller(Config{Name: "cache", Policy: FailOpen}, nil, nil)
	failClosed := NewCaller(Config{Name: "registry", Policy: FailClosed}, nil, nil)

	assert.True(t, failOpen.FailsOpen())
	assert.False(t, failClosed.FailsOpen())
	assert.Equal(t, "cache", failOpen.Name())
}
