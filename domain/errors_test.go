package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeTokenRevoked, CodeOf(ErrTokenRevoked))
	assert.Equal(t, ErrCodeFingerprint, CodeOf(ErrFingerprintMismatch))
	assert.Equal(t, ErrCodeInternal, CodeOf(errors.New("anything untyped")))
	assert.Equal(t, ErrCodeNotFound, CodeOf(fmt.Errorf("wrapped: %w", ErrUserNotFound)))
}

func TestRetryAfter(t *testing.T) {
	err := NewRateLimited(30)
	retry, ok := RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 30, retry)

	_, ok = RetryAfter(ErrTokenRevoked)
	assert.False(t, ok)
}

func TestRejectionForHidesServerDetail(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode ErrorCode
		wantMsg  string
	}{
		{"revoked", ErrTokenRevoked, ErrCodeTokenRevoked, "authentication failed"},
		{"replay maps to revoked", ErrReplayDetected, ErrCodeTokenRevoked, "authentication failed"},
		{"fingerprint", ErrFingerprintMismatch, ErrCodeFingerprint, "authentication failed"},
		{"rate limited", NewRateLimited(12), ErrCodeRateLimited, "too many requests"},
		{"expired collapses to unauthenticated", ErrTokenExpired, ErrCodeUnauthenticated, "authentication failed"},
		{"store trouble collapses to unauthenticated", ErrStoreUnavailable, ErrCodeUnauthenticated, "authentication failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rejection := RejectionFor(tt.err)
			assert.Equal(t, tt.wantCode, rejection.Code)
			assert.Equal(t, tt.wantMsg, rejection.Message)
			// The server-side reason never leaks into the client message.
			assert.NotContains(t, rejection.Message, tt.err.Error())
		})
	}
}

func TestRejectionForCarriesRetryHint(t *testing.T) {
	rejection := RejectionFor(NewRateLimited(45))
	assert.Equal(t, 45, rejection.RetryAfterSeconds)
}

func TestWrapErrorPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError(ErrCodeUnavailable, "redis call failed", cause)

	assert.True(t, IsDomainError(err, ErrCodeUnavailable))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "redis call failed")
}
