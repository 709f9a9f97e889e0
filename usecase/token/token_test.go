package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medianest/backend/domain"
)

type fakeRegistry struct {
	mu      sync.Mutex
	entries map[string]*domain.RevocationEntry
	err     error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{entries: map[string]*domain.RevocationEntry{}}
}

func (f *fakeRegistry) Revoke(_ context.Context, tokenID, reason string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries[tokenID] = &domain.RevocationEntry{TokenID: tokenID, Reason: reason, RevokedAt: time.Now()}
	return nil
}

func (f *fakeRegistry) Get(_ context.Context, tokenID string) (*domain.RevocationEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	entry, ok := f.entries[tokenID]
	if !ok {
		return nil, domain.ErrRevocationNotFound
	}
	return entry, nil
}

func newTestValidator() (*Validator, *fakeRegistry) {
	registry := newFakeRegistry()
	v := New([]byte("signing-secret"), []byte("fingerprint-secret"), "medianest-test", registry, nil)
	return v, registry
}

func TestIssueAndValidate(t *testing.T) {
	v, _ := newTestValidator()

	signed, issued, err := v.Issue("user-1", "session-1", "10.0.0.1|firefox", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, signed)
	assert.Equal(t, "user-1", issued.Subject)
	assert.Equal(t, "session-1", issued.SessionID)
	assert.NotEmpty(t, issued.TokenID)

	claims, err := v.Validate(signed, "10.0.0.1|firefox")
	require.NoError(t, err)
	assert.Equal(t, issued.Subject, claims.Subject)
	assert.Equal(t, issued.SessionID, claims.SessionID)
	assert.Equal(t, issued.TokenID, claims.TokenID)
	assert.Equal(t, issued.FingerprintHash, claims.FingerprintHash)

	// Validation has no side effects; the same token verifies again.
	again, err := v.Validate(signed, "10.0.0.1|firefox")
	require.NoError(t, err)
	assert.Equal(t, claims.TokenID, again.TokenID)
}

func TestIssueRejectsEmptyIdentity(t *testing.T) {
	v, _ := newTestValidator()

	_, _, err := v.Issue("", "session-1", "fp", time.Hour)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, _, err = v.Issue("user-1", "", "fp", time.Hour)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestValidateRejectsFingerprintMismatch(t *testing.T) {
	v, _ := newTestValidator()

	signed, _, err := v.Issue("user-1", "session-1", "10.0.0.1|firefox", time.Hour)
	require.NoError(t, err)

	_, err = v.Validate(signed, "203.0.113.9|curl")
	assert.ErrorIs(t, err, domain.ErrFingerprintMismatch)
	assert.Equal(t, domain.ErrCodeFingerprint, domain.CodeOf(err))
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	v, _ := newTestValidator()
	other := New([]byte("different-secret"), []byte("fingerprint-secret"), "medianest-test", nil, nil)

	signed, _, err := other.Issue("user-1", "session-1", "fp", time.Hour)
	require.NoError(t, err)

	_, err = v.Validate(signed, "fp")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	v, _ := newTestValidator()
	v.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	signed, _, err := v.Issue("user-1", "session-1", "fp", time.Hour)
	require.NoError(t, err)

	v.now = time.Now
	_, err = v.Validate(signed, "fp")
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestValidateRejectsGarbage(t *testing.T) {
	v, _ := newTestValidator()

	_, err := v.Validate("", "fp")
	assert.ErrorIs(t, err, domain.ErrMalformedToken)

	_, err = v.Validate("not.a.token", "fp")
	assert.ErrorIs(t, err, domain.ErrMalformedToken)
}

func TestRotateRevokesOldToken(t *testing.T) {
	v, registry := newTestValidator()

	oldToken, oldClaims, err := v.Issue("user-1", "session-1", "fp", time.Hour)
	require.NoError(t, err)

	newToken, newClaims, err := v.Rotate(context.Background(), oldToken, "fp", time.Hour)
	require.NoError(t, err)
	require.NotEqual(t, oldToken, newToken)
	assert.Equal(t, oldClaims.Subject, newClaims.Subject)
	assert.Equal(t, oldClaims.SessionID, newClaims.SessionID)
	assert.NotEqual(t, oldClaims.TokenID, newClaims.TokenID)

	entry, err := registry.Get(context.Background(), oldClaims.TokenID)
	require.NoError(t, err)
	assert.Equal(t, domain.RevocationReasonRotated, entry.Reason)
	assert.True(t, entry.IsReplay())
}

func TestRotateFailsWhenRevokeFails(t *testing.T) {
	v, registry := newTestValidator()
	registry.err = domain.ErrStoreUnavailable

	oldToken, _, err := v.Issue("user-1", "session-1", "fp", time.Hour)
	require.NoError(t, err)

	_, _, err = v.Rotate(context.Background(), oldToken, "fp", time.Hour)
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeUnavailable, domain.CodeOf(err))
}

func TestFingerprintHashIsKeyed(t *testing.T) {
	v, _ := newTestValidator()
	other := New([]byte("signing-secret"), []byte("another-fp-key"), "medianest-test", nil, nil)

	assert.Equal(t, v.FingerprintHash("fp"), v.FingerprintHash("fp"))
	assert.NotEqual(t, v.FingerprintHash("fp"), v.FingerprintHash("fp2"))
	assert.NotEqual(t, v.FingerprintHash("fp"), other.FingerprintHash("fp"))
}
