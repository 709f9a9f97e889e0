package middleware

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/medianest/backend/domain"
	"github.com/medianest/backend/pkg/httpcontext"
	"github.com/medianest/backend/pkg/resilience"
	"github.com/medianest/backend/usecase"
	"github.com/medianest/backend/usecase/guard"
	"github.com/medianest/backend/usecase/ratelimit"
	"github.com/medianest/backend/usecase/token"
)

type memUsers map[string]*domain.User

func (m memUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	user, ok := m[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return user, nil
}

func (m memUsers) GetByUsername(context.Context, string) (*domain.User, error) {
	return nil, domain.ErrUserNotFound
}

func (m memUsers) Upsert(context.Context, *domain.User) error { return nil }

type memRevocations map[string]*domain.RevocationEntry

func (m memRevocations) Revoke(_ context.Context, tokenID, reason string, _ time.Duration) error {
	m[tokenID] = &domain.RevocationEntry{TokenID: tokenID, Reason: reason, RevokedAt: time.Now()}
	return nil
}

func (m memRevocations) Get(_ context.Context, tokenID string) (*domain.RevocationEntry, error) {
	entry, ok := m[tokenID]
	if !ok {
		return nil, domain.ErrRevocationNotFound
	}
	return entry, nil
}

type memCache map[string]*domain.Decision

func (m memCache) Get(_ context.Context, subject, sessionID string) (*domain.Decision, error) {
	decision, ok := m[subject+"/"+sessionID]
	if !ok {
		return nil, domain.ErrDecisionNotFound
	}
	return decision, nil
}

func (m memCache) Put(_ context.Context, decision *domain.Decision, _ time.Duration) error {
	m[decision.Subject+"/"+decision.SessionID] = decision
	return nil
}

func (m memCache) Invalidate(_ context.Context, subject, sessionID string) error {
	delete(m, subject+"/"+sessionID)
	return nil
}

func (m memCache) InvalidateSubject(_ context.Context, subject string) error {
	for key := range m {
		if len(key) > len(subject) && key[:len(subject)+1] == subject+"/" {
			delete(m, key)
		}
	}
	return nil
}

type memCounters map[string]int64

func (m memCounters) IncrWindow(_ context.Context, key string, _ time.Duration) (int64, error) {
	m[key]++
	return m[key], nil
}

func newGuardedHandler(t *testing.T, class string) (*token.Validator, fasthttp.RequestHandler, *int) {
	t.Helper()

	users := memUsers{"user-1": {ID: "user-1", Username: "alice", Role: domain.RoleMember, Status: "active"}}
	revocations := memRevocations{}
	validator := token.New([]byte("signing-secret"), []byte("fingerprint-secret"), "medianest-test", revocations, nil)
	limiter := ratelimit.New(memCounters{}, map[string]ratelimit.Policy{
		ratelimit.ClassGeneral:      {Limit: 100, Window: time.Minute},
		ratelimit.ClassMediaRequest: {Limit: 1, Window: time.Hour},
	}, nil)

	g := guard.New(guard.Config{
		Tokens:         validator,
		Revocations:    revocations,
		Cache:          memCache{},
		Users:          users,
		Limiter:        limiter,
		RevocationCall: resilience.NewCaller(resilience.Config{Name: "revocations", Policy: resilience.FailClosed, CallTimeout: time.Second}, nil, nil),
		CacheCall:      resilience.NewCaller(resilience.Config{Name: "cache", Policy: resilience.FailOpen, CallTimeout: time.Second}, nil, nil),
		Events:         usecase.NopSink{},
		CacheTTL:       time.Minute,
	}, nil)

	calls := 0
	handler := Guard(g, httpcontext.NewAdapter(time.Second), class, nil)(func(ctx *fasthttp.RequestCtx) {
		calls++
		ctx.SetStatusCode(http.StatusOK)
		ctx.SetBodyString(string(ctx.Request.Header.Peek("X-User-ID")))
	})
	return validator, handler, &calls
}

func runRequest(handler fasthttp.RequestHandler, authHeader, smuggledUserID string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI("/api/v1/media")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	if smuggledUserID != "" {
		req.Header.Set("X-User-ID", smuggledUserID)
	}

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	handler(ctx)
	return ctx
}

func TestGuardMiddlewareAllowsValidToken(t *testing.T) {
	validator, handler, calls := newGuardedHandler(t, ratelimit.ClassGeneral)

	signed, _, err := validator.Issue("user-1", "session-1", "0.0.0.0|", time.Hour)
	require.NoError(t, err)

	ctx := runRequest(handler, "Bearer "+signed, "")
	assert.Equal(t, http.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "user-1", string(ctx.Response.Body()))
	assert.Equal(t, 1, *calls)
}

func TestGuardMiddlewareOverwritesSmuggledIdentity(t *testing.T) {
	validator, handler, _ := newGuardedHandler(t, ratelimit.ClassGeneral)

	signed, _, err := validator.Issue("user-1", "session-1", "0.0.0.0|", time.Hour)
	require.NoError(t, err)

	ctx := runRequest(handler, "Bearer "+signed, "admin-1")
	assert.Equal(t, http.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "user-1", string(ctx.Response.Body()))
}

func TestGuardMiddlewareRejectsMissingToken(t *testing.T) {
	_, handler, calls := newGuardedHandler(t, ratelimit.ClassGeneral)

	ctx := runRequest(handler, "", "")
	assert.Equal(t, http.StatusUnauthorized, ctx.Response.StatusCode())
	assert.Equal(t, 0, *calls)
}

func TestGuardMiddlewareRejectsForeignFingerprint(t *testing.T) {
	validator, handler, calls := newGuardedHandler(t, ratelimit.ClassGeneral)

	// Issued under a different requester context than the test request's.
	signed, _, err := validator.Issue("user-1", "session-1", "203.0.113.9|stolen", time.Hour)
	require.NoError(t, err)

	ctx := runRequest(handler, "Bearer "+signed, "")
	assert.Equal(t, http.StatusUnauthorized, ctx.Response.StatusCode())
	assert.Equal(t, 0, *calls)
	assert.Contains(t, string(ctx.Response.Body()), string(domain.ErrCodeFingerprint))
}

func TestGuardMiddlewareReturnsRetryAfterWhenThrottled(t *testing.T) {
	validator, handler, _ := newGuardedHandler(t, ratelimit.ClassMediaRequest)

	signed, _, err := validator.Issue("user-1", "session-1", "0.0.0.0|", time.Hour)
	require.NoError(t, err)

	first := runRequest(handler, "Bearer "+signed, "")
	require.Equal(t, http.StatusOK, first.Response.StatusCode())

	second := runRequest(handler, "Bearer "+signed, "")
	assert.Equal(t, http.StatusTooManyRequests, second.Response.StatusCode())
	assert.NotEmpty(t, string(second.Response.Header.Peek("Retry-After")))
}
