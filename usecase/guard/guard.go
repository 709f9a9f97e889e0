package guard

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/medianest/backend/domain"
	"github.com/medianest/backend/internal/metrics"
	"github.com/medianest/backend/pkg/resilience"
	"github.com/medianest/backend/repository"
	"github.com/medianest/backend/usecase"
	"github.com/medianest/backend/usecase/ratelimit"
	"github.com/medianest/backend/usecase/token"
)

// State names the steps of the per-request decision machine.
type State string

const (
	StateReceived          State = "RECEIVED"
	StateTokenParsed       State = "TOKEN_PARSED"
	StateRevocationChecked State = "REVOCATION_CHECKED"
	StateCacheLookup       State = "CACHE_LOOKUP"
	StateFullValidate      State = "FULL_VALIDATE"
	StateCacheStore        State = "CACHE_STORE"
	StateRateLimitCheck    State = "RATE_LIMIT_CHECK"
	StateAuthorized        State = "AUTHORIZED"
	StateRejected          State = "REJECTED"
)

// Request carries everything the guard needs to decide one inbound request.
type Request struct {
	Token         string
	Fingerprint   string
	RemoteAddr    string
	EndpointClass string
}

// Verdict is the terminal outcome of the decision machine.
type Verdict struct {
	Allowed   bool
	Decision  *domain.Decision
	Rejection domain.Rejection
	State     State
}

// Guard composes the token validator, revocation registry, decision cache,
// identity store and rate limiter into the per-request authorization
// decision. All store handles are injected; the guard keeps no global state.
type Guard struct {
	tokens      *token.Validator
	revocations repository.RevocationRegistry
	cache       repository.DecisionCache
	users       repository.UserRepository
	limiter     *ratelimit.Limiter
	revCall     *resilience.Caller
	cacheCall   *resilience.Caller
	events      usecase.SecurityEventSink
	cacheTTL    time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// Config wires the guard's collaborators.
type Config struct {
	Tokens      *token.Validator
	Revocations repository.RevocationRegistry
	Cache       repository.DecisionCache
	Users       repository.UserRepository
	Limiter     *ratelimit.Limiter
	// RevocationCall must be a fail-closed caller; CacheCall fail-open.
	RevocationCall *resilience.Caller
	CacheCall      *resilience.Caller
	Events         usecase.SecurityEventSink
	CacheTTL       time.Duration
}

func New(cfg Config, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Events == nil {
		cfg.Events = usecase.NopSink{}
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 2 * time.Minute
	}
	return &Guard{
		tokens:      cfg.Tokens,
		revocations: cfg.Revocations,
		cache:       cfg.Cache,
		users:       cfg.Users,
		limiter:     cfg.Limiter,
		revCall:     cfg.RevocationCall,
		cacheCall:   cfg.CacheCall,
		events:      cfg.Events,
		cacheTTL:    cfg.CacheTTL,
		logger:      logger,
		now:         time.Now,
	}
}

// Authorize runs the decision machine:
//
//	RECEIVED → TOKEN_PARSED → REVOCATION_CHECKED → CACHE_LOOKUP →
//	{hit | miss → FULL_VALIDATE → CACHE_STORE} → RATE_LIMIT_CHECK →
//	AUTHORIZED | REJECTED
func (g *Guard) Authorize(ctx context.Context, req Request) Verdict {
	claims, err := g.tokens.Validate(req.Token, req.Fingerprint)
	if err != nil {
		if domain.IsDomainError(err, domain.ErrCodeFingerprint) {
			return g.rejectFingerprint(req, err)
		}
		return g.reject(StateTokenParsed, err)
	}

	if verdict, rejected := g.checkRevocation(ctx, req, claims); rejected {
		return verdict
	}

	decision := g.lookupDecision(ctx, req, claims)
	if decision == nil {
		var verdict Verdict
		decision, verdict = g.fullValidate(ctx, claims)
		if decision == nil {
			return verdict
		}
		g.storeDecision(ctx, decision)
	}

	if verdict, rejected := g.checkRateLimit(ctx, req, claims); rejected {
		return verdict
	}

	metrics.AuthDecisionsTotal.WithLabelValues("authorized").Inc()
	return Verdict{Allowed: true, Decision: decision, State: StateAuthorized}
}

// checkRevocation consults the registry before any cached decision may be
// trusted. The registry is security-critical: unavailability rejects.
func (g *Guard) checkRevocation(ctx context.Context, req Request, claims *domain.TokenClaims) (Verdict, bool) {
	entry, err := resilience.Do(ctx, g.revCall, func(callCtx context.Context) (*domain.RevocationEntry, error) {
		return g.revocations.Get(callCtx, claims.TokenID)
	})
	if err != nil {
		if domain.IsDomainError(err, domain.ErrCodeNotFound) {
			return Verdict{}, false
		}
		// Fail closed: an unanswered revocation check is a rejection.
		g.logger.Error("revocation check unavailable", zap.String("token_id", claims.TokenID), zap.Error(err))
		return g.reject(StateRevocationChecked, domain.ErrStoreUnavailable), true
	}

	if entry.IsReplay() {
		return g.rejectReplay(ctx, req, claims), true
	}

	g.emit(domain.SecurityEvent{
		Type:       domain.EventTokenRevoked,
		Severity:   domain.SeverityLow,
		Subject:    claims.Subject,
		SessionID:  claims.SessionID,
		TokenID:    claims.TokenID,
		RemoteAddr: req.RemoteAddr,
		Detail:     "revoked token presented (reason: " + entry.Reason + ")",
	})
	return g.reject(StateRevocationChecked, domain.ErrTokenRevoked), true
}

// lookupDecision returns the cached decision when it matches the requesting
// context, nil on any kind of miss. An unreachable cache degrades to nil:
// the cache is an optimization, not a security boundary.
func (g *Guard) lookupDecision(ctx context.Context, req Request, claims *domain.TokenClaims) *domain.Decision {
	decision, err := resilience.Do(ctx, g.cacheCall, func(callCtx context.Context) (*domain.Decision, error) {
		return g.cache.Get(callCtx, claims.Subject, claims.SessionID)
	})
	if err != nil {
		switch {
		case domain.IsDomainError(err, domain.ErrCodeNotFound):
			metrics.DecisionCacheLookupsTotal.WithLabelValues("miss").Inc()
		case resilience.Unavailable(err):
			metrics.DecisionCacheLookupsTotal.WithLabelValues("error").Inc()
			g.logger.Warn("decision cache unavailable, falling back to full validation", zap.Error(err))
		default:
			metrics.DecisionCacheLookupsTotal.WithLabelValues("error").Inc()
		}
		return nil
	}

	if decision.IsExpired(g.now()) {
		metrics.DecisionCacheLookupsTotal.WithLabelValues("expired").Inc()
		return nil
	}

	if !decision.MatchesContext(claims.FingerprintHash) {
		// The poisoning defense: an entry created under one context is
		// never served to another. Treated as a miss and reported.
		metrics.DecisionCacheLookupsTotal.WithLabelValues("context_mismatch").Inc()
		g.emit(domain.SecurityEvent{
			Type:       domain.EventCacheContextMismatch,
			Severity:   domain.SeverityHigh,
			Subject:    claims.Subject,
			SessionID:  claims.SessionID,
			TokenID:    claims.TokenID,
			RemoteAddr: req.RemoteAddr,
			Detail:     "cached decision context differs from requesting context",
		})
		return nil
	}

	metrics.DecisionCacheLookupsTotal.WithLabelValues("hit").Inc()
	return decision
}

// fullValidate consults the identity store and builds a fresh decision.
func (g *Guard) fullValidate(ctx context.Context, claims *domain.TokenClaims) (*domain.Decision, Verdict) {
	user, err := g.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if domain.IsDomainError(err, domain.ErrCodeNotFound) {
			return nil, g.reject(StateFullValidate, domain.ErrInvalidCredentials)
		}
		g.logger.Error("identity store lookup failed", zap.String("subject", claims.Subject), zap.Error(err))
		return nil, g.reject(StateFullValidate, domain.ErrStoreUnavailable)
	}
	if !user.IsActive() {
		return nil, g.reject(StateFullValidate, domain.ErrAccountInactive)
	}

	return &domain.Decision{
		Subject:         claims.Subject,
		SessionID:       claims.SessionID,
		Role:            user.Role,
		Permissions:     user.Permissions,
		FingerprintHash: claims.FingerprintHash,
		ValidUntil:      g.now().Add(g.cacheTTL),
	}, Verdict{}
}

// storeDecision races with concurrent fills for the same subject/session;
// both compute the same value from the same validated claims, so last write
// wins harmlessly. Failures only cost the next request a full validation.
func (g *Guard) storeDecision(ctx context.Context, decision *domain.Decision) {
	_, err := resilience.Do(ctx, g.cacheCall, func(callCtx context.Context) (struct{}, error) {
		return struct{}{}, g.cache.Put(callCtx, decision, g.cacheTTL)
	})
	if err != nil {
		g.logger.Warn("decision cache store failed", zap.String("subject", decision.Subject), zap.Error(err))
	}
}

func (g *Guard) checkRateLimit(ctx context.Context, req Request, claims *domain.TokenClaims) (Verdict, bool) {
	class := req.EndpointClass
	if class == "" {
		class = ratelimit.ClassGeneral
	}

	result, err := g.limiter.CheckAndIncrement(ctx, claims.Subject, class)
	if err != nil {
		// Traffic shaping is not a security boundary; an unreachable
		// counter store does not reject the request.
		g.logger.Warn("rate counter unavailable, allowing request", zap.Error(err))
		return Verdict{}, false
	}
	if result.Allowed {
		return Verdict{}, false
	}

	metrics.RateLimitRejectionsTotal.WithLabelValues(class).Inc()
	g.emit(domain.SecurityEvent{
		Type:       domain.EventRateLimitExceeded,
		Severity:   domain.SeverityLow,
		Subject:    claims.Subject,
		SessionID:  claims.SessionID,
		RemoteAddr: req.RemoteAddr,
		Detail:     "endpoint class " + class,
	})
	return g.reject(StateRateLimitCheck, result.RejectionError()), true
}

// rejectFingerprint handles a token presented from a context it was not
// issued under. High severity: this is either a stolen token or a client
// whose environment changed underneath an active session.
func (g *Guard) rejectFingerprint(req Request, cause error) Verdict {
	g.emit(domain.SecurityEvent{
		Type:       domain.EventFingerprintMismatch,
		Severity:   domain.SeverityHigh,
		RemoteAddr: req.RemoteAddr,
		Detail:     "token fingerprint does not match requesting context",
	})
	return g.reject(StateTokenParsed, cause)
}

// rejectReplay handles a rotated-out token id coming back: critical
// severity, and every active session of the subject is forced out.
func (g *Guard) rejectReplay(ctx context.Context, req Request, claims *domain.TokenClaims) Verdict {
	metrics.ReplayAttemptsTotal.Inc()
	g.emit(domain.SecurityEvent{
		Type:       domain.EventReplayDetected,
		Severity:   domain.SeverityCritical,
		Subject:    claims.Subject,
		SessionID:  claims.SessionID,
		TokenID:    claims.TokenID,
		RemoteAddr: req.RemoteAddr,
		Detail:     "rotated-out token id presented",
	})

	if err := g.cache.InvalidateSubject(ctx, claims.Subject); err != nil {
		g.logger.Error("subject-wide session purge failed", zap.String("subject", claims.Subject), zap.Error(err))
	} else {
		g.emit(domain.SecurityEvent{
			Type:     domain.EventSessionsPurged,
			Severity: domain.SeverityCritical,
			Subject:  claims.Subject,
			Detail:   "all sessions invalidated after replay detection",
		})
	}

	return g.reject(StateRevocationChecked, domain.ErrReplayDetected)
}

func (g *Guard) reject(at State, err error) Verdict {
	rejection := domain.RejectionFor(err)
	metrics.AuthDecisionsTotal.WithLabelValues(string(rejection.Code)).Inc()
	g.logger.Debug("request rejected",
		zap.String("at", string(at)),
		zap.String("code", string(rejection.Code)),
		zap.Error(err),
	)
	return Verdict{Allowed: false, Rejection: rejection, State: StateRejected}
}

func (g *Guard) emit(event domain.SecurityEvent) {
	if event.At.IsZero() {
		event.At = g.now()
	}
	g.events.Emit(event)
}
