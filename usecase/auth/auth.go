package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/medianest/backend/domain"
	"github.com/medianest/backend/repository"
	"github.com/medianest/backend/usecase"
	"github.com/medianest/backend/usecase/ratelimit"
	"github.com/medianest/backend/usecase/token"
)

// TokenPair is what a successful login hands back to the client.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	SessionID    string    `json:"session_id"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// UseCase implements the login/logout/rotation flows around the security
// core. Credential verification happens here; everything per-request happens
// in the guard.
type UseCase struct {
	users       repository.UserRepository
	cache       repository.DecisionCache
	revocations repository.RevocationRegistry
	tokens      *token.Validator
	limiter     *ratelimit.Limiter
	events      usecase.SecurityEventSink
	accessTTL   time.Duration
	refreshTTL  time.Duration
	logger      *zap.Logger
}

func New(
	users repository.UserRepository,
	cache repository.DecisionCache,
	revocations repository.RevocationRegistry,
	tokens *token.Validator,
	limiter *ratelimit.Limiter,
	events usecase.SecurityEventSink,
	accessTTL, refreshTTL time.Duration,
	logger *zap.Logger,
) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = usecase.NopSink{}
	}
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 24 * time.Hour
	}
	return &UseCase{
		users:       users,
		cache:       cache,
		revocations: revocations,
		tokens:      tokens,
		limiter:     limiter,
		events:      events,
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
		logger:      logger,
	}
}

// Login verifies credentials and issues an access/refresh token pair bound
// to the requesting context. The login endpoint class is throttled per
// origin before any credential work happens.
func (uc *UseCase) Login(ctx context.Context, username, password, fingerprint, remoteAddr string) (*TokenPair, error) {
	if username == "" || password == "" {
		return nil, domain.ErrInvalidPayload
	}

	result, err := uc.limiter.CheckAndIncrement(ctx, remoteAddr, ratelimit.ClassLogin)
	if err != nil {
		uc.logger.Warn("login rate counter unavailable, allowing attempt", zap.Error(err))
	} else if !result.Allowed {
		return nil, result.RejectionError()
	}

	user, err := uc.users.GetByUsername(ctx, username)
	if err != nil {
		if domain.IsDomainError(err, domain.ErrCodeNotFound) {
			uc.failedLogin(username, remoteAddr, "unknown username")
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		uc.failedLogin(username, remoteAddr, "wrong password")
		return nil, domain.ErrInvalidCredentials
	}

	if !user.IsActive() {
		uc.failedLogin(username, remoteAddr, "inactive account")
		return nil, domain.ErrAccountInactive
	}

	sessionID := uuid.NewString()

	access, accessClaims, err := uc.tokens.Issue(user.ID, sessionID, fingerprint, uc.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, _, err := uc.tokens.Issue(user.ID, sessionID, fingerprint, uc.refreshTTL)
	if err != nil {
		return nil, err
	}

	uc.logger.Info("user logged in",
		zap.String("subject", user.ID),
		zap.String("username", user.Username),
		zap.String("session_id", sessionID),
	)
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		SessionID:    sessionID,
		ExpiresAt:    accessClaims.ExpiresAt,
	}, nil
}

// Logout revokes the presented token for its remaining lifetime and drops
// the session's cached decision so the revocation takes effect immediately.
func (uc *UseCase) Logout(ctx context.Context, tokenString, fingerprint string) error {
	claims, err := uc.tokens.Validate(tokenString, fingerprint)
	if err != nil {
		return err
	}

	if err := uc.revocations.Revoke(ctx, claims.TokenID, domain.RevocationReasonLogout, claims.Remaining(time.Now())); err != nil {
		// Fail closed: an unrecorded revocation would leave the token live.
		return domain.WrapError(domain.ErrCodeUnavailable, "logout revoke failed", err)
	}

	if err := uc.cache.Invalidate(ctx, claims.Subject, claims.SessionID); err != nil {
		uc.logger.Warn("session cache invalidation failed",
			zap.String("subject", claims.Subject),
			zap.String("session_id", claims.SessionID),
			zap.Error(err),
		)
	}

	uc.logger.Info("user logged out",
		zap.String("subject", claims.Subject),
		zap.String("session_id", claims.SessionID),
		zap.String("token_id", claims.TokenID),
	)
	return nil
}

// Refresh rotates the presented refresh token into a fresh access token.
// The old token id lands in the revocation registry; replaying it afterwards
// is escalated by the guard.
func (uc *UseCase) Refresh(ctx context.Context, refreshToken, fingerprint string) (*TokenPair, error) {
	newToken, claims, err := uc.tokens.Rotate(ctx, refreshToken, fingerprint, uc.accessTTL)
	if err != nil {
		return nil, err
	}

	// The session's cached decision predates the rotation; drop it so the
	// next request re-validates under the new token.
	if err := uc.cache.Invalidate(ctx, claims.Subject, claims.SessionID); err != nil {
		uc.logger.Warn("session cache invalidation failed after rotation",
			zap.String("subject", claims.Subject),
			zap.Error(err),
		)
	}

	return &TokenPair{
		AccessToken: newToken,
		SessionID:   claims.SessionID,
		ExpiresAt:   claims.ExpiresAt,
	}, nil
}

// RegisterParams carries the admin-only user creation request.
type RegisterParams struct {
	Username    string
	Password    string
	Email       string
	Role        string
	Permissions []string
}

// Register creates a user on behalf of an admin.
func (uc *UseCase) Register(ctx context.Context, adminSubject string, params RegisterParams) (*domain.User, error) {
	if params.Username == "" || params.Password == "" {
		return nil, domain.ErrInvalidPayload
	}

	admin, err := uc.users.GetByID(ctx, adminSubject)
	if err != nil {
		return nil, err
	}
	if !admin.IsAdmin() {
		return nil, domain.ErrAdminRequired
	}

	if existing, err := uc.users.GetByUsername(ctx, params.Username); err == nil && existing != nil {
		return nil, domain.NewError(domain.ErrCodeConflict, "username already exists")
	} else if err != nil && !domain.IsDomainError(err, domain.ErrCodeNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, domain.WrapError(domain.ErrCodeInternal, "password hashing failed", err)
	}

	role := params.Role
	if role == "" {
		role = domain.RoleMember
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     params.Username,
		Email:        params.Email,
		PasswordHash: string(hash),
		Role:         role,
		Permissions:  params.Permissions,
		Status:       "active",
	}
	if err := uc.users.Upsert(ctx, user); err != nil {
		return nil, err
	}

	uc.logger.Info("user registered",
		zap.String("admin", admin.Username),
		zap.String("username", user.Username),
		zap.String("role", user.Role),
	)
	return user, nil
}

func (uc *UseCase) failedLogin(username, remoteAddr, detail string) {
	uc.events.Emit(domain.SecurityEvent{
		Type:       domain.EventLoginFailed,
		Severity:   domain.SeverityLow,
		Subject:    username,
		RemoteAddr: remoteAddr,
		Detail:     detail,
		At:         time.Now(),
	})
	uc.logger.Warn("failed login attempt",
		zap.String("username", username),
		zap.String("remote_addr", remoteAddr),
	)
}
