package token

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medianest/backend/domain"
	"github.com/medianest/backend/repository"
)

// sessionClaims is the wire shape of a session token.
type sessionClaims struct {
	jwt.RegisteredClaims
	SessionID       string `json:"sid"`
	FingerprintHash string `json:"fph"`
}

// Validator issues and verifies signed session tokens bound to a requester
// context fingerprint. Issue and Validate are pure of store access; Rotate
// additionally registers the replaced token id in the revocation registry.
type Validator struct {
	signingKey     []byte
	fingerprintKey []byte
	issuer         string
	revocations    repository.RevocationRegistry
	logger         *zap.Logger
	now            func() time.Time
}

func New(signingKey, fingerprintKey []byte, issuer string, revocations repository.RevocationRegistry, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		signingKey:     signingKey,
		fingerprintKey: fingerprintKey,
		issuer:         issuer,
		revocations:    revocations,
		logger:         logger,
		now:            time.Now,
	}
}

// FingerprintHash derives the keyed hash of a raw requester context. Only the
// hash ever leaves this package; the raw fingerprint is never persisted.
func (v *Validator) FingerprintHash(fingerprint string) string {
	mac := hmac.New(sha256.New, v.fingerprintKey)
	mac.Write([]byte(fingerprint))
	return hex.EncodeToString(mac.Sum(nil))
}

// Issue creates a signed token for the subject/session pair bound to the
// given fingerprint. No side effects beyond signing.
func (v *Validator) Issue(subject, sessionID, fingerprint string, ttl time.Duration) (string, *domain.TokenClaims, error) {
	if subject == "" || sessionID == "" {
		return "", nil, domain.ErrInvalidPayload
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	now := v.now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		SessionID:       sessionID,
		FingerprintHash: v.FingerprintHash(fingerprint),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.signingKey)
	if err != nil {
		return "", nil, domain.WrapError(domain.ErrCodeInternal, "token signing failed", err)
	}
	return signed, toDomain(&claims), nil
}

// Validate verifies the signature and expiry of the token and compares its
// stored fingerprint hash against the requesting context. The comparison is
// constant-time.
func (v *Validator) Validate(tokenString, requestFingerprint string) (*domain.TokenClaims, error) {
	claims, err := v.parse(tokenString)
	if err != nil {
		return nil, err
	}

	requestHash := v.FingerprintHash(requestFingerprint)
	if !hmac.Equal([]byte(claims.FingerprintHash), []byte(requestHash)) {
		return nil, domain.ErrFingerprintMismatch
	}

	return toDomain(claims), nil
}

// Rotate replaces a still-valid token with a fresh one for the same subject
// and session, and registers the old token id in the revocation registry for
// its remaining lifetime. Any later use of the old id is a replay.
func (v *Validator) Rotate(ctx context.Context, oldToken, requestFingerprint string, ttl time.Duration) (string, *domain.TokenClaims, error) {
	oldClaims, err := v.Validate(oldToken, requestFingerprint)
	if err != nil {
		return "", nil, err
	}

	remaining := oldClaims.Remaining(v.now())
	if err := v.revocations.Revoke(ctx, oldClaims.TokenID, domain.RevocationReasonRotated, remaining); err != nil {
		// Without the revocation the old token would stay usable next to
		// the new one, so rotation must not proceed.
		return "", nil, domain.WrapError(domain.ErrCodeUnavailable, "rotation revoke failed", err)
	}

	newToken, newClaims, err := v.Issue(oldClaims.Subject, oldClaims.SessionID, requestFingerprint, ttl)
	if err != nil {
		return "", nil, err
	}

	v.logger.Info("token rotated",
		zap.String("subject", oldClaims.Subject),
		zap.String("session_id", oldClaims.SessionID),
		zap.String("old_token_id", oldClaims.TokenID),
		zap.String("new_token_id", newClaims.TokenID),
	)
	return newToken, newClaims, nil
}

func (v *Validator) parse(tokenString string) (*sessionClaims, error) {
	if tokenString == "" {
		return nil, domain.ErrMalformedToken
	}

	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidSignature
		}
		return v.signingKey, nil
	})
	if err != nil {
		var vErr *jwt.ValidationError
		if errors.As(err, &vErr) {
			switch {
			case vErr.Errors&jwt.ValidationErrorExpired != 0:
				return nil, domain.ErrTokenExpired
			case vErr.Errors&jwt.ValidationErrorSignatureInvalid != 0:
				return nil, domain.ErrInvalidSignature
			case vErr.Errors&jwt.ValidationErrorMalformed != 0:
				return nil, domain.ErrMalformedToken
			}
		}
		return nil, domain.WrapError(domain.ErrCodeUnauthenticated, "token validation failed", err)
	}
	if !parsed.Valid || claims.Subject == "" || claims.SessionID == "" || claims.ID == "" {
		return nil, domain.ErrMalformedToken
	}
	return &claims, nil
}

func toDomain(claims *sessionClaims) *domain.TokenClaims {
	out := &domain.TokenClaims{
		Subject:         claims.Subject,
		SessionID:       claims.SessionID,
		TokenID:         claims.ID,
		FingerprintHash: claims.FingerprintHash,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out
}
