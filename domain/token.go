package domain

import "time"

// TokenClaims carries the verified content of a session token. The
// fingerprint is never stored raw: only its keyed hash travels inside the
// token, binding the token to the context it was issued under.
type TokenClaims struct {
	Subject         string    `json:"sub"`
	SessionID       string    `json:"sid"`
	TokenID         string    `json:"jti"`
	IssuedAt        time.Time `json:"iat"`
	ExpiresAt       time.Time `json:"exp"`
	FingerprintHash string    `json:"fph"`
}

func (c *TokenClaims) IsExpired(reference time.Time) bool {
	if c == nil {
		return true
	}
	if reference.IsZero() {
		reference = time.Now()
	}
	return !c.ExpiresAt.After(reference)
}

// Remaining returns the token lifetime left at the reference instant.
func (c *TokenClaims) Remaining(reference time.Time) time.Duration {
	if c == nil {
		return 0
	}
	if reference.IsZero() {
		reference = time.Now()
	}
	if !c.ExpiresAt.After(reference) {
		return 0
	}
	return c.ExpiresAt.Sub(reference)
}

// Revocation reasons. The reason decides how a later presentation of the
// revoked token id is classified: a rotated-out id coming back is a replay,
// not an ordinary logout.
const (
	RevocationReasonLogout  = "logout"
	RevocationReasonRotated = "rotated"
	RevocationReasonForced  = "forced"
)

// RevocationEntry records an invalidated token id in the registry.
type RevocationEntry struct {
	TokenID   string    `json:"token_id"`
	Reason    string    `json:"reason"`
	RevokedAt time.Time `json:"revoked_at"`
}

// IsReplay reports whether a presentation of this revoked id must be treated
// as a replay of a rotated-out token.
func (e *RevocationEntry) IsReplay() bool {
	return e != nil && e.Reason == RevocationReasonRotated
}
