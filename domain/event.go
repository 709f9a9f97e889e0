package domain

import "time"

// Severity classifies security events for the audit sink.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Security event types emitted by the request guard.
const (
	EventCacheContextMismatch = "cache_context_mismatch"
	EventFingerprintMismatch  = "fingerprint_mismatch"
	EventReplayDetected       = "replay_detected"
	EventRateLimitExceeded    = "rate_limit_exceeded"
	EventTokenRevoked         = "token_revoked"
	EventSessionsPurged       = "sessions_purged"
	EventLoginFailed          = "login_failed"
)

// SecurityEvent is the structured record delivered to the audit sink.
// Delivery is fire-and-forget and must never block the request path.
type SecurityEvent struct {
	Type       string    `json:"type"`
	Severity   Severity  `json:"severity"`
	Subject    string    `json:"subject,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	TokenID    string    `json:"token_id,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}
