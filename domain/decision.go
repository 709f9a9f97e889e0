package domain

import "time"

// Decision is a memoized authentication outcome cached per
// (subject, session, requester context). The fingerprint hash of the creating
// context is part of the value; a lookup under a different context must be
// treated as a miss, never as a hit.
type Decision struct {
	Subject         string    `json:"subject"`
	SessionID       string    `json:"session_id"`
	Role            string    `json:"role"`
	Permissions     []string  `json:"permissions,omitempty"`
	FingerprintHash string    `json:"fingerprint_hash"`
	ValidUntil      time.Time `json:"valid_until"`
}

func (d *Decision) IsExpired(reference time.Time) bool {
	if d == nil {
		return true
	}
	if reference.IsZero() {
		reference = time.Now()
	}
	return !d.ValidUntil.After(reference)
}

// MatchesContext reports whether the decision was computed under the given
// requester context.
func (d *Decision) MatchesContext(fingerprintHash string) bool {
	return d != nil && d.FingerprintHash == fingerprintHash
}
