package usecase

import "github.com/medianest/backend/domain"

// SecurityEventSink abstracts the audit pipeline so use cases stay
// delivery-agnostic. Emit is fire-and-forget: implementations must return
// immediately and never block the request path.
type SecurityEventSink interface {
	Emit(event domain.SecurityEvent)
}

// NopSink discards events. Useful default for tests.
type NopSink struct{}

func (NopSink) Emit(domain.SecurityEvent) {}
