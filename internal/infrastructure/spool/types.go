package spool

import (
	"time"

	"github.com/google/uuid"

	"github.com/medianest/backend/domain"
)

// Record wraps a security event while it waits on disk for delivery.
type Record struct {
	ID        string               `json:"id"`
	Event     domain.SecurityEvent `json:"event"`
	Attempts  int                  `json:"attempts"`
	SpooledAt time.Time            `json:"spooled_at"`

	bucketKey []byte
}

func (r *Record) normalize() {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.SpooledAt.IsZero() {
		r.SpooledAt = time.Now()
	}
}
