package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medianest/backend/domain"
	"github.com/medianest/backend/internal/infrastructure/spool"
)

type captureSink struct {
	mu     sync.Mutex
	events []domain.SecurityEvent
	err    error
}

func (c *captureSink) Write(_ context.Context, events []domain.SecurityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, events...)
	return nil
}

func (c *captureSink) delivered() []domain.SecurityEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.SecurityEvent(nil), c.events...)
}

func newTestSpool(t *testing.T) *spool.Store {
	t.Helper()
	store, err := spool.Open(filepath.Join(t.TempDir(), "audit.db"), "audit")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testEvent(eventType string) domain.SecurityEvent {
	return domain.SecurityEvent{
		Type:     eventType,
		Severity: domain.SeverityHigh,
		Subject:  "user-1",
		At:       time.Now(),
	}
}

func TestAuditPipelineDeliversSpooledEvents(t *testing.T) {
	store := newTestSpool(t)
	sink := &captureSink{}
	svc := NewAuditService(store, sink, nil, AuditConfig{Interval: time.Hour})

	svc.Start()
	svc.Emit(testEvent(domain.EventReplayDetected))
	svc.Emit(testEvent(domain.EventFingerprintMismatch))

	// Stop flushes the in-memory queue onto the spool.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svc.Stop(ctx)

	size, err := store.Size()
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	require.NoError(t, svc.Drain(context.Background()))

	delivered := sink.delivered()
	require.Len(t, delivered, 2)
	types := []string{delivered[0].Type, delivered[1].Type}
	assert.ElementsMatch(t, []string{domain.EventReplayDetected, domain.EventFingerprintMismatch}, types)

	size, err = store.Size()
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestAuditDrainRequeuesOnSinkFailure(t *testing.T) {
	store := newTestSpool(t)
	sink := &captureSink{err: errors.New("sink down")}
	svc := NewAuditService(store, sink, nil, AuditConfig{Interval: time.Hour, MaxRetries: 5})

	require.NoError(t, store.Append(spool.Record{Event: testEvent(domain.EventTokenRevoked)}))

	require.Error(t, svc.Drain(context.Background()))

	// The record survived the failed delivery with its attempt recorded.
	records, err := store.Batch(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].Attempts)

	sink.err = nil
	require.NoError(t, svc.Drain(context.Background()))
	assert.Len(t, sink.delivered(), 1)
}

func TestAuditDrainDropsPoisonRecords(t *testing.T) {
	store := newTestSpool(t)
	sink := &captureSink{err: errors.New("sink down")}
	svc := NewAuditService(store, sink, nil, AuditConfig{Interval: time.Hour, MaxRetries: 2})

	require.NoError(t, store.Append(spool.Record{Event: testEvent(domain.EventTokenRevoked)}))

	for i := 0; i < 2; i++ {
		require.Error(t, svc.Drain(context.Background()))
	}

	size, err := store.Size()
	require.NoError(t, err)
	assert.Equal(t, 0, size, "record past MaxRetries must be dropped")
}

func TestAuditEmitNeverBlocksWhenSaturated(t *testing.T) {
	store := newTestSpool(t)
	sink := &captureSink{}
	svc := NewAuditService(store, sink, nil, AuditConfig{QueueSize: 1, Interval: time.Hour})

	// Without the spool loop running, the queue fills after one event.
	// Further emits must return immediately instead of blocking.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			svc.Emit(testEvent(domain.EventRateLimitExceeded))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a saturated queue")
	}
}
