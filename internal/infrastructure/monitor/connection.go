package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/medianest/backend/internal/infrastructure/spool"
	"github.com/medianest/backend/internal/metrics"
)

// degradedAfter is how many consecutive failed shared-store checks flip the
// explicit degraded-mode signal. One blip should not page anyone; sustained
// unavailability means every request is paying for full validation and the
// revocation check is failing closed.
const degradedAfter = 3

type Monitor struct {
	pg    *pgxpool.Pool
	redis *redislib.Client
	spool *spool.Store

	status        Status
	redisFailures int
	mu            sync.RWMutex
	interval      time.Duration
	stopCh        chan struct{}
	logger        *zap.Logger
}

func New(pg *pgxpool.Pool, redis *redislib.Client, sp *spool.Store, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		pg:       pg,
		redis:    redis,
		spool:    sp,
		interval: interval,
		stopCh:   make(chan struct{}),
		logger:   logger,
	}
}

func (m *Monitor) Start() {
	go m.loop()
}

func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.PostgreSQL && m.status.Redis
}

// IsDegraded reports whether the shared store has been unreachable long
// enough that the auth core is running without its cache and rejecting on
// every revocation check.
func (m *Monitor) IsDegraded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Degraded
}

func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.refresh()
	for {
		select {
		case <-ticker.C:
			m.refresh()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) refresh() {
	spoolOK, spoolSize := m.checkSpool()
	redisOK := m.checkRedis()

	m.mu.Lock()
	if redisOK {
		m.redisFailures = 0
	} else {
		m.redisFailures++
	}
	degraded := m.redisFailures >= degradedAfter
	wasDegraded := m.status.Degraded

	m.status = Status{
		PostgreSQL: m.checkPostgres(),
		Redis:      redisOK,
		Spool:      spoolOK,
		SpoolSize:  spoolSize,
		Degraded:   degraded,
		LastCheck:  time.Now(),
	}
	m.mu.Unlock()

	if degraded {
		metrics.DegradedMode.Set(1)
	} else {
		metrics.DegradedMode.Set(0)
	}
	if degraded && !wasDegraded {
		m.logger.Error("shared store unreachable, auth core degraded")
	}
	if !degraded && wasDegraded {
		m.logger.Info("shared store recovered, auth core healthy")
	}
}

func (m *Monitor) checkPostgres() bool {
	if m.pg == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return m.pg.Ping(ctx) == nil
}

func (m *Monitor) checkRedis() bool {
	if m.redis == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return m.redis.Ping(ctx).Err() == nil
}

func (m *Monitor) checkSpool() (bool, int) {
	if m.spool == nil {
		return false, 0
	}
	size, err := m.spool.Size()
	if err != nil {
		m.logger.Warn("spool size check failed", zap.Error(err))
		return false, size
	}
	return true, size
}
