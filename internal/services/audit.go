package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/medianest/backend/domain"
	"github.com/medianest/backend/internal/infrastructure/spool"
	"github.com/medianest/backend/internal/metrics"
)

// AuditSink receives batches of security events pulled from the spool.
type AuditSink interface {
	Write(ctx context.Context, events []domain.SecurityEvent) error
}

// AuditConfig controls spooling and drain cadence.
type AuditConfig struct {
	QueueSize  int
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
}

// AuditService is the fire-and-forget security event pipeline. Emit never
// blocks: events go through a buffered channel onto the on-disk spool, and a
// scheduled drain forwards batches to the sink. Saturation drops events and
// counts the drops rather than stalling a request.
type AuditService struct {
	store  *spool.Store
	sink   AuditSink
	logger *zap.Logger
	cron   *cron.Cron
	cfg    AuditConfig

	queue    chan domain.SecurityEvent
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func NewAuditService(store *spool.Store, sink AuditSink, logger *zap.Logger, cfg AuditConfig) *AuditService {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &AuditService{
		store:  store,
		sink:   sink,
		logger: logger,
		cfg:    cfg,
		queue:  make(chan domain.SecurityEvent, cfg.QueueSize),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		cron:   cron.New(cron.WithSeconds()),
	}

	schedule := fmt.Sprintf("@every %ds", int(cfg.Interval.Seconds()))
	_, _ = s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Interval)
		defer cancel()
		if err := s.Drain(ctx); err != nil {
			s.logger.Error("audit drain failed", zap.Error(err))
		}
	})

	return s
}

// Emit enqueues the event for spooling. Never blocks.
func (s *AuditService) Emit(event domain.SecurityEvent) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	metrics.SecurityEventsTotal.WithLabelValues(event.Type, string(event.Severity)).Inc()

	select {
	case s.queue <- event:
	default:
		metrics.AuditEventsDroppedTotal.Inc()
		s.logger.Warn("audit queue saturated, event dropped", zap.String("type", event.Type))
	}
}

// Start launches the spool writer and the drain schedule.
func (s *AuditService) Start() {
	go s.spoolLoop()
	s.cron.Start()
}

// Stop flushes the in-memory queue to the spool and halts the drain.
func (s *AuditService) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})

	select {
	case <-s.done:
	case <-ctx.Done():
	}

	cronCtx := s.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}
}

func (s *AuditService) spoolLoop() {
	defer close(s.done)
	for {
		select {
		case event := <-s.queue:
			s.spoolEvent(event)
		case <-s.stopCh:
			// Flush whatever is still queued before exiting.
			for {
				select {
				case event := <-s.queue:
					s.spoolEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (s *AuditService) spoolEvent(event domain.SecurityEvent) {
	if err := s.store.Append(spool.Record{Event: event}); err != nil {
		metrics.AuditEventsDroppedTotal.Inc()
		s.logger.Error("audit spool append failed", zap.String("type", event.Type), zap.Error(err))
		return
	}
	if size, err := s.store.Size(); err == nil {
		metrics.AuditSpoolDepth.Set(float64(size))
	}
}

// Drain forwards one batch of spooled events to the sink. Records that keep
// failing past MaxRetries are dropped so one poisoned record cannot jam the
// pipeline.
func (s *AuditService) Drain(ctx context.Context) error {
	records, err := s.store.Batch(s.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	events := make([]domain.SecurityEvent, 0, len(records))
	for _, record := range records {
		events = append(events, record.Event)
	}

	if err := s.sink.Write(ctx, events); err != nil {
		for _, record := range records {
			if record.Attempts+1 >= s.cfg.MaxRetries {
				s.logger.Error("audit record dropped after repeated delivery failures",
					zap.String("record_id", record.ID),
					zap.String("type", record.Event.Type),
				)
				if removeErr := s.store.Remove(record); removeErr != nil {
					s.logger.Error("audit record removal failed", zap.Error(removeErr))
				}
				continue
			}
			if requeueErr := s.store.Requeue(record); requeueErr != nil {
				s.logger.Error("audit record requeue failed", zap.Error(requeueErr))
			}
		}
		return err
	}

	for _, record := range records {
		if err := s.store.Remove(record); err != nil {
			s.logger.Error("audit record removal failed", zap.Error(err))
		}
	}

	if size, err := s.store.Size(); err == nil {
		metrics.AuditSpoolDepth.Set(float64(size))
	}

	s.logger.Debug("audit batch delivered", zap.Int("count", len(events)))
	return nil
}

// ZapSink writes security events to the structured log. It is the default
// in-process delivery target; an external shipper can replace it without
// touching the pipeline.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("audit")}
}

func (z *ZapSink) Write(_ context.Context, events []domain.SecurityEvent) error {
	for _, event := range events {
		fields := []zap.Field{
			zap.String("type", event.Type),
			zap.String("severity", string(event.Severity)),
			zap.Time("at", event.At),
		}
		if event.Subject != "" {
			fields = append(fields, zap.String("subject", event.Subject))
		}
		if event.SessionID != "" {
			fields = append(fields, zap.String("session_id", event.SessionID))
		}
		if event.TokenID != "" {
			fields = append(fields, zap.String("token_id", event.TokenID))
		}
		if event.RemoteAddr != "" {
			fields = append(fields, zap.String("remote_addr", event.RemoteAddr))
		}
		if event.Detail != "" {
			fields = append(fields, zap.String("detail", event.Detail))
		}

		switch event.Severity {
		case domain.SeverityCritical, domain.SeverityHigh:
			z.logger.Warn("security event", fields...)
		default:
			z.logger.Info("security event", fields...)
		}
	}
	return nil
}
