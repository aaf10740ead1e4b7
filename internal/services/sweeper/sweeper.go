package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/WeighBox/internal/broker/messages"
	"github.com/BearBump/WeighBox/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Repository interface {
	ListOrphanAppointments(ctx context.Context, olderThan time.Time, limit int) ([]*models.Appointment, error)
	DeleteOrphanAppointment(ctx context.Context, id uint64) (bool, error)
}

type Producer interface {
	PublishJSON(ctx context.Context, topic, key string, v any) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

const cycleGateKey = "sweeper:orphans:cycle"

// Sweeper removes appointments that were committed without any T1 records.
// They are left behind when the process dies between the two inserts, when a
// compensating delete fails, or when an insert reported a timeout but did
// commit. The grace period keeps it away from bookings still in flight.
type Sweeper struct {
	repo     Repository
	producer Producer
	gate     RateLimiter
	topic    string

	interval    time.Duration
	grace       time.Duration
	batchSize   int
	concurrency int

	now func() time.Time

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalFound          atomic.Int64
	totalDeleted        atomic.Int64
	totalSkipped        atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, producer Producer, topic string) *Sweeper {
	return &Sweeper{
		repo:              repo,
		producer:          producer,
		topic:             topic,
		interval:          time.Minute,
		grace:             5 * time.Minute,
		batchSize:         100,
		concurrency:       4,
		now:               func() time.Time { return time.Now().UTC() },
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Sweeper) WithSettings(interval, grace time.Duration, batchSize, concurrency int) *Sweeper {
	if interval > 0 {
		s.interval = interval
	}
	if grace > 0 {
		s.grace = grace
	}
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	if concurrency > 0 {
		s.concurrency = concurrency
	}
	return s
}

// WithCycleGate lets only one worker replica run a scheduled cycle per
// interval. Triggered cycles are not gated.
func (s *Sweeper) WithCycleGate(rl RateLimiter) *Sweeper {
	s.gate = rl
	return s
}

// Trigger forces an immediate sweep (best-effort, non-blocking).
func (s *Sweeper) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastCycleAt   *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	TotalFound    int64      `json:"totalFound"`
	TotalDeleted  int64      `json:"totalDeleted"`
	TotalSkipped  int64      `json:"totalSkipped"`
	TotalErrors   int64      `json:"totalErrors"`
	InFlight      int64      `json:"inFlight"`
	LastError     string     `json:"lastError,omitempty"`
}

func (s *Sweeper) Stats() Stats {
	st := Stats{
		StartedAt:    time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalFound:   s.totalFound.Load(),
		TotalDeleted: s.totalDeleted.Load(),
		TotalSkipped: s.totalSkipped.Load(),
		TotalErrors:  s.totalErrors.Load(),
		InFlight:     s.inFlight.Load(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if s.cycleAllowed(ctx) {
				s.runOnce(ctx)
			}
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) cycleAllowed(ctx context.Context) bool {
	if s.gate == nil {
		return true
	}
	allowed, _, err := s.gate.Allow(ctx, cycleGateKey, 1, s.interval)
	if err != nil {
		// without redis every replica sweeps; deletes are idempotent
		slog.Warn("sweeper cycle gate unavailable", "error", err.Error())
		return true
	}
	if !allowed {
		slog.Debug("sweeper cycle taken by another replica")
	}
	return allowed
}

func (s *Sweeper) runOnce(ctx context.Context) {
	now := s.now()
	s.lastCycleUnixNano.Store(now.UnixNano())

	items, err := s.repo.ListOrphanAppointments(ctx, now.Add(-s.grace), s.batchSize)
	if err != nil {
		slog.Error("list orphan appointments", "error", err.Error())
		s.setLastError(err)
		return
	}
	s.totalFound.Add(int64(len(items)))
	if len(items) > 0 {
		slog.Info("orphan appointments found", "count", len(items))
	}

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for _, a := range items {
		sem <- struct{}{}
		wg.Add(1)
		s.inFlight.Add(1)
		go func() {
			defer func() {
				s.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := s.sweepOne(ctx, a); err != nil {
				s.totalErrors.Add(1)
				s.setLastError(err)
				slog.Error("sweep orphan appointment", "appointment_id", a.ID, "error", err.Error())
			}
		}()
	}
	wg.Wait()
}

func (s *Sweeper) sweepOne(ctx context.Context, a *models.Appointment) error {
	deleted, err := s.repo.DeleteOrphanAppointment(ctx, a.ID)
	if err != nil {
		return errors.Wrapf(err, "delete orphan %d", a.ID)
	}
	if !deleted {
		// T1 records showed up or someone else removed it first
		s.totalSkipped.Add(1)
		return nil
	}
	s.totalDeleted.Add(1)
	slog.Info("orphan appointment removed",
		"appointment_id", a.ID,
		"appointment_number", a.AppointmentNumber,
		"weighbridge_number", a.WeighbridgeNumber)

	if s.producer == nil || s.topic == "" {
		return nil
	}
	msg := messages.AppointmentCompensated{
		EventID:           uuid.New(),
		AppointmentID:     a.ID,
		AppointmentNumber: a.AppointmentNumber,
		WeighbridgeNumber: a.WeighbridgeNumber,
		Reason:            "orphan sweep",
		CompensatedAt:     s.now(),
	}
	var pubErr error
	for i := 0; i < 3; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(150*i) * time.Millisecond):
			}
		}
		if pubErr = s.producer.PublishJSON(ctx, s.topic, a.AppointmentNumber, msg); pubErr == nil {
			return nil
		}
	}
	return errors.Wrap(pubErr, "publish compensation event")
}

func (s *Sweeper) setLastError(err error) {
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}
