package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/WeighBox/internal/broker/messages"
	"github.com/BearBump/WeighBox/internal/cache"
	"github.com/BearBump/WeighBox/internal/integrations/sadregistry"
	"github.com/BearBump/WeighBox/internal/models"
	"github.com/BearBump/WeighBox/internal/storage/pgbooking"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Repository interface {
	CountAppointmentsForDate(ctx context.Context, pickupDate time.Time) (int, error)
	CountByAppointmentNumber(ctx context.Context, number string) (int, error)
	CountByWeighbridgeNumber(ctx context.Context, number string) (int, error)
	InsertAppointment(ctx context.Context, a *models.Appointment) error
	InsertT1Records(ctx context.Context, appointmentID uint64, items []*models.T1Record) error
	DeleteAppointment(ctx context.Context, id uint64) error
	DeleteAppointmentIfNotCompleted(ctx context.Context, id uint64) (bool, error)
	UpdateAppointmentStatus(ctx context.Context, id uint64, from, to string) (bool, error)
	GetAppointmentByNumber(ctx context.Context, number string) (*models.Appointment, error)
	UpsertSAD(ctx context.Context, sad models.SADDeclaration) error
}

type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v any) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Service struct {
	repo      Repository
	gen       *Generator
	probe     *Probe
	committer *Committer

	cache    cache.BytesCache
	cacheTTL time.Duration

	publisher        Publisher
	bookedTopic      string
	compensatedTopic string

	rl       RateLimiter
	rlLimit  int64
	rlWindow time.Duration

	admins map[uuid.UUID]struct{}
}

func New(repo Repository, registry sadregistry.Client, c cache.BytesCache, cacheTTL time.Duration) *Service {
	gen := NewGenerator(NewCountSequence(repo), nil)
	probe := NewProbe(repo, DefaultStoreCallTimeout)
	validator := NewValidator(registry, DefaultStoreCallTimeout)
	return &Service{
		repo:      repo,
		gen:       gen,
		probe:     probe,
		committer: NewCommitter(repo, gen, probe, validator),
		cache:     c,
		cacheTTL:  cacheTTL,
		admins:    map[uuid.UUID]struct{}{},
	}
}

// WithSequence swaps the sequence source used for new identifiers.
func (s *Service) WithSequence(seq SequenceSource) *Service {
	s.gen.seq = seq
	return s
}

func (s *Service) WithCommitSettings(maxAttempts int, jitterMin, jitterMax, callTimeout time.Duration) *Service {
	s.committer.WithRetry(maxAttempts, jitterMin, jitterMax).WithCallTimeout(callTimeout)
	if callTimeout > 0 {
		s.probe.timeout = callTimeout
		s.committer.validator.timeout = callTimeout
	}
	return s
}

func (s *Service) WithPublisher(p Publisher, bookedTopic, compensatedTopic string) *Service {
	s.publisher = p
	s.bookedTopic = bookedTopic
	s.compensatedTopic = compensatedTopic
	return s
}

func (s *Service) WithRateLimit(rl RateLimiter, limit int64, window time.Duration) *Service {
	s.rl = rl
	s.rlLimit = limit
	s.rlWindow = window
	return s
}

// WithAdmins lists actors allowed to delete appointments they did not create.
func (s *Service) WithAdmins(ids ...uuid.UUID) *Service {
	for _, id := range ids {
		s.admins[id] = struct{}{}
	}
	return s
}

// PreviewIdentifiers proposes the pair a booking for pickupDate would get.
// Nothing is reserved; the pair may be handed back in BookingInput.Preview.
func (s *Service) PreviewIdentifiers(ctx context.Context, pickupDate time.Time) (models.IdentifierPair, error) {
	if pickupDate.IsZero() {
		return models.IdentifierPair{}, invalid("pickupDate is required")
	}
	in := models.BookingInput{PickupDate: pickupDate}
	for attempt := 0; attempt < s.committer.maxAttempts; attempt++ {
		pair, err := s.committer.candidate(ctx, in, attempt)
		if errors.Is(err, ErrIdentifierCollision) {
			continue
		}
		return pair, err
	}
	return models.IdentifierPair{}, ErrIdentifierExhaustion
}

func (s *Service) Book(ctx context.Context, in models.BookingInput) (*models.Appointment, error) {
	if err := s.allow(ctx, in.CreatedBy); err != nil {
		return nil, err
	}

	a, err := s.committer.Commit(ctx, in)
	if err != nil {
		var childErr *ChildWriteFailedError
		if errors.As(err, &childErr) && childErr.Compensated() {
			s.publish(ctx, s.compensatedTopic, childErr.AppointmentNumber, messages.AppointmentCompensated{
				EventID:           uuid.New(),
				AppointmentID:     childErr.AppointmentID,
				AppointmentNumber: childErr.AppointmentNumber,
				WeighbridgeNumber: childErr.WeighbridgeNumber,
				Reason:            "t1 write failed",
				CompensatedAt:     time.Now().UTC(),
			})
		}
		return nil, err
	}

	sadNos := make([]string, 0, len(a.T1s))
	for _, t := range a.T1s {
		sadNos = append(sadNos, t.SADNo)
	}
	s.publish(ctx, s.bookedTopic, a.AppointmentNumber, messages.AppointmentBooked{
		EventID:           uuid.New(),
		AppointmentID:     a.ID,
		AppointmentNumber: a.AppointmentNumber,
		WeighbridgeNumber: a.WeighbridgeNumber,
		AgentTIN:          a.AgentTIN,
		PickupDate:        a.PickupDate.Format(time.DateOnly),
		TotalT1s:          a.TotalT1s,
		SADNos:            sadNos,
		CreatedBy:         a.CreatedBy,
		BookedAt:          a.CreatedAt,
	})

	slog.Info("appointment booked",
		"appointment_id", a.ID,
		"appointment_number", a.AppointmentNumber,
		"weighbridge_number", a.WeighbridgeNumber,
		"total_t1s", a.TotalT1s)
	return a, nil
}

func (s *Service) GetAppointment(ctx context.Context, number string) (*models.Appointment, error) {
	if number == "" {
		return nil, invalid("appointmentNumber is required")
	}

	if s.cacheEnabled() {
		b, ok, err := s.cache.Get(ctx, appointmentKey(number))
		if err == nil && ok {
			var a models.Appointment
			if json.Unmarshal(b, &a) == nil {
				return &a, nil
			}
		}
	}

	a, err := s.repo.GetAppointmentByNumber(ctx, number)
	if errors.Is(err, pgbooking.ErrNotFound) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}
	s.cacheAppointment(ctx, a)
	return a, nil
}

// CompleteAppointment moves a Posted appointment to Completed. Completing an
// already completed appointment is a no-op.
func (s *Service) CompleteAppointment(ctx context.Context, number string) (*models.Appointment, error) {
	a, err := s.load(ctx, number)
	if err != nil {
		return nil, err
	}
	if a.Status == models.AppointmentStatusCompleted {
		return a, nil
	}

	ok, err := s.repo.UpdateAppointmentStatus(ctx, a.ID, models.AppointmentStatusPosted, models.AppointmentStatusCompleted)
	if err != nil {
		return nil, err
	}
	if !ok {
		// someone else moved it first; report what is stored now
		a, err = s.load(ctx, number)
		if err != nil {
			return nil, err
		}
		s.cacheAppointment(ctx, a)
		return a, nil
	}
	a.Status = models.AppointmentStatusCompleted
	a.UpdatedAt = time.Now().UTC()
	s.cacheAppointment(ctx, a)
	return a, nil
}

// ReopenAppointment exists so callers get a definite answer: a completed
// appointment can never go back to Posted.
func (s *Service) ReopenAppointment(ctx context.Context, number string) (*models.Appointment, error) {
	a, err := s.load(ctx, number)
	if err != nil {
		return nil, err
	}
	if a.Status == models.AppointmentStatusCompleted {
		return nil, ErrAppointmentCompleted
	}
	return a, nil
}

// DeleteAppointment removes a not yet completed appointment. Only its creator
// or an admin may do so.
func (s *Service) DeleteAppointment(ctx context.Context, number string, actor uuid.UUID) error {
	if actor == uuid.Nil {
		return ErrForbidden
	}
	a, err := s.load(ctx, number)
	if err != nil {
		return err
	}
	if _, admin := s.admins[actor]; !admin && a.CreatedBy != actor {
		return ErrForbidden
	}
	if a.Status == models.AppointmentStatusCompleted {
		return ErrAppointmentCompleted
	}

	deleted, err := s.repo.DeleteAppointmentIfNotCompleted(ctx, a.ID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrAppointmentCompleted
	}
	slog.Info("appointment deleted", "appointment_id", a.ID, "appointment_number", number, "actor", actor.String())
	return nil
}

// RegisterSAD records a declaration announced by the customs registry.
func (s *Service) RegisterSAD(ctx context.Context, msg messages.SADRegistered) error {
	if msg.SADNo == "" {
		return errors.New("sad_no is required")
	}
	return s.repo.UpsertSAD(ctx, models.SADDeclaration{SADNo: msg.SADNo, RegisteredAt: msg.RegisteredAt})
}

func (s *Service) load(ctx context.Context, number string) (*models.Appointment, error) {
	if number == "" {
		return nil, invalid("appointmentNumber is required")
	}
	a, err := s.repo.GetAppointmentByNumber(ctx, number)
	if errors.Is(err, pgbooking.ErrNotFound) {
		return nil, ErrAppointmentNotFound
	}
	return a, err
}

func (s *Service) allow(ctx context.Context, actor uuid.UUID) error {
	if s.rl == nil || s.rlLimit <= 0 {
		return nil
	}
	window := s.rlWindow
	if window <= 0 {
		window = time.Minute
	}
	key := fmt.Sprintf("rl:booking:%s", actor.String())
	allowed, n, err := s.rl.Allow(ctx, key, s.rlLimit, window)
	if err != nil {
		// the limiter is advisory; bookings go through when redis is down
		slog.Warn("booking rate limiter unavailable", "error", err.Error())
		return nil
	}
	if !allowed {
		slog.Warn("booking rate limit exceeded", "actor", actor.String(), "count", n)
		return ErrRateLimited
	}
	return nil
}

func (s *Service) publish(ctx context.Context, topic, key string, v any) {
	if s.publisher == nil || topic == "" {
		return
	}
	if err := s.publisher.PublishJSON(ctx, topic, key, v); err != nil {
		slog.Error("publish event", "topic", topic, "key", key, "error", err.Error())
	}
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.cacheTTL > 0
}

// cacheAppointment stores only completed appointments. Those can no longer
// be reopened or deleted, so a cached copy never goes stale; posted ones are
// always read from the store.
func (s *Service) cacheAppointment(ctx context.Context, a *models.Appointment) {
	if !s.cacheEnabled() || a == nil || a.Status != models.AppointmentStatusCompleted {
		return
	}
	b, _ := json.Marshal(a)
	_ = s.cache.Set(ctx, appointmentKey(a.AppointmentNumber), b, s.cacheTTL)
}

func appointmentKey(number string) string {
	return fmt.Sprintf("appointment:%s", number)
}
