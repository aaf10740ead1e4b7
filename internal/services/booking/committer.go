package booking

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/WeighBox/internal/models"
	"github.com/BearBump/WeighBox/internal/storage/pgbooking"
	"github.com/pkg/errors"
)

const (
	DefaultMaxAttempts      = 6
	DefaultJitterMin        = 120 * time.Millisecond
	DefaultJitterMax        = 320 * time.Millisecond
	DefaultStoreCallTimeout = 5 * time.Second
)

// Booking states, logged on every transition.
const (
	stateValidating           = "Validating"
	stateGeneratingIdentifier = "GeneratingIdentifier"
	stateInserting            = "Inserting"
	stateCollisionRetry       = "CollisionRetry"
	stateChildInsertFailed    = "ChildInsertFailed"
	stateCompensating         = "Compensating"
	stateFailed               = "Failed"
	stateDone                 = "Done"
)

// Committer turns a booking payload into an appointment row plus its T1
// records. The two inserts are separate statements; when the second fails the
// first is undone with a compensating delete. This is not crash safe: a
// process dying in between leaves a parent without children, which the
// sweeper removes later.
type Committer struct {
	repo      Repository
	gen       *Generator
	probe     *Probe
	validator *Validator

	maxAttempts int
	jitterMin   time.Duration
	jitterMax   time.Duration
	callTimeout time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu sync.Mutex
	r  Rand
}

func NewCommitter(repo Repository, gen *Generator, probe *Probe, validator *Validator) *Committer {
	return &Committer{
		repo:        repo,
		gen:         gen,
		probe:       probe,
		validator:   validator,
		maxAttempts: DefaultMaxAttempts,
		jitterMin:   DefaultJitterMin,
		jitterMax:   DefaultJitterMax,
		callTimeout: DefaultStoreCallTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		sleep:       sleepCtx,
		r:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *Committer) WithRetry(maxAttempts int, jitterMin, jitterMax time.Duration) *Committer {
	if maxAttempts > 0 {
		c.maxAttempts = maxAttempts
	}
	if jitterMin >= 0 {
		c.jitterMin = jitterMin
	}
	if jitterMax >= c.jitterMin {
		c.jitterMax = jitterMax
	}
	return c
}

func (c *Committer) WithCallTimeout(d time.Duration) *Committer {
	if d > 0 {
		c.callTimeout = d
	}
	return c
}

// Commit validates in and writes it. On success exactly one appointment and
// all of its T1 records exist.
func (c *Committer) Commit(ctx context.Context, in models.BookingInput) (*models.Appointment, error) {
	log := slog.With("agent_tin", in.AgentTIN, "pickup_date", models.PickupDay(in.PickupDate).Format(time.DateOnly))

	c.transition(log, stateValidating)
	if err := ValidatePayload(in); err != nil {
		c.transition(log, stateFailed, "error", err.Error())
		return nil, err
	}
	if c.validator != nil {
		if err := c.validator.Validate(ctx, sadNosOf(in.T1s)); err != nil {
			c.transition(log, stateFailed, "error", err.Error())
			return nil, err
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.jitter()); err != nil {
				return nil, err
			}
		}

		c.transition(log, stateGeneratingIdentifier, "attempt", attempt)
		pair, err := c.candidate(ctx, in, attempt)
		if errors.Is(err, ErrIdentifierCollision) {
			lastErr = err
			c.transition(log, stateCollisionRetry, "attempt", attempt, "source", "probe")
			continue
		}
		if err != nil {
			c.transition(log, stateFailed, "error", err.Error())
			return nil, err
		}

		a := newAppointment(in, pair)
		c.transition(log, stateInserting, "attempt", attempt, "appointment_number", pair.AppointmentNumber)
		err = c.insertParent(ctx, a)
		switch {
		case err == nil:
		case errors.Is(err, ErrIdentifierCollision):
			lastErr = err
			c.transition(log, stateCollisionRetry, "attempt", attempt, "source", "insert")
			continue
		case isRetryableTimeout(ctx, err):
			lastErr = err
			log.Warn("appointment insert timed out, retrying", "attempt", attempt, "error", err.Error())
			continue
		default:
			c.transition(log, stateFailed, "error", err.Error())
			return nil, err
		}

		if err := c.insertChildren(ctx, a); err != nil {
			c.transition(log, stateChildInsertFailed, "appointment_id", a.ID, "error", err.Error())
			failure := &ChildWriteFailedError{
				AppointmentID:     a.ID,
				AppointmentNumber: a.AppointmentNumber,
				WeighbridgeNumber: a.WeighbridgeNumber,
				Err:               err,
			}
			c.transition(log, stateCompensating, "appointment_id", a.ID)
			failure.CompensationErr = c.compensate(ctx, a.ID)
			if failure.CompensationErr != nil {
				log.Error("compensating delete failed, orphan left for sweeper",
					"appointment_id", a.ID, "error", failure.CompensationErr.Error())
			}
			c.transition(log, stateFailed, "error", failure.Error())
			return nil, failure
		}

		c.transition(log, stateDone, "appointment_id", a.ID, "appointment_number", a.AppointmentNumber, "attempts", attempt+1)
		return a, nil
	}

	// an outage that outlasted every attempt is not a collision
	var te *TransientStoreError
	if errors.As(lastErr, &te) {
		log.Warn("store unavailable on every attempt", "attempts", c.maxAttempts, "last_error", lastErr.Error())
		c.transition(log, stateFailed, "error", lastErr.Error())
		return nil, errors.WithMessagef(lastErr, "after %d attempts", c.maxAttempts)
	}

	log.Warn("identifier attempts exhausted", "attempts", c.maxAttempts, "last_error", errString(lastErr))
	c.transition(log, stateFailed, "error", ErrIdentifierExhaustion.Error())
	return nil, errors.WithMessagef(ErrIdentifierExhaustion, "after %d attempts", c.maxAttempts)
}

// candidate returns the pair to insert on this attempt. A probe that cannot
// reach the store degrades to a timestamp pair used without verification.
func (c *Committer) candidate(ctx context.Context, in models.BookingInput, attempt int) (models.IdentifierPair, error) {
	if attempt == 0 && in.Preview != nil && !in.Preview.IsZero() {
		return *in.Preview, nil
	}

	gctx, cancel := withCallTimeout(ctx, c.callTimeout)
	pair, err := c.gen.Generate(gctx, in.PickupDate, attempt)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return models.IdentifierPair{}, ctx.Err()
		}
		slog.Warn("sequence estimate failed, using timestamp identifiers", "error", err.Error())
		return TimestampFallback(in.PickupDate, c.now()), nil
	}

	ok, err := c.probe.Available(ctx, pair)
	if err != nil {
		if ctx.Err() != nil {
			return models.IdentifierPair{}, ctx.Err()
		}
		slog.Warn("uniqueness probe failed, using timestamp identifiers", "error", err.Error())
		return TimestampFallback(in.PickupDate, c.now()), nil
	}
	if !ok {
		return models.IdentifierPair{}, ErrIdentifierCollision
	}
	return pair, nil
}

func (c *Committer) insertParent(ctx context.Context, a *models.Appointment) error {
	cctx, cancel := withCallTimeout(ctx, c.callTimeout)
	defer cancel()

	err := c.repo.InsertAppointment(cctx, a)
	switch {
	case err == nil:
		return nil
	case pgbooking.IsUniqueViolation(err):
		return errors.Wrap(ErrIdentifierCollision, err.Error())
	case pgbooking.IsTransient(err):
		return &TransientStoreError{Op: "insert appointment", Err: err}
	default:
		return errors.Wrap(err, "insert appointment")
	}
}

func (c *Committer) insertChildren(ctx context.Context, a *models.Appointment) error {
	cctx, cancel := withCallTimeout(ctx, c.callTimeout)
	defer cancel()

	if err := c.repo.InsertT1Records(cctx, a.ID, a.T1s); err != nil {
		return err
	}
	return nil
}

// compensate runs even when ctx is already cancelled; leaving the parent
// behind is worse than finishing one more round trip.
func (c *Committer) compensate(ctx context.Context, appointmentID uint64) error {
	cctx, cancel := withCallTimeout(context.WithoutCancel(ctx), c.callTimeout)
	defer cancel()
	return c.repo.DeleteAppointment(cctx, appointmentID)
}

func (c *Committer) jitter() time.Duration {
	span := c.jitterMax - c.jitterMin
	if span <= 0 {
		return c.jitterMin
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jitterMin + time.Duration(c.r.Intn(int(span)+1))
}

func (c *Committer) transition(log *slog.Logger, state string, args ...any) {
	log.Debug("booking state", append([]any{"state", state}, args...)...)
}

func newAppointment(in models.BookingInput, pair models.IdentifierPair) *models.Appointment {
	a := &models.Appointment{
		AppointmentNumber: pair.AppointmentNumber,
		WeighbridgeNumber: pair.WeighbridgeNumber,
		AgentTIN:          strings.TrimSpace(in.AgentTIN),
		AgentName:         strings.TrimSpace(in.AgentName),
		WarehouseLocation: strings.TrimSpace(in.WarehouseLocation),
		PickupDate:        models.PickupDay(in.PickupDate),
		Consolidated:      in.Consolidated,
		TruckNumber:       strings.TrimSpace(in.TruckNumber),
		DriverName:        strings.TrimSpace(in.DriverName),
		DriverLicenseNo:   strings.TrimSpace(in.DriverLicenseNo),
		TotalT1s:          len(in.T1s),
		Status:            models.AppointmentStatusPosted,
		CreatedBy:         in.CreatedBy,
	}
	for _, t := range in.T1s {
		r := &models.T1Record{
			SADNo:       strings.TrimSpace(t.SADNo),
			PackingType: t.PackingType,
		}
		if t.PackingType == models.PackingTypeContainer {
			no := strings.TrimSpace(t.ContainerNo)
			r.ContainerNo = &no
		}
		a.T1s = append(a.T1s, r)
	}
	return a
}

// isRetryableTimeout reports whether err is a per-call timeout while the
// caller's own context is still alive.
func isRetryableTimeout(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var te *TransientStoreError
	return errors.As(err, &te) && te.Timeout()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
