package booking

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/BearBump/WeighBox/internal/models"
)

type Rand interface {
	Intn(n int) int
}

// SequenceSource yields the sequence number used for the next appointment of
// a pickup day.
type SequenceSource interface {
	Next(ctx context.Context, day time.Time) (int, error)
}

// Reserver atomically reserves sequence numbers per day. seed supplies the
// starting value the first time a day is seen.
type Reserver interface {
	Next(ctx context.Context, day time.Time, seed func(ctx context.Context) (int, error)) (int, error)
}

type countSequence struct {
	repo Repository
}

// NewCountSequence estimates the sequence as the number of appointments
// already stored for the day plus one. Concurrent callers can get the same
// value; the unique indexes sort that out.
func NewCountSequence(repo Repository) SequenceSource {
	return countSequence{repo: repo}
}

func (s countSequence) Next(ctx context.Context, day time.Time) (int, error) {
	n, err := s.repo.CountAppointmentsForDate(ctx, day)
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

type reservedSequence struct {
	r    Reserver
	repo Repository
}

// NewReservedSequence hands out sequence numbers through r, seeded from the
// stored count, so concurrent bookings rarely meet at the unique index.
func NewReservedSequence(r Reserver, repo Repository) SequenceSource {
	return reservedSequence{r: r, repo: repo}
}

func (s reservedSequence) Next(ctx context.Context, day time.Time) (int, error) {
	return s.r.Next(ctx, day, func(ctx context.Context) (int, error) {
		return s.repo.CountAppointmentsForDate(ctx, day)
	})
}

// Generator builds candidate identifier pairs. It never writes anything.
type Generator struct {
	seq SequenceSource

	mu sync.Mutex
	r  Rand
}

func NewGenerator(seq SequenceSource, r Rand) *Generator {
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{seq: seq, r: r}
}

// Generate returns the base pair for attempt 0 and a pair with random
// three-digit suffixes for later attempts.
func (g *Generator) Generate(ctx context.Context, pickupDate time.Time, attempt int) (models.IdentifierPair, error) {
	day := models.PickupDay(pickupDate)
	seq, err := g.seq.Next(ctx, day)
	if err != nil {
		return models.IdentifierPair{}, err
	}

	pair := FormatPair(day, seq)
	if attempt > 0 {
		g.mu.Lock()
		pair.AppointmentNumber += fmt.Sprintf("%03d", g.r.Intn(1000))
		pair.WeighbridgeNumber += fmt.Sprintf("%03d", g.r.Intn(1000))
		g.mu.Unlock()
	}
	return pair, nil
}

// FormatPair renders YYMMDD + 4-digit sequence and WB + YYMM + 5-digit sequence.
func FormatPair(day time.Time, seq int) models.IdentifierPair {
	return models.IdentifierPair{
		AppointmentNumber: day.Format("060102") + fmt.Sprintf("%04d", seq),
		WeighbridgeNumber: "WB" + day.Format("0601") + fmt.Sprintf("%05d", seq),
	}
}

// TimestampFallback derives a pair from the clock. It is used unverified when
// the store cannot be asked whether a candidate is free.
func TimestampFallback(pickupDate time.Time, now time.Time) models.IdentifierPair {
	day := models.PickupDay(pickupDate)
	stamp := fmt.Sprintf("%07d", (now.UnixNano()/100)%10_000_000)
	return models.IdentifierPair{
		AppointmentNumber: day.Format("060102") + stamp,
		WeighbridgeNumber: "WB" + day.Format("0601") + stamp,
	}
}
