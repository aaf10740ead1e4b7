package booking

import (
	"context"
	"time"

	"github.com/BearBump/WeighBox/internal/models"
	"golang.org/x/sync/errgroup"
)

// Probe checks candidate pairs against committed appointments.
type Probe struct {
	repo    Repository
	timeout time.Duration
}

func NewProbe(repo Repository, timeout time.Duration) *Probe {
	return &Probe{repo: repo, timeout: timeout}
}

// Available runs the two existence counts independently and accepts the pair
// only if both are zero. Any store failure comes back as *TransientStoreError.
func (p *Probe) Available(ctx context.Context, pair models.IdentifierPair) (bool, error) {
	var byAppointment, byWeighbridge int

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cctx, cancel := withCallTimeout(gctx, p.timeout)
		defer cancel()
		n, err := p.repo.CountByAppointmentNumber(cctx, pair.AppointmentNumber)
		byAppointment = n
		return err
	})
	g.Go(func() error {
		cctx, cancel := withCallTimeout(gctx, p.timeout)
		defer cancel()
		n, err := p.repo.CountByWeighbridgeNumber(cctx, pair.WeighbridgeNumber)
		byWeighbridge = n
		return err
	})
	if err := g.Wait(); err != nil {
		return false, &TransientStoreError{Op: "probe identifiers", Err: err}
	}
	return byAppointment == 0 && byWeighbridge == 0, nil
}

func withCallTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
