package booking

import (
	"context"
	"sync"
	"time"

	"github.com/BearBump/WeighBox/internal/models"
	"github.com/BearBump/WeighBox/internal/storage/pgbooking"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// memRepo enforces the same unique indexes as the postgres schema.
type memRepo struct {
	mu     sync.Mutex
	nextID uint64
	rows   map[uint64]*models.Appointment
	t1s    map[uint64][]*models.T1Record
	sads   map[string]models.SADDeclaration

	countErr  error
	probeErr  error
	insertErr error
	childErr  error
	deleteErr error

	inserts       int
	childInserts  int
	deletes       int
	probeCalls    int
	insertTimeout int // number of inserts that block until ctx deadline
}

func newMemRepo() *memRepo {
	return &memRepo{
		rows: map[uint64]*models.Appointment{},
		t1s:  map[uint64][]*models.T1Record{},
		sads: map[string]models.SADDeclaration{},
	}
}

func (r *memRepo) CountAppointmentsForDate(ctx context.Context, pickupDate time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.countErr != nil {
		return 0, r.countErr
	}
	day := models.PickupDay(pickupDate)
	n := 0
	for _, a := range r.rows {
		if a.PickupDate.Equal(day) {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) CountByAppointmentNumber(ctx context.Context, number string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probeCalls++
	if r.probeErr != nil {
		return 0, r.probeErr
	}
	n := 0
	for _, a := range r.rows {
		if a.AppointmentNumber == number {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) CountByWeighbridgeNumber(ctx context.Context, number string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.probeErr != nil {
		return 0, r.probeErr
	}
	n := 0
	for _, a := range r.rows {
		if a.WeighbridgeNumber == number {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) InsertAppointment(ctx context.Context, a *models.Appointment) error {
	r.mu.Lock()
	r.inserts++
	if r.insertTimeout > 0 {
		r.insertTimeout--
		r.mu.Unlock()
		<-ctx.Done()
		return errors.Wrap(ctx.Err(), "insert appointment")
	}
	defer r.mu.Unlock()

	if r.insertErr != nil {
		return r.insertErr
	}
	for _, row := range r.rows {
		if row.AppointmentNumber == a.AppointmentNumber {
			return errors.Wrap(&pgconn.PgError{Code: "23505", ConstraintName: "uq_appointments_appointment_number"}, "insert appointment")
		}
		if row.WeighbridgeNumber == a.WeighbridgeNumber {
			return errors.Wrap(&pgconn.PgError{Code: "23505", ConstraintName: "uq_appointments_weighbridge_number"}, "insert appointment")
		}
	}
	r.nextID++
	a.ID = r.nextID
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	cp.T1s = nil
	r.rows[a.ID] = &cp
	return nil
}

func (r *memRepo) InsertT1Records(ctx context.Context, appointmentID uint64, items []*models.T1Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.childInserts++
	if r.childErr != nil {
		return r.childErr
	}
	if _, ok := r.rows[appointmentID]; !ok {
		return errors.New("fk violation")
	}
	for _, it := range items {
		r.nextID++
		it.ID = r.nextID
		it.AppointmentID = appointmentID
		cp := *it
		r.t1s[appointmentID] = append(r.t1s[appointmentID], &cp)
	}
	return nil
}

func (r *memRepo) DeleteAppointment(ctx context.Context, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes++
	if r.deleteErr != nil {
		return r.deleteErr
	}
	delete(r.rows, id)
	delete(r.t1s, id)
	return nil
}

func (r *memRepo) DeleteAppointmentIfNotCompleted(ctx context.Context, id uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok || a.Status == models.AppointmentStatusCompleted {
		return false, nil
	}
	delete(r.rows, id)
	delete(r.t1s, id)
	return true, nil
}

func (r *memRepo) UpdateAppointmentStatus(ctx context.Context, id uint64, from, to string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	return true, nil
}

func (r *memRepo) GetAppointmentByNumber(ctx context.Context, number string) (*models.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.rows {
		if a.AppointmentNumber == number {
			cp := *a
			cp.T1s = append([]*models.T1Record(nil), r.t1s[a.ID]...)
			return &cp, nil
		}
	}
	return nil, pgbooking.ErrNotFound
}

func (r *memRepo) UpsertSAD(ctx context.Context, sad models.SADDeclaration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sads[sad.SADNo]; !ok {
		r.sads[sad.SADNo] = sad
	}
	return nil
}

func (r *memRepo) ExistingSADs(ctx context.Context, sadNos []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, no := range sadNos {
		if _, ok := r.sads[no]; ok {
			out = append(out, no)
		}
	}
	return out, nil
}

func (r *memRepo) appointmentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *memRepo) all() []*models.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Appointment, 0, len(r.rows))
	for _, a := range r.rows {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

type fixedRand struct{ v int }

func (f fixedRand) Intn(n int) int { return f.v % n }

// seqRand returns successive values, wrapping around.
type seqRand struct {
	mu   sync.Mutex
	vals []int
	i    int
}

func (s *seqRand) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v % n
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }
