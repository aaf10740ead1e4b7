package pgbooking

import (
	"context"
	"time"

	"github.com/BearBump/WeighBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const appointmentColumns = `
  id, appointment_number, weighbridge_number,
  agent_tin, agent_name, warehouse_location,
  pickup_date, consolidated,
  truck_number, driver_name, driver_license_no,
  total_t1s, status, created_by,
  created_at, updated_at`

func (s *Storage) CountAppointmentsForDate(ctx context.Context, pickupDate time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM appointments WHERE pickup_date = $1`,
		models.PickupDay(pickupDate)).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count appointments for date")
	}
	return n, nil
}

func (s *Storage) CountByAppointmentNumber(ctx context.Context, number string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM appointments WHERE appointment_number = $1`, number).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count by appointment number")
	}
	return n, nil
}

func (s *Storage) CountByWeighbridgeNumber(ctx context.Context, number string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM appointments WHERE weighbridge_number = $1`, number).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count by weighbridge number")
	}
	return n, nil
}

// InsertAppointment writes the parent row only and fills in a.ID and the
// timestamps. Unique violations come back wrapped; see IsUniqueViolation.
func (s *Storage) InsertAppointment(ctx context.Context, a *models.Appointment) error {
	now := time.Now().UTC()
	status := a.Status
	if status == "" {
		status = models.AppointmentStatusPosted
	}

	err := s.db.QueryRow(ctx, `
INSERT INTO appointments (
  appointment_number, weighbridge_number,
  agent_tin, agent_name, warehouse_location,
  pickup_date, consolidated,
  truck_number, driver_name, driver_license_no,
  total_t1s, status, created_by,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)
RETURNING id
`,
		a.AppointmentNumber, a.WeighbridgeNumber,
		a.AgentTIN, a.AgentName, a.WarehouseLocation,
		models.PickupDay(a.PickupDate), models.ConsolidatedFlag(a.Consolidated),
		a.TruckNumber, a.DriverName, a.DriverLicenseNo,
		a.TotalT1s, status, a.CreatedBy,
		now,
	).Scan(&a.ID)
	if err != nil {
		return errors.Wrap(err, "insert appointment")
	}
	a.Status = status
	a.CreatedAt = now
	a.UpdatedAt = now
	return nil
}

// InsertT1Records writes all line items of an appointment in a single
// statement, so either every record lands or none does.
func (s *Storage) InsertT1Records(ctx context.Context, appointmentID uint64, items []*models.T1Record) error {
	if len(items) == 0 {
		return nil
	}
	now := time.Now().UTC()

	sadNos := make([]string, 0, len(items))
	packingTypes := make([]string, 0, len(items))
	containerNos := make([]*string, 0, len(items))
	for _, it := range items {
		sadNos = append(sadNos, it.SADNo)
		packingTypes = append(packingTypes, it.PackingType)
		containerNos = append(containerNos, it.ContainerNo)
	}

	rows, err := s.db.Query(ctx, `
INSERT INTO t1_records (appointment_id, sad_no, packing_type, container_no, created_at)
SELECT $1, u.sad_no, u.packing_type, u.container_no, $5
FROM unnest($2::text[], $3::text[], $4::text[]) WITH ORDINALITY AS u(sad_no, packing_type, container_no, ord)
ORDER BY u.ord
RETURNING id
`, appointmentID, sadNos, packingTypes, containerNos, now)
	if err != nil {
		return errors.Wrap(err, "insert t1 records")
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return errors.Wrap(err, "scan t1 record id")
		}
		if i < len(items) {
			items[i].ID = id
			items[i].AppointmentID = appointmentID
			items[i].CreatedAt = now
		}
		i++
	}
	if rows.Err() != nil {
		return errors.Wrap(rows.Err(), "insert t1 records")
	}
	return nil
}

// DeleteAppointment removes a row by primary key. T1 records cascade.
func (s *Storage) DeleteAppointment(ctx context.Context, id uint64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	return errors.Wrap(err, "delete appointment")
}

// DeleteAppointmentIfNotCompleted reports whether a row was removed.
func (s *Storage) DeleteAppointmentIfNotCompleted(ctx context.Context, id uint64) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM appointments WHERE id = $1 AND status <> $2`,
		id, models.AppointmentStatusCompleted)
	if err != nil {
		return false, errors.Wrap(err, "delete appointment")
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateAppointmentStatus moves a row from one status to another and reports
// whether the row was in the expected status.
func (s *Storage) UpdateAppointmentStatus(ctx context.Context, id uint64, from, to string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE appointments
SET status = $3, updated_at = now()
WHERE id = $1 AND status = $2
`, id, from, to)
	if err != nil {
		return false, errors.Wrap(err, "update appointment status")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Storage) GetAppointmentByNumber(ctx context.Context, number string) (*models.Appointment, error) {
	row := s.db.QueryRow(ctx, `SELECT`+appointmentColumns+` FROM appointments WHERE appointment_number = $1`, number)
	a, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select appointment")
	}

	t1s, err := s.listT1Records(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	a.T1s = t1s
	return a, nil
}

// ListOrphanAppointments returns appointments without any T1 record that were
// created before olderThan. These are parents whose compensation never ran.
func (s *Storage) ListOrphanAppointments(ctx context.Context, olderThan time.Time, limit int) ([]*models.Appointment, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, `SELECT`+appointmentColumns+`
FROM appointments a
WHERE a.created_at < $1
  AND a.status <> $2
  AND NOT EXISTS (SELECT 1 FROM t1_records t WHERE t.appointment_id = a.id)
ORDER BY a.created_at ASC
LIMIT $3
`, olderThan.UTC(), models.AppointmentStatusCompleted, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select orphan appointments")
	}
	defer rows.Close()

	var out []*models.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan orphan appointment")
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// DeleteOrphanAppointment deletes the row only if it still has no T1 records.
func (s *Storage) DeleteOrphanAppointment(ctx context.Context, id uint64) (bool, error) {
	tag, err := s.db.Exec(ctx, `
DELETE FROM appointments a
WHERE a.id = $1
  AND NOT EXISTS (SELECT 1 FROM t1_records t WHERE t.appointment_id = a.id)
`, id)
	if err != nil {
		return false, errors.Wrap(err, "delete orphan appointment")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Storage) listT1Records(ctx context.Context, appointmentID uint64) ([]*models.T1Record, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, appointment_id, sad_no, packing_type, container_no, created_at
FROM t1_records
WHERE appointment_id = $1
ORDER BY id ASC
`, appointmentID)
	if err != nil {
		return nil, errors.Wrap(err, "select t1 records")
	}
	defer rows.Close()

	var out []*models.T1Record
	for rows.Next() {
		var r models.T1Record
		var containerNo *string
		if err := rows.Scan(&r.ID, &r.AppointmentID, &r.SADNo, &r.PackingType, &containerNo, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan t1 record")
		}
		r.ContainerNo = containerNo
		out = append(out, &r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func scanAppointment(row pgx.Row) (*models.Appointment, error) {
	var a models.Appointment
	var consolidated string
	if err := row.Scan(
		&a.ID, &a.AppointmentNumber, &a.WeighbridgeNumber,
		&a.AgentTIN, &a.AgentName, &a.WarehouseLocation,
		&a.PickupDate, &consolidated,
		&a.TruckNumber, &a.DriverName, &a.DriverLicenseNo,
		&a.TotalT1s, &a.Status, &a.CreatedBy,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Consolidated = consolidated == "Y"
	a.Status = models.NormalizeStatus(a.Status)
	return &a, nil
}
