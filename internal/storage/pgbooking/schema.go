package pgbooking

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS sad_declarations (
  sad_no TEXT PRIMARY KEY,
  registered_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS appointments (
  id BIGSERIAL PRIMARY KEY,
  appointment_number TEXT NOT NULL,
  weighbridge_number TEXT NOT NULL,
  agent_tin TEXT NOT NULL,
  agent_name TEXT NOT NULL,
  warehouse_location TEXT NOT NULL,
  pickup_date DATE NOT NULL,
  consolidated CHAR(1) NOT NULL CHECK (consolidated IN ('Y', 'N')),
  truck_number TEXT NOT NULL,
  driver_name TEXT NOT NULL,
  driver_license_no TEXT NOT NULL DEFAULT '',
  total_t1s INT NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  created_by UUID NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		// Uniqueness of both numbers is what makes optimistic generation safe.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_appointments_appointment_number ON appointments(appointment_number)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_appointments_weighbridge_number ON appointments(weighbridge_number)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_pickup_date ON appointments(pickup_date)`,
		`
CREATE TABLE IF NOT EXISTS t1_records (
  id BIGSERIAL PRIMARY KEY,
  appointment_id BIGINT NOT NULL REFERENCES appointments(id) ON DELETE CASCADE,
  sad_no TEXT NOT NULL,
  packing_type TEXT NOT NULL,
  container_no TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_t1_records_appointment_id ON t1_records(appointment_id)`,
		// Legacy rows written before the status rename.
		`UPDATE appointments SET status = 'Posted' WHERE status = 'Imported'`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
