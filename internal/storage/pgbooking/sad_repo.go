package pgbooking

import (
	"context"
	"time"

	"github.com/BearBump/WeighBox/internal/models"
	"github.com/pkg/errors"
)

// ExistingSADs returns the subset of sadNos that are registered, in one query.
func (s *Storage) ExistingSADs(ctx context.Context, sadNos []string) ([]string, error) {
	if len(sadNos) == 0 {
		return []string{}, nil
	}

	rows, err := s.db.Query(ctx, `SELECT sad_no FROM sad_declarations WHERE sad_no = ANY($1)`, sadNos)
	if err != nil {
		return nil, errors.Wrap(err, "select sad declarations")
	}
	defer rows.Close()

	out := make([]string, 0, len(sadNos))
	for rows.Next() {
		var no string
		if err := rows.Scan(&no); err != nil {
			return nil, errors.Wrap(err, "scan sad declaration")
		}
		out = append(out, no)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) UpsertSAD(ctx context.Context, sad models.SADDeclaration) error {
	registeredAt := sad.RegisteredAt
	if registeredAt.IsZero() {
		registeredAt = time.Now()
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO sad_declarations (sad_no, registered_at)
VALUES ($1, $2)
ON CONFLICT (sad_no) DO NOTHING
`, sad.SADNo, registeredAt.UTC())
	return errors.Wrap(err, "upsert sad declaration")
}
