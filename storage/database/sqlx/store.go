package sqlxstore

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// Storage keeps session entries in the portal_session table.
type Storage struct {
	db     *sqlx.DB
	prefix string
}

func NewStorage(db *sqlx.DB, prefix string) *Storage {
	return &Storage{db: db, prefix: prefix}
}

func (s *Storage) Get(ctx context.Context, key string) (string, bool, error) {
	var val string
	err := s.db.GetContext(ctx, &val, `SELECT value FROM portal_session WHERE key = $1`, s.prefix+key)
	switch {
	case err == sql.ErrNoRows:
		return "", false, nil
	case err != nil:
		return "", false, errors.Wrapf(err, "selecting %q", key)
	}
	return val, true, nil
}

func (s *Storage) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO portal_session (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		s.prefix+key, value,
	)
	return errors.Wrapf(err, "upserting %q", key)
}

func (s *Storage) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, 0, len(keys))
	for _, key := range keys {
		prefixed = append(prefixed, s.prefix+key)
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM portal_session WHERE key = ANY($1)`, pq.Array(prefixed))
	return errors.Wrap(err, "deleting keys")
}
