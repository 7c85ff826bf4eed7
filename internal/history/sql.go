package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"voyager-backend/internal/db"
)

// SQLStore stores records in the interactions table of postgres or sqlite.
type SQLStore struct {
	db *db.DB
}

func NewSQLStore(database *db.DB) *SQLStore {
	return &SQLStore{db: database}
}

func (s *SQLStore) Append(ctx context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	params, err := encodeParams(rec.Parameters)
	if err != nil {
		return err
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "history: begin")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO users (id, created_at) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`), rec.UserID, ts.UnixNano()); err != nil {
		return errors.Wrap(err, "history: upsert user")
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO interactions (id, user_id, kind, type, parameters, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`), uuid.NewString(), rec.UserID, string(rec.Kind), rec.Type, params, ts.UnixNano()); err != nil {
		return errors.Wrap(err, "history: insert interaction")
	}
	return errors.Wrap(tx.Commit(), "history: commit")
}

func (s *SQLStore) Recent(ctx context.Context, userID string, kind Kind, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT type, parameters, occurred_at
		FROM interactions
		WHERE user_id = $1 AND kind = $2
		ORDER BY occurred_at DESC
		LIMIT $3
	`), userID, string(kind), clampLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "history: query recent")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var typ, params string
		var ts int64
		if err := rows.Scan(&typ, &params, &ts); err != nil {
			return nil, errors.Wrap(err, "history: scan")
		}
		out = append(out, Record{
			UserID:     userID,
			Kind:       kind,
			Type:       typ,
			Parameters: decodeParams(params),
			Timestamp:  time.Unix(0, ts),
		})
	}
	return out, errors.Wrap(rows.Err(), "history: rows")
}

func (s *SQLStore) Close(context.Context) error {
	return s.db.Close()
}
