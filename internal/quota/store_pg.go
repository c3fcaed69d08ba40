package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PGStore keeps counters in the analyze_usage table.
type PGStore struct {
	DB *sql.DB
}

// NewPGStore constructs a Postgres-backed store.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{DB: db}
}

// Consume creates the day's row if missing, then increments it with a
// conditional UPDATE so concurrent callers can never pass the limit.
func (s *PGStore) Consume(ctx context.Context, userID string, day time.Time, limit int) (out Outcome, err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("begin quota tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
INSERT INTO analyze_usage (user_id, day, count, updated_at)
VALUES ($1, $2, 0, now())
ON CONFLICT (user_id, day) DO NOTHING`, userID, day); err != nil {
		return Outcome{}, fmt.Errorf("ensure quota row: %w", err)
	}

	var count int
	err = tx.QueryRowContext(ctx, `
UPDATE analyze_usage
SET count = count + 1, updated_at = now()
WHERE user_id = $1 AND day = $2 AND count < $3
RETURNING count`, userID, day, limit).Scan(&count)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err = tx.QueryRowContext(ctx, `
SELECT count FROM analyze_usage WHERE user_id = $1 AND day = $2`, userID, day).Scan(&count); err != nil {
			return Outcome{}, fmt.Errorf("read quota row: %w", err)
		}
		out = Outcome{Applied: false, Count: count}
	case err != nil:
		return Outcome{}, fmt.Errorf("increment quota: %w", err)
	default:
		out = Outcome{Applied: true, Count: count}
	}

	if err = tx.Commit(); err != nil {
		return Outcome{}, fmt.Errorf("commit quota tx: %w", err)
	}
	return out, nil
}

// Count returns the day's counter, zero when no row exists.
func (s *PGStore) Count(ctx context.Context, userID string, day time.Time) (int, error) {
	var count int
	err := s.DB.QueryRowContext(ctx, `
SELECT count FROM analyze_usage WHERE user_id = $1 AND day = $2`, userID, day).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read quota: %w", err)
	}
	return count, nil
}

var _ Store = (*PGStore)(nil)
