package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SpendStore persists the running model spend per billing day.
type SpendStore struct {
	db *DB
}

// NewSpendStore creates a spend store using the given database.
func NewSpendStore(db *DB) *SpendStore {
	return &SpendStore{db: db}
}

// Add increments the spend for day and returns the new total.
func (s *SpendStore) Add(ctx context.Context, day string, usd float64) (float64, error) {
	var total float64
	err := s.db.sql.QueryRowContext(ctx,
		`INSERT INTO spend_ledger (day, spent_usd, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(day) DO UPDATE SET
		   spent_usd = spend_ledger.spent_usd + excluded.spent_usd,
		   updated_at = excluded.updated_at
		 RETURNING spent_usd`,
		day, usd, formatTime(time.Now()),
	).Scan(&total)
	return total, err
}

// Get returns the spend recorded for day, zero when nothing was recorded.
func (s *SpendStore) Get(ctx context.Context, day string) (float64, error) {
	var total float64
	err := s.db.sql.QueryRowContext(ctx, `SELECT spent_usd FROM spend_ledger WHERE day = ?`, day).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return total, err
}
