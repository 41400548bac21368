package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Preference returns the stored value for key and whether it was present.
func (tx *Tx) Preference(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := tx.q.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read preference %q: %w", key, err)
	}
	return value, true, nil
}

// SetPreference stores value under key, replacing any previous value.
func (tx *Tx) SetPreference(ctx context.Context, key, value string, at time.Time) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, millis(at))
	if err != nil {
		return wrap("write preference", err)
	}
	return nil
}
