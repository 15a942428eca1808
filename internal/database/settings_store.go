package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SettingsStore is a small key/value table for runtime-editable settings.
type SettingsStore struct {
	db *DB
}

func NewSettingsStore(db *DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Get retrieves a single setting by key. ok is false when the key is unset.
func (s *SettingsStore) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	query := s.db.Rebind(`SELECT value FROM settings WHERE key = ?`)
	err = s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr(fmt.Sprintf("get setting %s", key), err)
	}
	return value, true, nil
}

// Set updates or inserts a setting
func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	query := s.db.Rebind(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`)
	if _, err := s.db.ExecContext(ctx, query, key, value, nowUnix()); err != nil {
		return storeErr(fmt.Sprintf("set setting %s", key), err)
	}
	return nil
}
