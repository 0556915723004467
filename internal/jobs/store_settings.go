package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SeedSettings inserts defaults for keys that are not stored yet. Values
// changed at runtime are never overwritten.
func (s *Store) SeedSettings(ctx context.Context, defaults map[string]string, descriptions map[string]string) error {
	now := formatTime(time.Now())
	keys := make([]string, 0, len(defaults))
	for key := range defaults {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if _, err := s.execWithRetry(ctx,
			`INSERT OR IGNORE INTO settings (key, value, description, updated_at) VALUES (?, ?, ?, ?)`,
			key, defaults[key], nullableString(descriptions[key]), now,
		); err != nil {
			return fmt.Errorf("seed setting %s: %w", key, err)
		}
	}
	return nil
}

// GetSetting returns the stored value and whether the key exists.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ensureContext(ctx), `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// IntSetting parses a stored integer setting, falling back to def when the
// key is missing or malformed.
func (s *Store) IntSetting(ctx context.Context, key string, def int) int {
	value, ok, err := s.GetSetting(ctx, key)
	if err != nil || !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return def
	}
	return n
}

// SetSetting upserts a runtime setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("setting key is required")
	}
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// Settings returns all settings ordered by key.
func (s *Store) Settings(ctx context.Context) ([]Setting, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT key, value, description, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var (
			setting     Setting
			description sql.NullString
			updatedRaw  string
		)
		if err := rows.Scan(&setting.Key, &setting.Value, &description, &updatedRaw); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		setting.Description = description.String
		if ts, err := parseTimeString(updatedRaw); err == nil {
			setting.UpdatedAt = ts
		}
		out = append(out, setting)
	}
	return out, rows.Err()
}
