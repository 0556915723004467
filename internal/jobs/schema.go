package jobs

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

//go:embed schema_templates.sql
var templatesSQL string

// upgrades[i] moves a database from version i+1 to i+2. New databases run
// schema.sql followed by every upgrade.
var upgrades = []string{templatesSQL}

// schemaVersion is recorded in schema_version. Older databases are upgraded
// in place; newer ones are refused.
var schemaVersion = 1 + len(upgrades)

// ErrSchemaMismatch reports a database created by a different forge release.
var ErrSchemaMismatch = errors.New("schema version mismatch")

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// readSchemaVersion returns the recorded version, or ok=false for a database
// that has never been initialized.
func readSchemaVersion(ctx context.Context, q rowQuerier) (version int, ok bool, err error) {
	var tables int
	if err := q.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'",
	).Scan(&tables); err != nil {
		return 0, false, fmt.Errorf("look up schema_version: %w", err)
	}
	if tables == 0 {
		return 0, false, nil
	}
	switch err := q.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return version, true, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	version, ok, err := readSchemaVersion(ctx, s.db)
	if err != nil {
		return err
	}
	if !ok {
		return s.createSchema(ctx)
	}
	if version >= 1 && version < schemaVersion {
		return s.upgradeSchema(ctx, version)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: %s has version %d, this build expects %d; move it aside to start with an empty job history",
			ErrSchemaMismatch, s.path, version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create job tables: %w", err)
	}
	for i, stmt := range upgrades {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema version %d: %w", i+2, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

func (s *Store) upgradeSchema(ctx context.Context, from int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upgrade tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for v := from; v < schemaVersion; v++ {
		if _, err := tx.ExecContext(ctx, upgrades[v-1]); err != nil {
			return fmt.Errorf("upgrade %s to schema version %d: %w", s.path, v+1, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE schema_version SET version = ?", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}
