package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const baselineColumns = "id, domain, name, output_dir, status, refs_count, last_scraped_at, created_at, updated_at"

// BaselineForDomain returns the most recently updated ready baseline for a
// domain, or nil when none is registered.
func (s *Store) BaselineForDomain(ctx context.Context, domain string) (*Baseline, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+baselineColumns+` FROM baselines WHERE domain = ? AND status = ? ORDER BY updated_at DESC LIMIT 1`,
		strings.ToLower(strings.TrimSpace(domain)), BaselineReady,
	)
	baseline, err := scanBaseline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("baseline for domain: %w", err)
	}
	return baseline, nil
}

// UpsertBaseline records a baseline keyed by domain and output directory.
func (s *Store) UpsertBaseline(ctx context.Context, b Baseline) (*Baseline, error) {
	domain := strings.ToLower(strings.TrimSpace(b.Domain))
	if domain == "" || strings.TrimSpace(b.OutputDir) == "" {
		return nil, errors.New("baseline domain and output dir are required")
	}
	if b.Status == "" {
		b.Status = BaselinePending
	}
	if b.Name == "" {
		b.Name = domain
	}
	now := formatTime(time.Now())
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO baselines (domain, name, output_dir, status, refs_count, last_scraped_at, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(domain, output_dir) DO UPDATE SET
            name = excluded.name,
            status = excluded.status,
            refs_count = excluded.refs_count,
            last_scraped_at = COALESCE(excluded.last_scraped_at, baselines.last_scraped_at),
            updated_at = excluded.updated_at`,
		domain, b.Name, b.OutputDir, b.Status, b.RefsCount, nullableTime(b.LastScrapedAt), now, now,
	); err != nil {
		return nil, fmt.Errorf("upsert baseline: %w", err)
	}

	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+baselineColumns+` FROM baselines WHERE domain = ? AND output_dir = ?`, domain, b.OutputDir)
	return scanBaseline(row)
}

// ListBaselines returns every registered baseline ordered by domain.
func (s *Store) ListBaselines(ctx context.Context) ([]*Baseline, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+baselineColumns+` FROM baselines ORDER BY domain, updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	defer rows.Close()
	var out []*Baseline
	for rows.Next() {
		b, err := scanBaseline(rows)
		if err != nil {
			return nil, fmt.Errorf("scan baseline: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBaseline(scanner interface{ Scan(dest ...any) error }) (*Baseline, error) {
	var (
		b          Baseline
		status     string
		scrapedRaw sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&b.ID, &b.Domain, &b.Name, &b.OutputDir, &status, &b.RefsCount, &scrapedRaw, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	b.Status = BaselineStatus(status)
	b.LastScrapedAt = nullTime(scrapedRaw)
	if ts, err := parseTimeString(createdRaw); err == nil {
		b.CreatedAt = ts
	}
	if ts, err := parseTimeString(updatedRaw); err == nil {
		b.UpdatedAt = ts
	}
	return &b, nil
}
