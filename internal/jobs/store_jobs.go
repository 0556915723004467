package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Create inserts a new pending job.
func (s *Store) Create(ctx context.Context, req NewJob) (*Job, error) {
	if strings.TrimSpace(req.ID) == "" {
		return nil, errors.New("job id is required")
	}
	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = "cli"
	}
	now := formatTime(time.Now())
	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (id, name, domain, status, config_yaml, template_id, created_by, created_at, review_status)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID,
		req.Name,
		req.Domain,
		StatusPending,
		req.ConfigYAML,
		nullableString(req.TemplateID),
		createdBy,
		now,
		ReviewNone,
	); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.Get(ctx, req.ID)
}

// Get fetches a job by id. A missing job yields (nil, nil).
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs newest first, narrowed by the filter.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Job, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if filter.Domain != "" {
		clauses = append(clauses, "domain = ?")
		args = append(args, filter.Domain)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, max(filter.Offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Update applies the non-nil fields of patch to the job.
func (s *Store) Update(ctx context.Context, id string, patch Patch) error {
	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.CurrentPhase != nil {
		add("current_phase", nullableString(*patch.CurrentPhase))
	}
	if patch.PhaseProgress != nil {
		add("phase_progress", *patch.PhaseProgress)
	}
	if patch.ConfigYAML != nil {
		add("config_yaml", *patch.ConfigYAML)
	}
	if patch.QualityScore != nil {
		add("quality_score", *patch.QualityScore)
	}
	if patch.AtomsExtracted != nil {
		add("atoms_extracted", *patch.AtomsExtracted)
	}
	if patch.AtomsDeduplicated != nil {
		add("atoms_deduplicated", *patch.AtomsDeduplicated)
	}
	if patch.AtomsVerified != nil {
		add("atoms_verified", *patch.AtomsVerified)
	}
	if patch.CompressionRatio != nil {
		add("compression_ratio", *patch.CompressionRatio)
	}
	if patch.APICostUSD != nil {
		add("api_cost_usd", *patch.APICostUSD)
	}
	if patch.TokensUsed != nil {
		add("tokens_used", *patch.TokensUsed)
	}
	if patch.OutputPath != nil {
		add("output_path", nullableString(*patch.OutputPath))
	}
	if patch.PackagePath != nil {
		add("package_path", nullableString(*patch.PackagePath))
	}
	if patch.StartedAt != nil {
		add("started_at", nullableTime(patch.StartedAt))
	}
	if patch.CompletedAt != nil {
		add("completed_at", nullableTime(patch.CompletedAt))
	}
	if patch.ErrorMessage != nil {
		add("error_message", nullableString(*patch.ErrorMessage))
	}
	if patch.ReviewStatus != nil {
		add("review_status", *patch.ReviewStatus)
	}
	if patch.ReviewData != nil {
		add("review_data", nullableString(*patch.ReviewData))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	if _, err := s.execWithRetry(ctx, `UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	return nil
}

// Delete removes the job and its logs. It reports whether a row existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := s.execWithRetry(ctx, `DELETE FROM job_logs WHERE job_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete job logs: %w", err)
	}
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Stats aggregates counts and totals across all jobs.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	stats := Stats{ByStatus: make(map[Status]int, len(allStatuses))}
	for _, status := range allStatuses {
		stats.ByStatus[status] = 0
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("count jobs: %w", err)
	}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return stats, fmt.Errorf("scan status count: %w", err)
		}
		stats.ByStatus[Status(status)] = count
		stats.Total += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	var avgQuality sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT AVG(quality_score), COALESCE(SUM(atoms_verified), 0), COALESCE(SUM(api_cost_usd), 0), COALESCE(SUM(tokens_used), 0)
        FROM jobs WHERE status = ?`, StatusCompleted,
	).Scan(&avgQuality, &stats.TotalAtoms, &stats.TotalCost, &stats.TotalTokens); err != nil {
		return stats, fmt.Errorf("aggregate jobs: %w", err)
	}
	stats.AvgQuality = nullFloat(avgQuality)
	return stats, nil
}

// ListExpired returns terminal jobs created before the cutoff.
func (s *Store) ListExpired(ctx context.Context, before time.Time) ([]*Job, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status IN (?, ?) AND created_at < ? ORDER BY created_at`,
		StatusCompleted, StatusFailed, formatTime(before),
	)
	if err != nil {
		return nil, fmt.Errorf("list expired jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ResetInterrupted marks jobs left running by a previous daemon as failed and
// returns how many were changed. Queued jobs are moved back to pending since
// the wait list does not survive a restart.
func (s *Store) ResetInterrupted(ctx context.Context) (int64, error) {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, completed_at = ? WHERE status = ?`,
		StatusFailed, DaemonStopReason, now, StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("reset running jobs: %w", err)
	}
	failed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if _, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ? WHERE status = ?`, StatusPending, StatusQueued,
	); err != nil {
		return failed, fmt.Errorf("reset queued jobs: %w", err)
	}
	return failed, nil
}
