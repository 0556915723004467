package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AppendLog persists a log entry and returns it with its sequence assigned.
func (s *Store) AppendLog(ctx context.Context, entry LogEntry) (LogEntry, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Level == "" {
		entry.Level = LevelInfo
	}
	var metadata any
	if len(entry.Metadata) > 0 && json.Valid(entry.Metadata) {
		metadata = string(entry.Metadata)
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO job_logs (job_id, timestamp, level, phase, message, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.JobID,
		formatTime(entry.Timestamp),
		entry.Level,
		nullableString(entry.Phase),
		entry.Message,
		metadata,
	)
	if err != nil {
		return entry, fmt.Errorf("append log: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return entry, fmt.Errorf("last insert id: %w", err)
	}
	entry.Seq = seq
	return entry, nil
}

// ListLogs returns the most recent limit entries for a job in ascending order.
// A limit <= 0 returns every entry.
func (s *Store) ListLogs(ctx context.Context, jobID string, limit int) ([]LogEntry, error) {
	ctx = ensureContext(ctx)
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, job_id, timestamp, level, phase, message, metadata FROM (
                SELECT * FROM job_logs WHERE job_id = ? ORDER BY id DESC LIMIT ?
            ) ORDER BY id ASC`, jobID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, job_id, timestamp, level, phase, message, metadata FROM job_logs WHERE job_id = ? ORDER BY id ASC`, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	return collectLogs(rows)
}

// ListLogsSince returns entries with a sequence greater than afterSeq.
func (s *Store) ListLogsSince(ctx context.Context, jobID string, afterSeq int64, limit int) ([]LogEntry, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, timestamp, level, phase, message, metadata FROM job_logs
        WHERE job_id = ? AND id > ? ORDER BY id ASC LIMIT ?`, jobID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list logs since: %w", err)
	}
	return collectLogs(rows)
}

// CountLogs returns the number of stored entries for a job.
func (s *Store) CountLogs(ctx context.Context, jobID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(*) FROM job_logs WHERE job_id = ?`, jobID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count logs: %w", err)
	}
	return count, nil
}

func collectLogs(rows *sql.Rows) ([]LogEntry, error) {
	defer rows.Close()
	var entries []LogEntry
	for rows.Next() {
		var (
			entry    LogEntry
			tsRaw    string
			level    string
			phase    sql.NullString
			metadata sql.NullString
		)
		if err := rows.Scan(&entry.Seq, &entry.JobID, &tsRaw, &level, &phase, &entry.Message, &metadata); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		if ts, err := parseTimeString(tsRaw); err == nil {
			entry.Timestamp = ts
		}
		entry.Level = LogLevel(level)
		entry.Phase = phase.String
		if metadata.Valid && metadata.String != "" {
			entry.Metadata = json.RawMessage(metadata.String)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
