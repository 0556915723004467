// Package cleanup deletes finished jobs past their retention window and
// clears abandoned upload batches.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"forge/internal/config"
	"forge/internal/jobs"
	"forge/internal/logging"
	"forge/internal/services"
	"forge/internal/workspace"
)

// StaleUploadAge is how long an upload batch may sit unused before removal.
const StaleUploadAge = 24 * time.Hour

// Result summarizes one cleanup pass.
type Result struct {
	DeletedJobs    []string `json:"deleted_jobs"`
	FreedBytes     int64    `json:"freed_bytes"`
	RemovedUploads int      `json:"removed_uploads"`
	Errors         []string `json:"errors,omitempty"`
}

// Service runs cleanup passes against the store and data directory.
type Service struct {
	cfg     *config.Config
	store   *jobs.Store
	uploads *workspace.Uploads
	logger  *slog.Logger
	now     func() time.Time
}

// New constructs a cleanup service.
func New(cfg *config.Config, store *jobs.Store, logger *slog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		store:   store,
		uploads: workspace.NewUploads(cfg.UploadsDir()),
		logger:  logging.NewComponentLogger(logger, "cleanup"),
		now:     time.Now,
	}
}

// RetentionDays returns the effective retention, read from runtime settings.
// Zero or less disables job deletion.
func (s *Service) RetentionDays(ctx context.Context) int {
	return s.store.IntSetting(ctx, config.SettingAutoCleanupDays, s.cfg.Cleanup.RetentionDays)
}

// Run performs one pass: expired completed and failed jobs are removed with
// their directories and logs, then stale uploads are cleared.
func (s *Service) Run(ctx context.Context) (Result, error) {
	var result Result
	if days := s.RetentionDays(ctx); days > 0 {
		cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
		expired, err := s.store.ListExpired(ctx, cutoff)
		if err != nil {
			return result, services.Wrap(services.ErrTransient, "cleanup", "list expired", "", err)
		}
		for _, job := range expired {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			s.removeJob(ctx, job, &result)
		}
	}

	uploads := s.uploads.CleanStale(ctx, StaleUploadAge, s.logger)
	result.RemovedUploads = len(uploads.Removed)
	for _, e := range uploads.Errors {
		result.Errors = append(result.Errors, e.Path+": "+e.Error.Error())
	}

	if len(result.DeletedJobs) > 0 || result.RemovedUploads > 0 || len(result.Errors) > 0 {
		s.logger.Info("cleanup finished",
			logging.Int("deleted_jobs", len(result.DeletedJobs)),
			logging.Int64("freed_bytes", result.FreedBytes),
			logging.Int("removed_uploads", result.RemovedUploads),
			logging.Int("errors", len(result.Errors)),
			logging.String(logging.FieldEventType, "cleanup_finished"),
		)
	}
	return result, nil
}

func (s *Service) removeJob(ctx context.Context, job *jobs.Job, result *Result) {
	ws := workspace.For(s.cfg.Paths.JobsDir, job.ID)
	size := ws.Size()
	if err := ws.Remove(); err != nil {
		logging.WarnWithContext(s.logger, "job directory removal failed", "cleanup_failed",
			logging.Job(job.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check jobs_dir permissions"),
			logging.String(logging.FieldImpact, "job kept until the next pass"),
		)
		result.Errors = append(result.Errors, job.ID+": "+err.Error())
		return
	}
	if _, err := s.store.Delete(ctx, job.ID); err != nil {
		logging.WarnWithContext(s.logger, "job record removal failed", "cleanup_failed",
			logging.Job(job.ID),
			logging.Error(err),
		)
		result.Errors = append(result.Errors, job.ID+": "+err.Error())
		return
	}
	result.DeletedJobs = append(result.DeletedJobs, job.ID)
	result.FreedBytes += size
	s.logger.Debug("expired job removed",
		logging.Job(job.ID),
		logging.String("status", string(job.Status)),
		logging.Int64("bytes", size),
	)
}

// Loop runs a pass every interval until ctx is done. It does nothing when
// cleanup is disabled in the config.
func (s *Service) Loop(ctx context.Context) {
	if !s.cfg.Cleanup.Enabled || s.cfg.Cleanup.IntervalMinutes <= 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(s.cfg.Cleanup.IntervalMinutes) * time.Minute)
	defer ticker.Stop()
	for {
		if _, err := s.Run(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(s.logger, "cleanup pass failed", "cleanup_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, services.Hint(err)),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
