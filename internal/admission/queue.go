package admission

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"forge/internal/config"
	"forge/internal/jobconfig"
	"forge/internal/jobs"
	"forge/internal/logging"
	"forge/internal/orchestrator"
	"forge/internal/preprocess"
	"forge/internal/services"
	"forge/internal/workspace"
)

// Runner starts admitted jobs and reports which are running.
type Runner interface {
	Start(ctx context.Context, req orchestrator.StartRequest) error
	IsRunning(jobID string) bool
	RunningCount() int
}

// Request describes a new build.
type Request struct {
	Name       string   `json:"name"`
	Domain     string   `json:"domain"`
	ConfigYAML string   `json:"config_yaml"`
	TemplateID string   `json:"template_id,omitempty"`
	CreatedBy  string   `json:"created_by,omitempty"`
	Files      []string `json:"files,omitempty"`
}

// Ticket reports where an admitted job landed. Position 0 means it started.
type Ticket struct {
	JobID    string `json:"job_id"`
	Position int    `json:"position"`
}

type entry struct {
	req        orchestrator.StartRequest
	enqueuedAt time.Time
}

// Queue serializes admission decisions under one mutex.
type Queue struct {
	cfg    *config.Config
	store  *jobs.Store
	runner Runner
	logger *slog.Logger

	mu      sync.Mutex
	waiting []entry
}

// New constructs an empty queue.
func New(cfg *config.Config, store *jobs.Store, runner Runner, logger *slog.Logger) *Queue {
	return &Queue{
		cfg:    cfg,
		store:  store,
		runner: runner,
		logger: logging.NewComponentLogger(logger, "admission"),
	}
}

// Enqueue creates the job and its workspace, then starts it or appends it to
// the wait list.
func (q *Queue) Enqueue(ctx context.Context, req Request) (Ticket, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return Ticket{}, services.Wrap(services.ErrValidation, "admission", "enqueue", "name is required", nil)
	}
	fromTemplate, err := q.applyTemplate(ctx, &req)
	if err != nil {
		return Ticket{}, err
	}
	doc, err := jobconfig.Parse([]byte(req.ConfigYAML))
	if err != nil {
		return Ticket{}, services.Wrap(services.ErrValidation, "admission", "parse config", "", err)
	}
	if fromTemplate || !doc.Has(jobconfig.KeyName) {
		doc.Set(jobconfig.KeyName, req.Name)
	}
	if req.Domain = strings.TrimSpace(req.Domain); req.Domain == "" {
		req.Domain = doc.String(jobconfig.KeyDomain)
	} else if !doc.Has(jobconfig.KeyDomain) {
		doc.Set(jobconfig.KeyDomain, req.Domain)
	}
	if !doc.Has(jobconfig.KeyQualityTier) {
		if tier, ok, err := q.store.GetSetting(ctx, config.SettingQualityTier); err == nil && ok && tier != "" {
			doc.Set(jobconfig.KeyQualityTier, tier)
		}
	}
	data, err := doc.Bytes()
	if err != nil {
		return Ticket{}, services.Wrap(services.ErrValidation, "admission", "encode config", "", err)
	}

	id := uuid.NewString()
	ws, err := workspace.Create(q.cfg.Paths.JobsDir, id, string(data))
	if err != nil {
		return Ticket{}, services.Wrap(services.ErrTransient, "admission", "create workspace", id, err)
	}
	if _, err := ws.CopyInputs(req.Files); err != nil {
		_ = ws.Remove()
		return Ticket{}, services.Wrap(services.ErrValidation, "admission", "copy inputs", "", err)
	}
	if _, err := q.store.Create(ctx, jobs.NewJob{
		ID:         id,
		Name:       req.Name,
		Domain:     req.Domain,
		ConfigYAML: string(data),
		TemplateID: req.TemplateID,
		CreatedBy:  req.CreatedBy,
	}); err != nil {
		_ = ws.Remove()
		return Ticket{}, services.Wrap(services.ErrTransient, "admission", "create job", id, err)
	}
	if req.TemplateID != "" {
		if err := q.store.IncrementTemplateUsage(ctx, req.TemplateID); err != nil {
			logging.WarnWithContext(q.logger, "record template usage failed", "template_usage_failed",
				logging.Job(id),
				logging.String("template", req.TemplateID),
				logging.Error(err),
			)
		}
	}
	q.logger.Info("job created",
		logging.Job(id),
		logging.String("name", req.Name),
		logging.String("domain", req.Domain),
		logging.String("template", req.TemplateID),
		logging.Int("inputs", len(req.Files)),
		logging.String(logging.FieldEventType, "job_created"),
	)

	pos, err := q.admit(ctx, orchestrator.StartRequest{JobID: id, Mode: orchestrator.ModeBuild})
	if err != nil {
		return Ticket{JobID: id}, err
	}
	return Ticket{JobID: id, Position: pos}, nil
}

// applyTemplate fills an empty config from the named template. It reports
// whether the config came from the template.
func (q *Queue) applyTemplate(ctx context.Context, req *Request) (bool, error) {
	req.TemplateID = strings.TrimSpace(req.TemplateID)
	if req.TemplateID == "" {
		return false, nil
	}
	tpl, err := q.store.GetTemplate(ctx, req.TemplateID)
	if err != nil {
		return false, services.Wrap(services.ErrTransient, "admission", "load template", req.TemplateID, err)
	}
	if tpl == nil {
		return false, services.Wrap(services.ErrValidation, "admission", "enqueue", "unknown template "+req.TemplateID, nil)
	}
	if strings.TrimSpace(req.ConfigYAML) != "" {
		return false, nil
	}
	req.ConfigYAML = tpl.ConfigYAML
	return true, nil
}

// Retry enqueues a fresh job cloned from a failed job's config and original
// inputs.
func (q *Queue) Retry(ctx context.Context, jobID string) (Ticket, error) {
	job, err := q.store.Get(ctx, jobID)
	if err != nil {
		return Ticket{}, services.Wrap(services.ErrTransient, "admission", "load job", jobID, err)
	}
	if job == nil {
		return Ticket{}, services.Wrap(services.ErrNotFound, "admission", "retry", "job "+jobID, nil)
	}
	if job.Status != jobs.StatusFailed {
		return Ticket{}, services.Wrap(services.ErrInvalidState, "admission", "retry", "only failed jobs can be retried", nil)
	}
	return q.Enqueue(ctx, Request{
		Name:       job.Name,
		Domain:     job.Domain,
		ConfigYAML: job.ConfigYAML,
		TemplateID: job.TemplateID,
		CreatedBy:  job.CreatedBy,
		Files:      uploadedInputs(workspace.For(q.cfg.Paths.JobsDir, jobID)),
	})
}

// uploadedInputs lists the files a user supplied, skipping what
// preprocessing derived from them.
func uploadedInputs(ws workspace.Workspace) []string {
	entries, err := os.ReadDir(ws.InputDir())
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if isDerivedInput(name, entries) {
			continue
		}
		out = append(out, filepath.Join(ws.InputDir(), name))
	}
	return out
}

func isDerivedInput(name string, entries []os.DirEntry) bool {
	if name == preprocess.MergedChaptersFile {
		return true
	}
	if !strings.EqualFold(filepath.Ext(name), ".txt") {
		return false
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	for _, e := range entries {
		other := e.Name()
		if strings.EqualFold(filepath.Ext(other), ".pdf") && strings.TrimSuffix(other, filepath.Ext(other)) == stem {
			return true
		}
	}
	return false
}

// Resume records the resolutions for a paused job and admits its resolve
// run.
func (q *Queue) Resume(ctx context.Context, jobID string, resolutions json.RawMessage) (int, error) {
	job, err := q.store.Get(ctx, jobID)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "admission", "load job", jobID, err)
	}
	if job == nil {
		return 0, services.Wrap(services.ErrNotFound, "admission", "resume", "job "+jobID, nil)
	}
	if job.Status != jobs.StatusPaused {
		return 0, services.Wrap(services.ErrInvalidState, "admission", "resume", "job is "+string(job.Status)+", not paused", nil)
	}
	if !json.Valid(resolutions) {
		return 0, services.Wrap(services.ErrValidation, "admission", "resume", "resolutions must be valid JSON", nil)
	}
	if q.runner.IsRunning(jobID) {
		return 0, services.Wrap(services.ErrInvalidState, "admission", "resume", "job is already running", nil)
	}
	ws := workspace.For(q.cfg.Paths.JobsDir, jobID)
	path, err := ws.WriteResolutions(resolutions)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "admission", "write resolutions", jobID, err)
	}
	if err := q.store.Update(ctx, jobID, jobs.Patch{ReviewData: jobs.Ptr(string(resolutions))}); err != nil {
		return 0, services.Wrap(services.ErrTransient, "admission", "record resolutions", jobID, err)
	}
	return q.admit(ctx, orchestrator.StartRequest{
		JobID:           jobID,
		Mode:            orchestrator.ModeResolve,
		ResolutionsPath: path,
	})
}

// admit starts req when a slot is free and nobody is waiting, otherwise
// appends it. It returns the 1-based wait position, or 0 when started. A
// runner that is shutting down leaves the job waiting.
func (q *Queue) admit(ctx context.Context, req orchestrator.StartRequest) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.waiting) == 0 && q.runner.RunningCount() < q.maxConcurrent(ctx) {
		err := q.runner.Start(ctx, req)
		if err == nil {
			return 0, nil
		}
		if !errors.Is(err, services.ErrStopped) {
			return 0, err
		}
	}

	if err := q.store.Update(ctx, req.JobID, jobs.Patch{Status: jobs.Ptr(jobs.StatusQueued)}); err != nil {
		return 0, services.Wrap(services.ErrTransient, "admission", "mark queued", req.JobID, err)
	}
	q.waiting = append(q.waiting, entry{req: req, enqueuedAt: time.Now()})
	q.logger.Info("job queued",
		logging.Job(req.JobID),
		logging.String("mode", string(req.Mode)),
		logging.Int("position", len(q.waiting)),
		logging.String(logging.FieldEventType, "job_queued"),
	)
	q.drainLocked(ctx)
	return q.positionLocked(req.JobID), nil
}

// OnJobFinished starts waiting jobs while capacity allows.
func (q *Queue) OnJobFinished() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.drainLocked(context.Background())
}

func (q *Queue) drainLocked(ctx context.Context) {
	for len(q.waiting) > 0 && q.runner.RunningCount() < q.maxConcurrent(ctx) {
		next := q.waiting[0]
		err := q.runner.Start(ctx, next.req)
		if errors.Is(err, services.ErrStopped) {
			return
		}
		q.waiting = q.waiting[1:]
		if err != nil {
			logging.WarnWithContext(q.logger, "queued job could not start", "job_start_failed",
				logging.Job(next.req.JobID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, services.Hint(err)),
			)
			q.failStart(ctx, next.req.JobID, err)
			continue
		}
		q.logger.Info("queued job started",
			logging.Job(next.req.JobID),
			logging.Duration("waited", time.Since(next.enqueuedAt)),
			logging.String(logging.FieldEventType, "job_dequeued"),
		)
	}
}

// failStart records a queued job that the orchestrator refused. Jobs that no
// longer exist are skipped.
func (q *Queue) failStart(ctx context.Context, jobID string, cause error) {
	if errors.Is(cause, services.ErrNotFound) {
		return
	}
	now := time.Now().UTC()
	if err := q.store.Update(ctx, jobID, jobs.Patch{
		Status:       jobs.Ptr(jobs.StatusFailed),
		ErrorMessage: jobs.Ptr("Start failed: " + cause.Error()),
		CompletedAt:  &now,
	}); err != nil {
		logging.WarnWithContext(q.logger, "record start failure failed", "job_update_failed",
			logging.Job(jobID),
			logging.Error(err),
		)
	}
}

// RemoveFromQueue cancels a waiting job. It reports false when the job is
// not waiting.
func (q *Queue) RemoveFromQueue(ctx context.Context, jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexLocked(jobID)
	if idx < 0 {
		return false
	}
	q.waiting = append(q.waiting[:idx], q.waiting[idx+1:]...)
	now := time.Now().UTC()
	if err := q.store.Update(ctx, jobID, jobs.Patch{
		Status:       jobs.Ptr(jobs.StatusFailed),
		ErrorMessage: jobs.Ptr(jobs.QueueRemovedReason),
		CompletedAt:  &now,
	}); err != nil {
		logging.WarnWithContext(q.logger, "record queue removal failed", "job_update_failed",
			logging.Job(jobID),
			logging.Error(err),
		)
	}
	q.logger.Info("job removed from queue",
		logging.Job(jobID),
		logging.String(logging.FieldEventType, "job_unqueued"),
	)
	return true
}

// QueueLength returns the number of waiting jobs.
func (q *Queue) QueueLength() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// Position returns the 1-based wait position of jobID, or 0 when it is not
// waiting.
func (q *Queue) Position(jobID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.positionLocked(jobID)
}

// Waiting lists waiting job ids in admission order.
func (q *Queue) Waiting() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.waiting))
	for _, e := range q.waiting {
		ids = append(ids, e.req.JobID)
	}
	return ids
}

func (q *Queue) positionLocked(jobID string) int {
	return q.indexLocked(jobID) + 1
}

func (q *Queue) indexLocked(jobID string) int {
	for i, e := range q.waiting {
		if e.req.JobID == jobID {
			return i
		}
	}
	return -1
}

// maxConcurrent reads the limit from the settings store so runtime changes
// apply to the next decision.
func (q *Queue) maxConcurrent(ctx context.Context) int {
	n := q.store.IntSetting(ctx, config.SettingMaxConcurrent, q.cfg.Queue.MaxConcurrent)
	if n < 1 {
		return 1
	}
	return n
}
