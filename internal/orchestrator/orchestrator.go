package orchestrator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"forge/internal/broadcast"
	"forge/internal/config"
	"forge/internal/jobs"
	"forge/internal/logging"
	"forge/internal/notifications"
	"forge/internal/services"
	"forge/internal/worker"
	"forge/internal/workspace"
)

// Mode selects which final stage a run executes.
type Mode string

const (
	// ModeBuild runs the full chain ending in the main pipeline.
	ModeBuild Mode = "build"
	// ModeResolve runs only the resolve worker for a paused job.
	ModeResolve Mode = "resolve"
)

// StartRequest describes a run handed over by admission.
type StartRequest struct {
	JobID           string
	Mode            Mode
	ResolutionsPath string
}

// RunningJob is a snapshot of one entry of the process table.
type RunningJob struct {
	JobID     string    `json:"job_id"`
	Mode      Mode      `json:"mode"`
	Stage     string    `json:"stage"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Orchestrator owns the process table and the per-job stage chains.
type Orchestrator struct {
	cfg      *config.Config
	store    *jobs.Store
	hub      *broadcast.Hub
	executor worker.Executor
	notifier notifications.Service
	logger   *slog.Logger

	baseCtx    context.Context
	cancelAll  context.CancelFunc
	mu         sync.Mutex
	procs      map[string]*handle
	closing    bool
	onFinished func()
	wg         sync.WaitGroup
}

type handle struct {
	jobID     string
	mode      Mode
	startedAt time.Time
	cancel    context.CancelFunc

	mu     sync.Mutex
	stage  string
	pid    int
	reason string
	paused bool
}

func (h *handle) setStage(stage string) {
	h.mu.Lock()
	h.stage = stage
	h.pid = 0
	h.mu.Unlock()
}

func (h *handle) setPID(pid int) {
	h.mu.Lock()
	h.pid = pid
	h.mu.Unlock()
}

func (h *handle) stopReason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason
}

func (h *handle) requestStop(reason string) {
	h.mu.Lock()
	if h.reason == "" {
		h.reason = reason
	}
	h.mu.Unlock()
	h.cancel()
}

func (h *handle) markPaused() {
	h.mu.Lock()
	h.paused = true
	h.mu.Unlock()
}

func (h *handle) isPaused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

// New constructs an orchestrator. A nil notifier disables notifications.
func New(cfg *config.Config, store *jobs.Store, hub *broadcast.Hub, executor worker.Executor, notifier notifications.Service, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		hub:       hub,
		executor:  executor,
		notifier:  notifier,
		logger:    logging.NewComponentLogger(logger, "orchestrator"),
		baseCtx:   ctx,
		cancelAll: cancel,
		procs:     make(map[string]*handle),
	}
}

// SetOnFinished registers the callback invoked after a run records its
// terminal state and leaves the process table. Admission uses it to start waiting jobs.
func (o *Orchestrator) SetOnFinished(fn func()) {
	o.mu.Lock()
	o.onFinished = fn
	o.mu.Unlock()
}

// Start registers the job in the process table and launches its stage chain.
// It returns once the job is marked running. After Shutdown begins it refuses
// every job with ErrStopped.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) error {
	if req.Mode == "" {
		req.Mode = ModeBuild
	}
	job, err := o.store.Get(ctx, req.JobID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "orchestrator", "load job", req.JobID, err)
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, "orchestrator", "start", "job "+req.JobID, nil)
	}
	switch req.Mode {
	case ModeBuild:
		if job.Status != jobs.StatusPending && job.Status != jobs.StatusQueued {
			return services.Wrap(services.ErrInvalidState, "orchestrator", "start", "job is "+string(job.Status), nil)
		}
	case ModeResolve:
		if job.Status != jobs.StatusPaused && job.Status != jobs.StatusQueued {
			return services.Wrap(services.ErrInvalidState, "orchestrator", "resume", "job is "+string(job.Status), nil)
		}
		if req.ResolutionsPath == "" {
			return services.Wrap(services.ErrValidation, "orchestrator", "resume", "resolutions path is required", nil)
		}
	default:
		return services.Wrap(services.ErrValidation, "orchestrator", "start", "unknown mode "+string(req.Mode), nil)
	}

	runCtx, cancel := context.WithCancel(o.baseCtx)
	h := &handle{jobID: job.ID, mode: req.Mode, startedAt: time.Now(), cancel: cancel}

	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		cancel()
		return services.Wrap(services.ErrStopped, "orchestrator", "start", "daemon is shutting down", nil)
	}
	if _, exists := o.procs[job.ID]; exists {
		o.mu.Unlock()
		cancel()
		return services.Wrap(services.ErrInvalidState, "orchestrator", "start", "job is already running", nil)
	}
	o.procs[job.ID] = h
	o.wg.Add(1)
	o.mu.Unlock()

	patch := jobs.Patch{Status: jobs.Ptr(jobs.StatusRunning)}
	if req.Mode == ModeBuild {
		now := time.Now().UTC()
		patch.StartedAt = &now
		patch.PhaseProgress = jobs.Ptr(0)
	} else {
		patch.ReviewStatus = jobs.Ptr(jobs.ReviewCompleted)
	}
	if err := o.store.Update(ctx, job.ID, patch); err != nil {
		o.release(h)
		o.wg.Done()
		cancel()
		return services.Wrap(services.ErrTransient, "orchestrator", "mark running", job.ID, err)
	}
	job.Status = jobs.StatusRunning

	r := o.newRun(runCtx, h, job, req)
	go func() {
		defer o.wg.Done()
		r.execute()
	}()
	return nil
}

// Stop requests termination of a running job. It returns false when the job
// has no entry in the process table.
func (o *Orchestrator) Stop(jobID string) bool {
	return o.stopWithReason(jobID, jobs.UserStopReason)
}

func (o *Orchestrator) stopWithReason(jobID, reason string) bool {
	o.mu.Lock()
	h, ok := o.procs[jobID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	o.logger.Info("stopping job",
		logging.Job(jobID),
		logging.String("reason", reason),
		logging.String(logging.FieldEventType, "job_stop_requested"),
	)
	h.requestStop(reason)
	return true
}

// IsRunning reports whether the job has an entry in the process table.
func (o *Orchestrator) IsRunning(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.procs[jobID]
	return ok
}

// RunningCount returns the size of the process table.
func (o *Orchestrator) RunningCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.procs)
}

// RunningJobIDs lists running job ids in sorted order.
func (o *Orchestrator) RunningJobIDs() []string {
	o.mu.Lock()
	ids := make([]string, 0, len(o.procs))
	for id := range o.procs {
		ids = append(ids, id)
	}
	o.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Running returns a snapshot of the process table ordered by start time.
func (o *Orchestrator) Running() []RunningJob {
	o.mu.Lock()
	out := make([]RunningJob, 0, len(o.procs))
	for _, h := range o.procs {
		h.mu.Lock()
		out = append(out, RunningJob{JobID: h.jobID, Mode: h.mode, Stage: h.stage, PID: h.pid, StartedAt: h.startedAt})
		h.mu.Unlock()
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Shutdown stops every running job and waits for their chains to record a
// terminal state or the context to expire. No job starts once it is called, so
// slots freed by stopped jobs leave queued jobs waiting.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()
	for _, id := range o.RunningJobIDs() {
		o.stopWithReason(id, jobs.DaemonStopReason)
	}
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.cancelAll()
		return nil
	case <-ctx.Done():
		o.cancelAll()
		return ctx.Err()
	}
}

// release removes the handle and reports whether it was still registered.
func (o *Orchestrator) release(h *handle) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if current, ok := o.procs[h.jobID]; ok && current == h {
		delete(o.procs, h.jobID)
		return true
	}
	return false
}

func (o *Orchestrator) finished() {
	o.mu.Lock()
	fn := o.onFinished
	o.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (o *Orchestrator) workspaceFor(jobID string) workspace.Workspace {
	return workspace.For(o.cfg.Paths.JobsDir, jobID)
}
