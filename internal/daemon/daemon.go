package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"forge/internal/admission"
	"forge/internal/api"
	"forge/internal/broadcast"
	"forge/internal/cleanup"
	"forge/internal/config"
	"forge/internal/jobs"
	"forge/internal/logging"
	"forge/internal/notifications"
	"forge/internal/orchestrator"
	"forge/internal/preflight"
	"forge/internal/procstat"
	"forge/internal/workspace"
)

// shutdownTimeout bounds how long Stop waits for running jobs to record
// their final state.
const shutdownTimeout = 30 * time.Second

// Options carries the collaborators the daemon coordinates.
type Options struct {
	Config       *config.Config
	Store        *jobs.Store
	Hub          *broadcast.Hub
	Orchestrator *orchestrator.Orchestrator
	Queue        *admission.Queue
	Cleanup      *cleanup.Service
	Notifier     notifications.Service
	Logger       *slog.Logger
	LogHub       *logging.StreamHub
	LogArchive   *logging.EventArchive
}

// Daemon coordinates the job services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *jobs.Store
	hub      *broadcast.Hub
	orch     *orchestrator.Orchestrator
	queue    *admission.Queue
	cleaner  *cleanup.Service
	notifier notifications.Service
	logHub   *logging.StreamHub
	archive  *logging.EventArchive
	uploads  *workspace.Uploads
	schemas  *schemas

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	bg      sync.WaitGroup
	server  *apiServer
}

// New constructs a daemon with initialized dependencies.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil || opts.Store == nil || opts.Orchestrator == nil || opts.Queue == nil {
		return nil, errors.New("daemon requires config, store, orchestrator, and queue")
	}
	compiled, err := compileSchemas()
	if err != nil {
		return nil, fmt.Errorf("compile request schemas: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(opts.Config, logger)
	}
	cleaner := opts.Cleanup
	if cleaner == nil {
		cleaner = cleanup.New(opts.Config, opts.Store, logger)
	}
	d := &Daemon{
		cfg:      opts.Config,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    opts.Store,
		hub:      opts.Hub,
		orch:     opts.Orchestrator,
		queue:    opts.Queue,
		cleaner:  cleaner,
		notifier: notifier,
		logHub:   opts.LogHub,
		archive:  opts.LogArchive,
		uploads:  workspace.NewUploads(opts.Config.UploadsDir()),
		schemas:  compiled,
		lockPath: opts.Config.LockPath(),
		lock:     flock.New(opts.Config.LockPath()),
	}
	d.server = newAPIServer(opts.Config, d, logger)
	return d, nil
}

// Start acquires the daemon lock, recovers jobs orphaned by a previous
// process, and launches the API server and cleanup loop.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another forge daemon instance is already running")
	}

	reset, err := d.store.ResetInterrupted(ctx)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("reset interrupted jobs: %w", err)
	}
	if reset > 0 {
		logging.WarnWithContext(d.logger, "marked interrupted jobs as failed", "jobs_interrupted",
			logging.Int64("jobs", reset),
			logging.String(logging.FieldImpact, "interrupted jobs must be retried"),
		)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.server.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel
	d.bg.Add(1)
	go func() {
		defer d.bg.Done()
		d.cleaner.Loop(runCtx)
	}()

	d.running.Store(true)
	d.logger.Info("forge daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.server.address()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop stops running jobs, the API server and background loops, then
// releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.orch.Shutdown(shutdownCtx); err != nil {
		logging.WarnWithContext(d.logger, "running jobs did not stop in time", "daemon_shutdown_timeout",
			logging.Error(err),
			logging.String(logging.FieldImpact, "jobs are marked failed on next start"),
		)
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.server.stop()
	d.bg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("forge daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.archive != nil {
		_ = d.archive.Close()
	}
	return nil
}

// Addr returns the API listener address once started.
func (d *Daemon) Addr() string {
	return d.server.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	running := d.orch.Running()
	pids := make([]int, 0, len(running))
	for _, r := range running {
		if r.PID > 0 {
			pids = append(pids, r.PID)
		}
	}
	samples := procstat.SampleAll(ctx, pids)

	runningJobs := make([]api.RunningJob, 0, len(running))
	for _, r := range running {
		entry := api.RunningJob{
			JobID:     r.JobID,
			Mode:      string(r.Mode),
			Stage:     r.Stage,
			PID:       r.PID,
			StartedAt: r.StartedAt.UTC().Format(time.RFC3339),
		}
		if usage, ok := samples[r.PID]; ok {
			u := usage
			entry.Usage = &u
		}
		runningJobs = append(runningJobs, entry)
	}

	tc := d.toolchain(ctx)
	status := api.DaemonStatus{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		DatabasePath:  d.store.Path(),
		LockFilePath:  d.lockPath,
		MaxConcurrent: d.store.IntSetting(ctx, config.SettingMaxConcurrent, d.cfg.Queue.MaxConcurrent),
		RunningJobs:   runningJobs,
		Queue:         d.queue.Waiting(),
		Dependencies:  preflight.CheckSystemDeps(tc),
		Checks:        preflight.RunAll(d.cfg, d.setting(ctx, config.SettingClaudeAPIKey, d.cfg.Discovery.APIKey)),
	}
	if health, err := d.store.CheckHealth(ctx); err == nil {
		status.Database = &health
	}
	return status
}

// toolchain resolves the worker toolchain with runtime settings applied.
func (d *Daemon) toolchain(ctx context.Context) preflight.Toolchain {
	tc := preflight.ToolchainFromConfig(d.cfg)
	tc.Python = d.setting(ctx, config.SettingPythonPath, tc.Python)
	tc.PipelineDir = d.setting(ctx, config.SettingPipelinePath, tc.PipelineDir)
	return tc
}

func (d *Daemon) setting(ctx context.Context, key, fallback string) string {
	value, ok, err := d.store.GetSetting(ctx, key)
	if err != nil || !ok || value == "" {
		return fallback
	}
	return value
}

// LogDependencySnapshot records toolchain and preflight results at startup.
func (d *Daemon) LogDependencySnapshot(ctx context.Context) {
	for _, dep := range preflight.CheckSystemDeps(d.toolchain(ctx)) {
		attrs := []logging.Attr{
			logging.String("dependency", dep.Name),
			logging.String("command", dep.Command),
			logging.Bool("available", dep.Available),
			logging.String(logging.FieldEventType, "dependency_snapshot"),
		}
		if dep.Available || dep.Optional {
			d.logger.Info("dependency snapshot", logging.Args(attrs...)...)
			continue
		}
		attrs = append(attrs, logging.String("detail", dep.Detail))
		logging.WarnWithContext(d.logger, "required dependency missing", "dependency_missing",
			append(attrs, logging.String(logging.FieldImpact, "jobs will fail to spawn workers"))...)
	}
	for _, check := range preflight.Failed(preflight.RunAll(d.cfg, d.setting(ctx, config.SettingClaudeAPIKey, d.cfg.Discovery.APIKey))) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
		)
	}
}
