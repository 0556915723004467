package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"forge/internal/broadcast"
	"forge/internal/jobconfig"
	"forge/internal/jobs"
	"forge/internal/logging"
	"forge/internal/notifications"
	"forge/internal/services"
	"forge/internal/worker"
	"forge/internal/workspace"
)

const notifyTimeout = 30 * time.Second

// run is one pass through a job's stage chain.
type run struct {
	o   *Orchestrator
	h   *handle
	ctx context.Context
	// dbCtx outlives cancellation so a stopped run can still record its
	// final state.
	dbCtx    context.Context
	job      *jobs.Job
	req      StartRequest
	ws       workspace.Workspace
	settings runtimeSettings
	doc      *jobconfig.Document
	logger   *slog.Logger
}

func (o *Orchestrator) newRun(ctx context.Context, h *handle, job *jobs.Job, req StartRequest) *run {
	ctx = services.WithJobID(ctx, job.ID)
	r := &run{
		o:      o,
		h:      h,
		ctx:    ctx,
		dbCtx:  context.WithoutCancel(ctx),
		job:    job,
		req:    req,
		ws:     o.workspaceFor(job.ID),
		logger: logging.WithContext(ctx, o.logger),
	}
	r.settings = o.loadSettings(r.dbCtx)
	return r
}

func (r *run) execute() {
	r.logger.Info("job run started",
		logging.String("mode", string(r.req.Mode)),
		logging.String(logging.FieldEventType, "job_started"),
	)
	var (
		res worker.Result
		err error
	)
	if r.req.Mode == ModeResolve {
		res, err = r.resolve()
	} else {
		r.loadDocument()
		r.preScrape()
		r.discoverBaseline()
		r.preprocess()
		if err = r.ctx.Err(); err == nil {
			res, err = r.build()
		}
	}
	r.finish(res, err)
}

func (r *run) loadDocument() {
	doc, err := jobconfig.Load(r.ws.ConfigPath())
	if err != nil {
		logging.WarnWithContext(r.logger, "job config unreadable, skipping preparation stages", "job_config_invalid",
			logging.Error(err),
			logging.String(logging.FieldImpact, "baseline and preprocessing stages are skipped"),
		)
		r.doc = jobconfig.New()
		return
	}
	r.doc = doc
}

// saveDocument writes config changes back to the workspace and the job row.
func (r *run) saveDocument() {
	if err := r.doc.Save(r.ws.ConfigPath()); err != nil {
		logging.WarnWithContext(r.logger, "write job config failed", "job_config_write_failed", logging.Error(err))
		return
	}
	data, err := r.doc.Bytes()
	if err != nil {
		return
	}
	r.update(jobs.Patch{ConfigYAML: jobs.Ptr(string(data))})
}

// runWorker executes one worker invocation as the named stage.
func (r *run) runWorker(stage string, cmd worker.Command, onLine func(worker.Line)) (worker.Result, error) {
	r.h.setStage(stage)
	cmd.Name = stage
	cmd.OnStart = r.h.setPID
	if cmd.Dir == "" {
		cmd.Dir = r.ws.Dir()
	}
	r.logger.Info("starting worker",
		logging.String(logging.FieldStage, stage),
		logging.String("command", worker.Quote(cmd.Binary, cmd.Args, "--api-key")),
		logging.Duration("timeout", cmd.Timeout),
		logging.String(logging.FieldEventType, "worker_start"),
	)
	return r.o.executor.Run(services.WithStage(r.ctx, stage), cmd, onLine)
}

func (r *run) update(patch jobs.Patch) {
	if err := r.o.store.Update(r.dbCtx, r.job.ID, patch); err != nil {
		logging.WarnWithContext(r.logger, "persist job update failed", "job_update_failed", logging.Error(err))
	}
}

func (r *run) reload() *jobs.Job {
	job, err := r.o.store.Get(r.dbCtx, r.job.ID)
	if err != nil || job == nil {
		return r.job
	}
	return job
}

// finish records the terminal state of the run, then releases the process
// table entry and lets admission fill the slot. A job that leaves the table is
// never observed as running in the store.
func (r *run) finish(res worker.Result, runErr error) {
	switch reason := r.h.stopReason(); {
	case reason != "":
		r.finishStopped(reason)
	case runErr != nil && errors.Is(runErr, services.ErrSpawn):
		r.finishSpawnError(runErr)
	case runErr != nil:
		r.finishFailed(runErr.Error(), nil)
	case res.Success() && r.h.isPaused():
		r.log(jobs.LevelInfo, "", "Worker exited while awaiting conflict review")
	case res.Success():
		r.finishCompleted()
	default:
		message := res.Err().Error()
		if r.req.Mode == ModeResolve {
			message = fmt.Sprintf("Resolve exited with code %d", res.ExitCode)
		}
		r.finishFailed(message, jobs.Ptr(res.ExitCode))
	}
	r.logger.Info("job run finished",
		logging.String(logging.FieldEventType, "job_finished"),
		logging.Duration("elapsed", time.Since(r.h.startedAt)),
	)
	r.o.release(r.h)
	r.o.finished()
}

func (r *run) finishStopped(reason string) {
	now := time.Now().UTC()
	r.update(jobs.Patch{
		Status:       jobs.Ptr(jobs.StatusFailed),
		ErrorMessage: jobs.Ptr(reason),
		CompletedAt:  &now,
	})
	r.log(jobs.LevelWarn, "", reason)
	completeReason := broadcast.ReasonStoppedByUser
	if reason == jobs.DaemonStopReason {
		completeReason = broadcast.ReasonDaemonStopped
	}
	r.publish(broadcast.EventComplete, broadcast.CompletePayload{
		Status:      string(jobs.StatusFailed),
		CompletedAt: now,
		Reason:      completeReason,
	})
}

func (r *run) finishSpawnError(err error) {
	cause := errors.UnwrapAll(err).Error()
	message := "Spawn error: " + cause
	logMessage := "Failed to start build: " + cause
	if r.req.Mode == ModeResolve {
		logMessage = "Failed to resume: " + cause
	}
	now := time.Now().UTC()
	r.update(jobs.Patch{
		Status:       jobs.Ptr(jobs.StatusFailed),
		ErrorMessage: jobs.Ptr(message),
		CompletedAt:  &now,
	})
	logging.ErrorWithContext(r.logger, "worker failed to start", "worker_spawn_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, services.Hint(err)),
	)
	r.log(jobs.LevelError, "", logMessage)
	r.publish(broadcast.EventError, broadcast.ErrorPayload{Message: message, Retryable: true, Terminal: true})
	r.notify(notifications.EventJobFailed)
}

func (r *run) finishFailed(message string, exitCode *int) {
	now := time.Now().UTC()
	r.update(jobs.Patch{
		Status:       jobs.Ptr(jobs.StatusFailed),
		ErrorMessage: jobs.Ptr(message),
		CompletedAt:  &now,
	})
	logMessage := "Build failed after conflict resolution"
	if r.req.Mode == ModeBuild {
		code := -1
		if exitCode != nil {
			code = *exitCode
		}
		logMessage = fmt.Sprintf("Build failed (exit code: %d)", code)
	}
	r.log(jobs.LevelError, "", logMessage)
	r.publish(broadcast.EventComplete, broadcast.CompletePayload{
		Status:      string(jobs.StatusFailed),
		CompletedAt: now,
		ExitCode:    exitCode,
	})
	r.notify(notifications.EventJobFailed)
}

func (r *run) finishCompleted() {
	now := time.Now().UTC()
	r.update(jobs.Patch{
		Status:       jobs.Ptr(jobs.StatusCompleted),
		CompletedAt:  &now,
		ErrorMessage: jobs.Ptr(""),
	})
	message := "Build completed"
	if r.req.Mode == ModeResolve {
		message = "Build completed after conflict resolution"
	}
	r.log(jobs.LevelInfo, "", message)
	job := r.reload()
	r.publish(broadcast.EventComplete, broadcast.CompletePayload{
		Status:       string(jobs.StatusCompleted),
		QualityScore: job.QualityScore,
		PackagePath:  job.PackagePath,
		CompletedAt:  now,
	})
	r.notify(notifications.EventJobCompleted)
}

// notify sends a job notification without blocking the chain.
func (r *run) notify(event notifications.Event) {
	if r.o.notifier == nil {
		return
	}
	payload := notifications.JobPayload(r.reload())
	ctx, cancel := context.WithTimeout(r.dbCtx, notifyTimeout)
	go func() {
		defer cancel()
		if err := r.o.notifier.Publish(ctx, event, payload); err != nil {
			logging.WarnWithContext(r.logger, "notification failed", "notification_failed",
				logging.String("event", string(event)),
				logging.Error(err),
			)
		}
	}()
}
