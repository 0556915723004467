package orchestrator

import (
	"time"

	"forge/internal/broadcast"
	"forge/internal/jobs"
	"forge/internal/logging"
	"forge/internal/notifications"
	"forge/internal/worker"
)

func (r *run) publish(event string, payload any) {
	r.o.hub.Publish(r.job.ID, event, payload)
}

// persist appends a job log entry. A store failure is logged and the entry
// is returned without a sequence number.
func (r *run) persist(entry jobs.LogEntry) jobs.LogEntry {
	entry.JobID = r.job.ID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	stored, err := r.o.store.AppendLog(r.dbCtx, entry)
	if err != nil {
		logging.WarnWithContext(r.logger, "persist job log failed", "job_log_failed", logging.Error(err))
		return entry
	}
	return stored
}

func logPayload(entry jobs.LogEntry) broadcast.LogPayload {
	return broadcast.LogPayload{
		ID:        entry.Seq,
		Level:     string(entry.Level),
		Phase:     entry.Phase,
		Message:   entry.Message,
		Timestamp: entry.Timestamp,
	}
}

// log persists a job log line and publishes it as a log event.
func (r *run) log(level jobs.LogLevel, phase, message string) {
	entry := r.persist(jobs.LogEntry{Level: level, Phase: phase, Message: message})
	r.publish(broadcast.EventLog, logPayload(entry))
}

func (r *run) preStep(id, label, status string) {
	r.publish(broadcast.EventPreStep, broadcast.PreStepPayload{ID: id, Label: label, Status: status})
}

// debugLine records tool output that is only interesting when diagnosing.
func (r *run) debugLine(line worker.Line) {
	if line.Text == "" {
		return
	}
	r.log(jobs.LevelDebug, "", line.Text)
}

// pipelineLine dispatches build and resolve worker output.
func (r *run) pipelineLine(line worker.Line) {
	if line.Text == "" {
		return
	}
	if line.Stream == worker.Stderr {
		r.log(worker.ClassifyStderr(line.Text, r.o.cfg.Worker.BenignStderrPatterns), "", line.Text)
		return
	}
	r.handleRecord(worker.ParseLine(line.Text))
}

// handleRecord persists one log entry for the record, applies its effect on
// the job row and publishes one event named after the record kind.
func (r *run) handleRecord(rec worker.Record) {
	f := rec.Fields()
	entry := r.persist(jobs.LogEntry{Level: f.Level, Phase: f.Phase, Message: f.Message, Metadata: f.Raw})
	now := entry.Timestamp

	switch v := rec.(type) {
	case *worker.PhaseRecord:
		if v.Phase != "" {
			r.update(jobs.Patch{CurrentPhase: jobs.Ptr(v.Phase), PhaseProgress: jobs.Ptr(v.Progress)})
		}
		name := v.Name
		if name == "" {
			name = jobs.PhaseName(v.Phase)
		}
		r.publish(broadcast.EventPhase, broadcast.PhasePayload{
			Phase:     v.Phase,
			Name:      name,
			Status:    v.Status,
			Progress:  v.Progress,
			Timestamp: now,
		})
	case *worker.QualityRecord:
		r.update(jobs.Patch{
			QualityScore:      v.QualityScore,
			AtomsExtracted:    v.AtomsExtracted,
			AtomsDeduplicated: v.AtomsDeduplicated,
			AtomsVerified:     v.AtomsVerified,
			CompressionRatio:  v.CompressionRatio,
		})
		r.publish(broadcast.EventQuality, broadcast.QualityPayload{
			Phase:             v.Phase,
			Score:             v.Score,
			Pass:              v.Pass,
			AtomsCount:        v.AtomsCount,
			QualityScore:      v.QualityScore,
			AtomsExtracted:    v.AtomsExtracted,
			AtomsDeduplicated: v.AtomsDeduplicated,
			AtomsVerified:     v.AtomsVerified,
			Timestamp:         now,
		})
	case *worker.CostRecord:
		r.update(jobs.Patch{APICostUSD: v.APICostUSD, TokensUsed: jobs.Ptr(v.TokensUsed)})
		payload := broadcast.CostPayload{TokensUsed: v.TokensUsed, Timestamp: now}
		if v.APICostUSD != nil {
			payload.APICostUSD = *v.APICostUSD
		}
		r.publish(broadcast.EventCost, payload)
	case *worker.ConflictRecord:
		if n := v.Unresolved(); n > 0 {
			r.pause(v, n)
		}
		r.publish(broadcast.EventConflict, broadcast.ConflictPayload{
			Count:     v.Count,
			Conflicts: v.Conflicts,
			Raw:       v.Raw,
		})
	case *worker.PackageRecord:
		if v.Path != "" {
			patch := jobs.Patch{PackagePath: jobs.Ptr(v.Path)}
			if v.OutputDir != "" {
				patch.OutputPath = jobs.Ptr(v.OutputDir)
			}
			r.update(patch)
		}
		r.publish(broadcast.EventPackage, broadcast.PackagePayload{
			Path:      v.Path,
			OutputDir: v.OutputDir,
			Timestamp: now,
		})
	case *worker.ErrorRecord:
		r.publish(broadcast.EventError, broadcast.ErrorPayload{Message: v.Message, Retryable: v.Retryable})
	default:
		r.publish(broadcast.EventLog, logPayload(entry))
	}
}

// pause parks the job for human review. The worker keeps running; its exit
// no longer completes the job.
func (r *run) pause(rec *worker.ConflictRecord, unresolved int) {
	data := rec.Conflicts
	if len(data) == 0 {
		data = rec.Raw
	}
	r.update(jobs.Patch{
		Status:       jobs.Ptr(jobs.StatusPaused),
		ReviewStatus: jobs.Ptr(jobs.ReviewPending),
		ReviewData:   jobs.Ptr(string(data)),
	})
	r.h.markPaused()
	r.logger.Info("job paused for conflict review",
		logging.Int("unresolved", unresolved),
		logging.String(logging.FieldEventType, "job_paused"),
	)
	r.notify(notifications.EventJobPaused)
}
