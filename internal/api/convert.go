package api

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"forge/internal/cleanup"
	"forge/internal/jobs"
	"forge/internal/logging"
	"forge/internal/workspace"
)

// FromJob converts a job record to its API representation. The config body
// is only included when withConfig is set.
func FromJob(job *jobs.Job, withConfig bool) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:                job.ID,
		Name:              job.Name,
		Domain:            job.Domain,
		Status:            string(job.Status),
		CurrentPhase:      job.CurrentPhase,
		PhaseProgress:     job.PhaseProgress,
		TemplateID:        job.TemplateID,
		QualityScore:      job.QualityScore,
		AtomsExtracted:    job.AtomsExtracted,
		AtomsDeduplicated: job.AtomsDeduplicated,
		AtomsVerified:     job.AtomsVerified,
		CompressionRatio:  job.CompressionRatio,
		APICostUSD:        job.APICostUSD,
		TokensUsed:        job.TokensUsed,
		OutputPath:        job.OutputPath,
		PackagePath:       job.PackagePath,
		CreatedBy:         job.CreatedBy,
		CreatedAt:         formatTime(job.CreatedAt),
		StartedAt:         formatTimePtr(job.StartedAt),
		CompletedAt:       formatTimePtr(job.CompletedAt),
		ErrorMessage:      job.ErrorMessage,
		ReviewStatus:      string(job.ReviewStatus),
	}
	if job.CurrentPhase != "" {
		dto.PhaseName = jobs.PhaseName(job.CurrentPhase)
	}
	if withConfig {
		dto.ConfigYAML = job.ConfigYAML
	}
	return dto
}

// FromJobs converts a slice of job records.
func FromJobs(list []*jobs.Job) []Job {
	out := make([]Job, 0, len(list))
	for _, job := range list {
		out = append(out, FromJob(job, false))
	}
	return out
}

// FromLogEntries converts persisted log lines and returns the next cursor.
func FromLogEntries(entries []jobs.LogEntry, since int64) ([]LogEntry, int64) {
	next := since
	out := make([]LogEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, LogEntry{
			ID:        e.Seq,
			Timestamp: formatTime(e.Timestamp),
			Level:     string(e.Level),
			Phase:     e.Phase,
			Message:   e.Message,
			Metadata:  e.Metadata,
		})
		if e.Seq > next {
			next = e.Seq
		}
	}
	return out, next
}

// FromSettings converts the settings table, masking sensitive values.
func FromSettings(settings []jobs.Setting, sensitive map[string]bool) []Setting {
	out := make([]Setting, 0, len(settings))
	for _, s := range settings {
		dto := Setting{
			Key:         s.Key,
			Value:       s.Value,
			Description: s.Description,
			UpdatedAt:   formatTime(s.UpdatedAt),
		}
		if sensitive[s.Key] {
			dto.Sensitive = true
			dto.Value = MaskSecret(s.Value)
		}
		out = append(out, dto)
	}
	return out
}

// MaskSecret keeps the last four characters of long secrets.
func MaskSecret(value string) string {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return ""
	case len(value) <= 8:
		return "****"
	default:
		return "****" + value[len(value)-4:]
	}
}

// FromStats converts store aggregates.
func FromStats(stats jobs.Stats) StatsResponse {
	byStatus := make(map[string]int, len(stats.ByStatus))
	for status, count := range stats.ByStatus {
		byStatus[string(status)] = count
	}
	return StatsResponse{
		Total:       stats.Total,
		ByStatus:    byStatus,
		AvgQuality:  stats.AvgQuality,
		TotalAtoms:  stats.TotalAtoms,
		TotalCost:   stats.TotalCost,
		TotalTokens: stats.TotalTokens,
	}
}

// FromCleanup converts a cleanup pass result.
func FromCleanup(res cleanup.Result) CleanupResponse {
	deleted := res.DeletedJobs
	if deleted == nil {
		deleted = []string{}
	}
	return CleanupResponse{
		DeletedJobs:    deleted,
		FreedBytes:     res.FreedBytes,
		RemovedUploads: res.RemovedUploads,
		Errors:         res.Errors,
	}
}

// FromUploadBatch converts a stored upload batch. Server paths are not
// exposed beyond the batch directory handle.
func FromUploadBatch(batch *workspace.UploadBatch) UploadResponse {
	if batch == nil {
		return UploadResponse{}
	}
	files := make([]UploadedFile, 0, len(batch.Files))
	for _, f := range batch.Files {
		files = append(files, UploadedFile{Name: f.Name, Size: f.Size, Type: f.Type})
	}
	return UploadResponse{UploadDir: batch.Dir, Files: files, TotalSize: batch.TotalSize}
}

// FromLogEvents converts daemon log events.
func FromLogEvents(events []logging.LogEvent) []LogEvent {
	out := make([]LogEvent, 0, len(events))
	for _, evt := range events {
		out = append(out, LogEvent{
			Sequence:  evt.Sequence,
			Timestamp: formatTime(evt.Timestamp),
			Level:     evt.Level,
			Message:   evt.Message,
			Component: evt.Component,
			Stage:     evt.Stage,
			JobID:     evt.JobID,
			Fields:    evt.Fields,
		})
	}
	return out
}

// StatusCounts returns status names in a stable display order.
func StatusCounts(byStatus map[string]int) []string {
	keys := make([]string, 0, len(byStatus))
	for k := range byStatus {
		keys = append(keys, k)
	}
	order := map[string]int{}
	for i, s := range jobs.AllStatuses() {
		order[string(s)] = i
	}
	sort.SliceStable(keys, func(i, j int) bool {
		oi, iok := order[keys[i]]
		oj, jok := order[keys[j]]
		if iok != jok {
			return iok
		}
		if oi != oj {
			return oi < oj
		}
		return keys[i] < keys[j]
	})
	return keys
}

// EncodeStreamMessage frames a broadcast event for the websocket.
func EncodeStreamMessage(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(StreamMessage{Event: event, Data: data})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
