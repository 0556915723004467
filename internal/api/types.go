package api

import (
	"encoding/json"

	"forge/internal/deps"
	"forge/internal/jobs"
	"forge/internal/preflight"
	"forge/internal/procstat"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a build job in a transport-friendly format.
type Job struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Domain            string   `json:"domain"`
	Status            string   `json:"status"`
	CurrentPhase      string   `json:"current_phase,omitempty"`
	PhaseName         string   `json:"phase_name,omitempty"`
	PhaseProgress     int      `json:"phase_progress"`
	ConfigYAML        string   `json:"config_yaml,omitempty"`
	TemplateID        string   `json:"template_id,omitempty"`
	QualityScore      *float64 `json:"quality_score"`
	AtomsExtracted    *int     `json:"atoms_extracted"`
	AtomsDeduplicated *int     `json:"atoms_deduplicated"`
	AtomsVerified     *int     `json:"atoms_verified"`
	CompressionRatio  *float64 `json:"compression_ratio"`
	APICostUSD        float64  `json:"api_cost_usd"`
	TokensUsed        int64    `json:"tokens_used"`
	OutputPath        string   `json:"output_path,omitempty"`
	PackagePath       string   `json:"package_path,omitempty"`
	CreatedBy         string   `json:"created_by,omitempty"`
	CreatedAt         string   `json:"created_at,omitempty"`
	StartedAt         string   `json:"started_at,omitempty"`
	CompletedAt       string   `json:"completed_at,omitempty"`
	ErrorMessage      string   `json:"error_message,omitempty"`
	ReviewStatus      string   `json:"review_status,omitempty"`
	QueuePosition     int      `json:"queue_position,omitempty"`
	Stage             string   `json:"stage,omitempty"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// SubmitRequest creates a job. Inputs are absolute daemon-side paths under
// the uploads directory or a configured input root; UploadDir names a batch
// returned by POST /api/uploads.
type SubmitRequest struct {
	Name       string   `json:"name"`
	Domain     string   `json:"domain,omitempty"`
	ConfigYAML string   `json:"config_yaml,omitempty"`
	TemplateID string   `json:"template_id,omitempty"`
	CreatedBy  string   `json:"created_by,omitempty"`
	Inputs     []string `json:"inputs,omitempty"`
	UploadDir  string   `json:"upload_dir,omitempty"`
}

// SubmitResponse reports where an admitted job landed.
type SubmitResponse struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Position int    `json:"position"`
}

// StopResponse reports how a stop request was applied.
type StopResponse struct {
	JobID  string `json:"job_id"`
	Action string `json:"action"`
}

// Stop actions.
const (
	StopActionStopped = "stopped"
	StopActionRemoved = "removed_from_queue"
)

// ReviewResponse carries the conflicts awaiting review.
type ReviewResponse struct {
	JobID        string          `json:"job_id"`
	Status       string          `json:"status"`
	ReviewStatus string          `json:"review_status"`
	ReviewData   json.RawMessage `json:"review_data,omitempty"`
}

// ResumeRequest submits conflict resolutions for a paused job.
type ResumeRequest struct {
	Resolutions json.RawMessage `json:"resolutions"`
}

// LogEntry is one persisted job log line.
type LogEntry struct {
	ID        int64           `json:"id"`
	Timestamp string          `json:"timestamp"`
	Level     string          `json:"level"`
	Phase     string          `json:"phase,omitempty"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// JobLogsResponse wraps job log entries. Next is the cursor for the
// following request.
type JobLogsResponse struct {
	Logs []LogEntry `json:"logs"`
	Next int64      `json:"next"`
}

// Setting is a runtime setting with sensitive values masked.
type Setting struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
	Sensitive   bool   `json:"sensitive,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// SettingsResponse wraps the settings table.
type SettingsResponse struct {
	Settings []Setting `json:"settings"`
}

// SettingsUpdate maps keys to new values.
type SettingsUpdate map[string]string

// RunningJob is one entry of the process table.
type RunningJob struct {
	JobID     string          `json:"job_id"`
	Mode      string          `json:"mode"`
	Stage     string          `json:"stage"`
	PID       int             `json:"pid,omitempty"`
	StartedAt string          `json:"started_at"`
	Usage     *procstat.Usage `json:"usage,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running       bool                 `json:"running"`
	PID           int                  `json:"pid"`
	DatabasePath  string               `json:"database_path"`
	LockFilePath  string               `json:"lock_file_path"`
	MaxConcurrent int                  `json:"max_concurrent"`
	RunningJobs   []RunningJob         `json:"running_jobs"`
	Queue         []string             `json:"queue"`
	Dependencies  []deps.Status        `json:"dependencies"`
	Checks        []preflight.Result   `json:"checks"`
	Database      *jobs.DatabaseHealth `json:"database,omitempty"`
}

// StatsResponse aggregates the job table.
type StatsResponse struct {
	Total       int            `json:"total_jobs"`
	ByStatus    map[string]int `json:"by_status"`
	AvgQuality  *float64       `json:"avg_quality"`
	TotalAtoms  int64          `json:"total_atoms"`
	TotalCost   float64        `json:"total_cost"`
	TotalTokens int64          `json:"total_tokens"`
	QueueLength int            `json:"queue_length"`
	Running     int            `json:"running"`
}

// CleanupResponse reports one cleanup pass.
type CleanupResponse struct {
	DeletedJobs    []string `json:"deleted_jobs"`
	FreedBytes     int64    `json:"freed_bytes"`
	RemovedUploads int      `json:"removed_uploads"`
	Errors         []string `json:"errors,omitempty"`
}

// UploadResponse describes a stored upload batch.
type UploadResponse struct {
	UploadDir string         `json:"upload_dir"`
	Files     []UploadedFile `json:"files"`
	TotalSize int64          `json:"total_size"`
}

// UploadedFile is one file of an upload batch.
type UploadedFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// LogEvent is a daemon log line.
type LogEvent struct {
	Sequence  uint64            `json:"seq"`
	Timestamp string            `json:"ts"`
	Level     string            `json:"level"`
	Message   string            `json:"msg"`
	Component string            `json:"component,omitempty"`
	Stage     string            `json:"stage,omitempty"`
	JobID     string            `json:"job_id,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// LogStreamResponse wraps daemon log events and the next cursor.
type LogStreamResponse struct {
	Events []LogEvent `json:"events"`
	Next   uint64     `json:"next"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Hint      string `json:"hint,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// StreamMessage is one frame on the job websocket.
type StreamMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}
