package jobs

import (
	"encoding/json"
	"strings"
	"time"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusQueued,
	StatusRunning,
	StatusPaused,
	StatusCompleted,
	StatusFailed,
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus converts user input into a Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allStatuses {
		if s == normalized {
			return s, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ReviewStatus tracks human conflict resolution.
type ReviewStatus string

const (
	ReviewNone      ReviewStatus = "none"
	ReviewPending   ReviewStatus = "pending"
	ReviewCompleted ReviewStatus = "completed"
)

// LogLevel classifies a job log entry.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelPhase LogLevel = "phase"
)

// ParseLogLevel maps worker-supplied level strings onto LogLevel, defaulting to info.
func ParseLogLevel(value string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error", "critical", "fatal":
		return LevelError
	case "phase":
		return LevelPhase
	default:
		return LevelInfo
	}
}

// Phases of the external pipeline in order, with display names.
var Phases = []struct {
	ID   string
	Name string
}{
	{"p0", "Baseline"},
	{"p1", "Audit"},
	{"p2", "Extract"},
	{"p3", "Deduplicate"},
	{"p4", "Verify"},
	{"p5", "Architect"},
}

// PhaseName returns the display name for a phase id, or the id itself.
func PhaseName(id string) string {
	for _, p := range Phases {
		if p.ID == id {
			return p.Name
		}
	}
	return id
}

const (
	// UserStopReason is recorded when a running job is stopped on request.
	UserStopReason = "Stopped by user"
	// QueueRemovedReason is recorded when a waiting job is cancelled.
	QueueRemovedReason = "Removed from queue by user"
	// DaemonStopReason is recorded for jobs orphaned by a daemon restart.
	DaemonStopReason = "Daemon stopped"
)

// Job is one user-requested build tracked end to end.
type Job struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	Domain            string       `json:"domain"`
	Status            Status       `json:"status"`
	CurrentPhase      string       `json:"current_phase,omitempty"`
	PhaseProgress     int          `json:"phase_progress"`
	ConfigYAML        string       `json:"config_yaml"`
	TemplateID        string       `json:"template_id,omitempty"`
	QualityScore      *float64     `json:"quality_score"`
	AtomsExtracted    *int         `json:"atoms_extracted"`
	AtomsDeduplicated *int         `json:"atoms_deduplicated"`
	AtomsVerified     *int         `json:"atoms_verified"`
	CompressionRatio  *float64     `json:"compression_ratio"`
	APICostUSD        float64      `json:"api_cost_usd"`
	TokensUsed        int64        `json:"tokens_used"`
	OutputPath        string       `json:"output_path,omitempty"`
	PackagePath       string       `json:"package_path,omitempty"`
	CreatedBy         string       `json:"created_by"`
	CreatedAt         time.Time    `json:"created_at"`
	StartedAt         *time.Time   `json:"started_at,omitempty"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
	ErrorMessage      string       `json:"error_message,omitempty"`
	ReviewStatus      ReviewStatus `json:"review_status"`
	ReviewData        string       `json:"review_data,omitempty"`
}

// NewJob carries the caller-supplied fields for Create.
type NewJob struct {
	ID         string
	Name       string
	Domain     string
	ConfigYAML string
	TemplateID string
	CreatedBy  string
}

// Patch lists the columns to change; nil fields are left untouched.
type Patch struct {
	Status            *Status
	CurrentPhase      *string
	PhaseProgress     *int
	ConfigYAML        *string
	QualityScore      *float64
	AtomsExtracted    *int
	AtomsDeduplicated *int
	AtomsVerified     *int
	CompressionRatio  *float64
	APICostUSD        *float64
	TokensUsed        *int64
	OutputPath        *string
	PackagePath       *string
	StartedAt         *time.Time
	CompletedAt       *time.Time
	ErrorMessage      *string
	ReviewStatus      *ReviewStatus
	ReviewData        *string
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T {
	return &v
}

// Filter narrows List results.
type Filter struct {
	Statuses []Status
	Domain   string
	Limit    int
	Offset   int
}

// LogEntry is one append-only job log line.
type LogEntry struct {
	Seq       int64           `json:"id"`
	JobID     string          `json:"job_id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     LogLevel        `json:"level"`
	Phase     string          `json:"phase,omitempty"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// Setting is a runtime key/value entry.
type Setting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BaselineStatus tracks readiness of a domain reference corpus.
type BaselineStatus string

const (
	BaselinePending BaselineStatus = "pending"
	BaselineReady   BaselineStatus = "ready"
	BaselineFailed  BaselineStatus = "failed"
)

// Baseline is a registered reference corpus for a domain.
type Baseline struct {
	ID            int64          `json:"id"`
	Domain        string         `json:"domain"`
	Name          string         `json:"name"`
	OutputDir     string         `json:"output_dir"`
	Status        BaselineStatus `json:"status"`
	RefsCount     int            `json:"refs_count"`
	LastScrapedAt *time.Time     `json:"last_scraped_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Template is a named starting config for new jobs.
type Template struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Domain      string    `json:"domain"`
	Description string    `json:"description,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	ConfigYAML  string    `json:"config_yaml"`
	IsDefault   bool      `json:"is_default"`
	UsageCount  int       `json:"usage_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Stats summarizes the job table for dashboards.
type Stats struct {
	Total       int            `json:"total_jobs"`
	ByStatus    map[Status]int `json:"by_status"`
	AvgQuality  *float64       `json:"avg_quality"`
	TotalAtoms  int64          `json:"total_atoms"`
	TotalCost   float64        `json:"total_cost"`
	TotalTokens int64          `json:"total_tokens"`
}

// DatabaseHealth describes the store's on-disk state.
type DatabaseHealth struct {
	DBPath           string `json:"db_path"`
	DatabaseExists   bool   `json:"database_exists"`
	DatabaseReadable bool   `json:"database_readable"`
	SchemaVersion    int    `json:"schema_version"`
	IntegrityCheck   bool   `json:"integrity_check"`
	TotalJobs        int    `json:"total_jobs"`
	TotalLogs        int    `json:"total_logs"`
	Error            string `json:"error,omitempty"`
}
