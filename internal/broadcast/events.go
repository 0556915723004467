package broadcast

import (
	"encoding/json"
	"time"
)

// Event names published per job.
const (
	EventState    = "state"
	EventLog      = "log"
	EventPhase    = "phase"
	EventQuality  = "quality"
	EventCost     = "cost"
	EventConflict = "conflict"
	EventPackage  = "package"
	EventError    = "error"
	EventPreStep  = "pre-step"
	EventComplete = "complete"
)

// Pre-step states.
const (
	StepRunning = "running"
	StepDone    = "done"
	StepFailed  = "failed"
)

// StatePayload is the snapshot sent when a subscription starts.
type StatePayload struct {
	Status        string   `json:"status"`
	CurrentPhase  string   `json:"current_phase,omitempty"`
	PhaseProgress int      `json:"phase_progress"`
	QualityScore  *float64 `json:"quality_score"`
	ReviewStatus  string   `json:"review_status,omitempty"`
}

// LogPayload carries one job log line.
type LogPayload struct {
	ID        int64     `json:"id,omitempty"`
	Level     string    `json:"level"`
	Phase     string    `json:"phase,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// PhasePayload reports pipeline phase progress.
type PhasePayload struct {
	Phase     string    `json:"phase"`
	Name      string    `json:"name,omitempty"`
	Status    string    `json:"status,omitempty"`
	Progress  int       `json:"progress"`
	Timestamp time.Time `json:"timestamp"`
}

// QualityPayload reports per-phase scores and running totals.
type QualityPayload struct {
	Phase             string    `json:"phase,omitempty"`
	Score             *float64  `json:"score,omitempty"`
	Pass              *bool     `json:"pass,omitempty"`
	AtomsCount        *int      `json:"atoms_count,omitempty"`
	QualityScore      *float64  `json:"quality_score,omitempty"`
	AtomsExtracted    *int      `json:"atoms_extracted,omitempty"`
	AtomsDeduplicated *int      `json:"atoms_deduplicated,omitempty"`
	AtomsVerified     *int      `json:"atoms_verified,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// CostPayload reports cumulative API spend.
type CostPayload struct {
	APICostUSD float64   `json:"api_cost_usd"`
	TokensUsed int64     `json:"tokens_used"`
	Timestamp  time.Time `json:"timestamp"`
}

// ConflictPayload carries the worker's conflict record verbatim.
type ConflictPayload struct {
	Count     int             `json:"count"`
	Conflicts json.RawMessage `json:"conflicts,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// PackagePayload reports the finished package location.
type PackagePayload struct {
	Path      string    `json:"path"`
	OutputDir string    `json:"output_dir,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload reports a worker or spawn error. Terminal errors end the
// subscription.
type ErrorPayload struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Terminal  bool   `json:"terminal,omitempty"`
}

// PreStepPayload drives the preprocessing checklist.
type PreStepPayload struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Status string `json:"status"`
}

// CompletePayload is the final event of a job run.
type CompletePayload struct {
	Status       string    `json:"status"`
	QualityScore *float64  `json:"quality_score,omitempty"`
	PackagePath  string    `json:"package_path,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
	Reason       string    `json:"reason,omitempty"`
	ExitCode     *int      `json:"exit_code,omitempty"`
}

// Reasons attached to complete events not produced by a worker exit.
const (
	ReasonStoppedByUser = "stopped_by_user"
	ReasonDaemonStopped = "daemon_stopped"
	ReasonSpawnError    = "spawn_error"
)

// IsTerminal reports whether delivering this event ends a job's stream.
func IsTerminal(event string, payload any) bool {
	switch event {
	case EventComplete:
		return true
	case EventError:
		switch p := payload.(type) {
		case ErrorPayload:
			return p.Terminal
		case *ErrorPayload:
			return p != nil && p.Terminal
		}
	}
	return false
}
