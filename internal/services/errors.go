package services

import (
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrSpawn marks a worker that could not be launched at all. Always retryable.
	ErrSpawn = errors.New("spawn failure")
	// ErrDegraded marks a best-effort step that failed without failing the job.
	ErrDegraded = errors.New("degraded")
	// ErrJobFailed marks a main or resolve stage that exited unsuccessfully.
	ErrJobFailed = errors.New("job failed")
	// ErrStopped marks work interrupted by a user stop or refused during shutdown.
	ErrStopped = errors.New("stopped by user")
	// ErrNotRunning is returned when a control operation targets an idle job.
	ErrNotRunning = errors.New("not running")
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState is returned when a job is not in a state that permits the operation.
	ErrInvalidState = errors.New("invalid state")
	// ErrValidation marks malformed requests.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks missing or unusable settings.
	ErrConfiguration = errors.New("configuration error")
	// ErrTimeout marks steps that exceeded their time budget.
	ErrTimeout = errors.New("timeout")
	// ErrTransient marks failures worth retrying later.
	ErrTransient = errors.New("transient failure")
)

var defaultHints = map[error]string{
	ErrSpawn:         "check worker.python and the pipeline_path setting; the job can be retried",
	ErrJobFailed:     "inspect the job log for the worker's last error, then retry",
	ErrTimeout:       "the step exceeded its time budget; large inputs may need splitting",
	ErrConfiguration: "run 'forge config validate' and review the settings table",
}

// Wrap builds an error whose message includes stage context while tagging it
// with the provided marker for later classification. Both the marker and the
// cause stay reachable through errors.Is. Markers with a default hint get it
// attached for the API layer.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	var out error
	if err != nil {
		out = errors.Wrapf(err, "%s: %s", marker.Error(), detail)
	} else {
		out = errors.Newf("%s: %s", marker.Error(), detail)
	}
	out = errors.Mark(out, marker)
	if hint, ok := defaultHints[marker]; ok {
		out = errors.WithHint(out, hint)
	}
	return out
}

// WithHint attaches an operator-facing hint to err.
func WithHint(err error, hint string) error {
	if err == nil || strings.TrimSpace(hint) == "" {
		return err
	}
	return errors.WithHint(err, hint)
}

// Hint returns the flattened hints attached anywhere in err's chain.
func Hint(err error) string {
	if err == nil {
		return ""
	}
	return errors.FlattenHints(err)
}

// IsRetryable reports whether a failure is worth re-enqueueing as-is.
func IsRetryable(err error) bool {
	return errors.IsAny(err, ErrSpawn, ErrTransient, ErrTimeout)
}

// HTTPStatus maps a classified error onto an API response code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.IsAny(err, ErrInvalidState, ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, ErrConfiguration):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
