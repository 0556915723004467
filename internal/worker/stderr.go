package worker

import (
	"strings"

	"forge/internal/jobs"
)

// ClassifyStderr returns debug for lines matching a benign pattern and error
// for everything else.
func ClassifyStderr(line string, benign []string) jobs.LogLevel {
	for _, pattern := range benign {
		if pattern != "" && strings.Contains(line, pattern) {
			return jobs.LevelDebug
		}
	}
	return jobs.LevelError
}
