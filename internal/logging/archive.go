package logging

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// EventArchive persists daemon log events as JSON lines so API consumers can
// replay history after the in-memory stream rolls over.
type EventArchive struct {
	path string
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewEventArchive creates (or truncates) an on-disk journal for log events.
// An empty path disables archiving.
func NewEventArchive(path string) (*EventArchive, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	if err := ensureLogDir(trimmed); err != nil {
		return nil, fmt.Errorf("ensure archive dir: %w", err)
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", trimmed, err)
	}
	return &EventArchive{path: trimmed, file: file, enc: json.NewEncoder(file)}, nil
}

// Append writes the event to the archive. Write failures are dropped so
// logging keeps working when the archive is unavailable.
func (a *EventArchive) Append(evt LogEvent) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		file, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return
		}
		a.file = file
		a.enc = json.NewEncoder(file)
	}
	_ = a.enc.Encode(evt)
}

// ReadSince returns events newer than since along with the highest sequence
// observed. Limit bounds the result (0 means unlimited). When jobID is set only
// that job's events are returned.
func (a *EventArchive) ReadSince(since uint64, limit int, jobID string) ([]LogEvent, uint64, error) {
	if a == nil {
		return nil, since, nil
	}
	file, err := os.Open(a.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, since, nil
		}
		return nil, since, fmt.Errorf("open archive %s: %w", a.path, err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var result []LogEvent
	highest := since
	for {
		var evt LogEvent
		if err := decoder.Decode(&evt); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return result, highest, fmt.Errorf("decode archive %s: %w", a.path, err)
		}
		highest = max(highest, evt.Sequence)
		if evt.Sequence <= since || (jobID != "" && evt.JobID != jobID) {
			continue
		}
		result = append(result, evt)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, highest, nil
}

// Close releases the archive file handle.
func (a *EventArchive) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var err error
	if a.file != nil {
		err = a.file.Close()
	}
	a.file = nil
	a.enc = nil
	return err
}

// Path returns the on-disk location backing the archive.
func (a *EventArchive) Path() string {
	if a == nil {
		return ""
	}
	return a.path
}
