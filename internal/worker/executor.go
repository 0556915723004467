package worker

import (
	"context"
	"fmt"
	"time"
)

// Stream identifies the output channel a line came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Line is one complete output line with surrounding whitespace removed.
type Line struct {
	Stream Stream
	Text   string
}

// Command describes one worker invocation.
type Command struct {
	// Name labels the invocation in logs ("pipeline", "pre_urls", ...).
	Name    string
	Binary  string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
	// OnStart receives the process id once the worker is running.
	OnStart func(pid int)
}

// Result reports how a worker exited.
type Result struct {
	ExitCode int
	Signal   string
	PID      int
	Duration time.Duration
	TimedOut bool
	Canceled bool
}

// Success reports a clean zero exit.
func (r Result) Success() bool {
	return r.ExitCode == 0 && r.Signal == "" && !r.TimedOut && !r.Canceled
}

// Err returns an *ExitError for unsuccessful exits and nil otherwise.
func (r Result) Err() error {
	if r.Success() {
		return nil
	}
	return &ExitError{Code: r.ExitCode, Signal: r.Signal}
}

// ExitError describes a worker that ran and exited unsuccessfully.
type ExitError struct {
	Code   int
	Signal string
}

func (e *ExitError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("Process exited with code %d, signal %s", e.Code, e.Signal)
	}
	return fmt.Sprintf("Process exited with code %d", e.Code)
}

// Executor runs worker commands. Run returns an error only when the process
// could not be started or its output could not be read; unsuccessful exits
// are reported through Result.
type Executor interface {
	Run(ctx context.Context, cmd Command, onLine func(Line)) (Result, error)
}
