package worker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"forge/internal/logging"
	"forge/internal/services"
)

const (
	defaultGrace        = 5 * time.Second
	defaultMaxLineBytes = 4 << 20
	initialScanBuffer   = 64 * 1024
)

// ProcessExecutor runs commands as real child processes.
type ProcessExecutor struct {
	grace        time.Duration
	maxLineBytes int
	logger       *slog.Logger
}

// NewProcessExecutor builds an executor. Non-positive values fall back to
// a 5s grace period and a 4 MiB line limit.
func NewProcessExecutor(grace time.Duration, maxLineBytes int, logger *slog.Logger) *ProcessExecutor {
	if grace <= 0 {
		grace = defaultGrace
	}
	if maxLineBytes <= 0 {
		maxLineBytes = defaultMaxLineBytes
	}
	return &ProcessExecutor{
		grace:        grace,
		maxLineBytes: maxLineBytes,
		logger:       logging.NewComponentLogger(logger, "worker"),
	}
}

// Run starts the command and blocks until it exits.
func (e *ProcessExecutor) Run(ctx context.Context, command Command, onLine func(Line)) (Result, error) {
	if strings.TrimSpace(command.Binary) == "" {
		return Result{}, services.Wrap(services.ErrSpawn, command.Name, "start", "no executable configured", nil)
	}
	runCtx := ctx
	if command.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, command.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, command.Binary, command.Args...) //nolint:gosec
	cmd.Dir = command.Dir
	cmd.Env = append(os.Environ(), command.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	exited := make(chan struct{})
	var cancelled atomic.Bool
	cmd.Cancel = func() error {
		cancelled.Store(true)
		pid := cmd.Process.Pid
		e.logger.Info("terminating worker",
			logging.String("worker", command.Name),
			logging.PID(pid),
		)
		if err := unix.Kill(-pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}
		go func() {
			timer := time.NewTimer(e.grace)
			defer timer.Stop()
			select {
			case <-exited:
			case <-timer.C:
				e.logger.Warn("worker ignored SIGTERM, killing process group",
					logging.String("worker", command.Name),
					logging.PID(pid),
					logging.Duration("grace", e.grace),
				)
				_ = unix.Kill(-pid, unix.SIGKILL)
			}
		}()
		return nil
	}
	cmd.WaitDelay = e.grace + time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, services.Wrap(services.ErrSpawn, command.Name, "stdout pipe", "", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, services.Wrap(services.ErrSpawn, command.Name, "stderr pipe", "", err)
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		close(exited)
		return Result{}, services.Wrap(services.ErrSpawn, command.Name, "start", command.Binary, err)
	}
	pid := cmd.Process.Pid
	if command.OnStart != nil {
		command.OnStart(pid)
	}

	var (
		wg      sync.WaitGroup
		emitMu  sync.Mutex
		scanErr error
		once    sync.Once
	)
	emit := func(line Line) {
		if onLine == nil {
			return
		}
		emitMu.Lock()
		defer emitMu.Unlock()
		onLine(line)
	}
	scan := func(r io.Reader, stream Stream) {
		defer wg.Done()
		err := readLines(r, e.maxLineBytes, func(text string) {
			if text = strings.TrimSpace(text); text != "" {
				emit(Line{Stream: stream, Text: text})
			}
		}, func() {
			emit(Line{Stream: stream, Text: fmt.Sprintf("output line exceeded %d bytes; line skipped", e.maxLineBytes)})
		})
		if err != nil {
			once.Do(func() { scanErr = err })
		}
	}

	wg.Add(2)
	go scan(stdout, Stdout)
	go scan(stderr, Stderr)
	wg.Wait()

	waitErr := cmd.Wait()
	close(exited)

	result := Result{PID: pid, Duration: time.Since(started)}
	if state := cmd.ProcessState; state != nil {
		result.ExitCode = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			sig := ws.Signal()
			result.Signal = unix.SignalName(sig)
			if result.Signal == "" {
				result.Signal = sig.String()
			}
			result.ExitCode = 128 + int(sig)
		}
	} else if waitErr != nil {
		result.ExitCode = -1
	}
	if cancelled.Load() {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			result.TimedOut = true
		} else {
			result.Canceled = true
		}
	}

	e.logger.Debug("worker exited",
		logging.String("worker", command.Name),
		logging.PID(pid),
		logging.Int("exit_code", result.ExitCode),
		logging.String("signal", result.Signal),
		logging.Duration("duration", result.Duration),
		logging.Bool("timed_out", result.TimedOut),
		logging.Bool("canceled", result.Canceled),
	)

	if scanErr != nil {
		return result, fmt.Errorf("read %s output: %w", command.Name, scanErr)
	}
	return result, nil
}

// readLines hands each line of r to emit. A line longer than limit is
// reported through tooLong and dropped through its newline; reading then
// continues with the next line.
func readLines(r io.Reader, limit int, emit func(string), tooLong func()) error {
	br := bufio.NewReaderSize(r, min(initialScanBuffer, limit))
	var (
		line []byte
		skip bool
	)
	for {
		chunk, err := br.ReadSlice('\n')
		if !skip {
			line = append(line, chunk...)
			if len(bytes.TrimRight(line, "\r\n")) > limit {
				line, skip = line[:0], true
				tooLong()
			}
		}
		switch {
		case err == nil:
			if !skip {
				emit(string(line))
			}
			line, skip = line[:0], false
		case errors.Is(err, bufio.ErrBufferFull):
		case errors.Is(err, io.EOF):
			if !skip && len(line) > 0 {
				emit(string(line))
			}
			return nil
		default:
			return err
		}
	}
}
