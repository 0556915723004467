package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"forge/internal/api"
	"forge/internal/apiclient"
	"forge/internal/config"
	"forge/internal/deps"
	"forge/internal/jobs"
	"forge/internal/preflight"
)

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	Diagnostic bool
	LogPath    string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	PID      int
}

// ErrDaemonNotRunning indicates neither the API nor the pid file shows a live daemon.
var ErrDaemonNotRunning = errors.New("daemon not running")

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	Signaled   bool
	ForcedKill bool
	PID        int
}

// RestartResult captures stop/start outcomes for daemon restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// Launch starts a detached forge daemon process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon", "run"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if opts.Diagnostic {
		args = append(args, "--diagnostic")
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if path := strings.TrimSpace(opts.LogPath); path != "" {
		out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open daemon output: %w", err)
		}
		defer out.Close()
		proc.Stdout = out
		proc.Stderr = out
	}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForAPI polls the status endpoint until the daemon answers or timeout elapses.
func WaitForAPI(ctx context.Context, client *apiclient.Client, timeout time.Duration) (api.DaemonStatus, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		status, err := client.Status(ctx)
		if err == nil && status.Running {
			return status, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return api.DaemonStatus{}, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return api.DaemonStatus{}, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon unless its API already answers.
func EnsureStarted(ctx context.Context, cfg *config.Config, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	client, err := apiclient.New(cfg.API.Bind, cfg.API.Token)
	if err != nil {
		return StartResult{}, err
	}
	if status, err := client.Status(ctx); err == nil && status.Running {
		return StartResult{State: StartStateAlreadyRunning, PID: status.PID}, nil
	}
	if pid, alive := ProcessInfo(cfg.PIDPath()); alive {
		return StartResult{}, fmt.Errorf("daemon process %d is alive but its API at %s is not answering", pid, cfg.API.Bind)
	}
	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}
	status, err := WaitForAPI(ctx, client, waitTimeout)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{State: StartStateStarted, Launched: true, PID: status.PID}, nil
}

// ReadPID returns the pid recorded in the daemon pid file.
func ReadPID(pidPath string) (int, error) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %q", pidPath)
	}
	return pid, nil
}

// ProcessInfo reports the pid from the pid file and whether that process is alive.
func ProcessInfo(pidPath string) (int, bool) {
	pid, err := ReadPID(pidPath)
	if err != nil {
		return 0, false
	}
	return pid, processAlive(pid)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// WaitForExit waits until pid is gone.
func WaitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return !processAlive(pid)
}

// ForceKillProcess sends SIGKILL to the daemon process and cleans pid/lock files.
func ForceKillProcess(pidPath, lockPath string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	if lockPath != "" {
		_ = os.Remove(lockPath)
	}
	return nil
}

// StopAndTerminate sends SIGTERM to the daemon and force-kills it if it is
// still alive after gracePeriod.
func StopAndTerminate(cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	pidPath := cfg.PIDPath()
	pid, alive := ProcessInfo(pidPath)
	if !alive {
		if pid > 0 {
			_ = os.Remove(pidPath)
		}
		return StopResult{}, ErrDaemonNotRunning
	}
	result := StopResult{PID: pid}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return result, nil
		}
		return result, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	result.Signaled = true
	if WaitForExit(pid, gracePeriod) {
		return result, nil
	}
	if err := ForceKillProcess(pidPath, cfg.LockPath(), pid); err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	result.ForcedKill = true
	return result, nil
}

// Restart stops the daemon if running, then ensures it is started.
func Restart(ctx context.Context, cfg *config.Config, executablePath string, opts LaunchOptions, stopGracePeriod, startWaitTimeout time.Duration) (RestartResult, error) {
	stopResult, stopErr := StopAndTerminate(cfg, stopGracePeriod)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return RestartResult{}, stopErr
	}

	startResult, err := EnsureStarted(ctx, cfg, executablePath, opts, startWaitTimeout)
	if err != nil {
		return RestartResult{}, err
	}

	return RestartResult{
		WasRunning: stopErr == nil,
		Stop:       stopResult,
		Start:      startResult,
	}, nil
}

// Snapshot is daemon status with offline fallbacks applied.
type Snapshot struct {
	Status            api.DaemonStatus
	Stats             map[string]int
	DependencySummary DependencySummary
}

// BuildStatusSnapshot asks the daemon for its status. When the daemon is not
// reachable it reads job counts straight from the database and runs the
// dependency checks locally.
func BuildStatusSnapshot(ctx context.Context, cfg *config.Config) (Snapshot, error) {
	if cfg == nil {
		return Snapshot{}, errors.New("configuration not available")
	}
	snap := Snapshot{Stats: map[string]int{}}

	if client, err := apiclient.New(cfg.API.Bind, cfg.API.Token); err == nil {
		if status, statusErr := client.Status(ctx); statusErr == nil {
			snap.Status = status
		}
		if snap.Status.Running {
			if stats, statsErr := client.Stats(ctx); statsErr == nil {
				for status, count := range stats.ByStatus {
					snap.Stats[status] = count
				}
			}
		}
	}

	if !snap.Status.Running {
		snap.Status.LockFilePath = cfg.LockPath()
		snap.Status.DatabasePath = cfg.Paths.DatabasePath
		snap.Status.MaxConcurrent = cfg.Queue.MaxConcurrent
		queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if _, err := os.Stat(cfg.Paths.DatabasePath); err == nil {
			if store, openErr := jobs.Open(cfg); openErr == nil {
				stats, statsErr := store.Stats(queryCtx)
				_ = store.Close()
				if statsErr == nil {
					for status, count := range stats.ByStatus {
						snap.Stats[string(status)] = count
					}
				}
			}
		}
	}

	if len(snap.Status.Dependencies) == 0 {
		snap.Status.Dependencies = preflight.CheckSystemDeps(preflight.ToolchainFromConfig(cfg))
	}
	if len(snap.Status.Checks) == 0 {
		snap.Status.Checks = preflight.RunAll(cfg, cfg.Discovery.APIKey)
	}
	snap.DependencySummary = BuildDependencySummary(snap.Status.Dependencies)
	return snap, nil
}

// DependencySummary aggregates dependency readiness.
type DependencySummary struct {
	Total           int
	Available       int
	MissingRequired int
	MissingOptional int
	Severity        string
	Detail          string
}

// BuildDependencySummary computes aggregate dependency readiness.
func BuildDependencySummary(statuses []deps.Status) DependencySummary {
	if len(statuses) == 0 {
		return DependencySummary{
			Severity: "info",
			Detail:   "No dependency checks configured",
		}
	}

	missingRequired := 0
	missingOptional := 0
	for _, dep := range statuses {
		if dep.Available {
			continue
		}
		if dep.Optional {
			missingOptional++
		} else {
			missingRequired++
		}
	}

	missingCount := missingRequired + missingOptional
	available := len(statuses) - missingCount
	severity := "ok"
	if missingRequired > 0 {
		severity = "error"
	} else if missingOptional > 0 {
		severity = "warn"
	}
	detail := fmt.Sprintf("%d/%d available (missing: %d required, %d optional)", available, len(statuses), missingRequired, missingOptional)
	if missingCount == 0 {
		detail = fmt.Sprintf("%d/%d available", available, len(statuses))
	}

	return DependencySummary{
		Total:           len(statuses),
		Available:       available,
		MissingRequired: missingRequired,
		MissingOptional: missingOptional,
		Severity:        severity,
		Detail:          detail,
	}
}
