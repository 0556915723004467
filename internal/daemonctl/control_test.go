package daemonctl

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"forge/internal/deps"
	"forge/internal/testsupport"
)

func TestReadPIDAndProcessInfo(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	if _, alive := ProcessInfo(cfg.PIDPath()); alive {
		t.Fatal("missing pid file should not report a live process")
	}

	testsupport.WriteText(t, cfg.PIDPath(), "not-a-pid\n")
	if _, err := ReadPID(cfg.PIDPath()); err == nil {
		t.Fatal("expected invalid pid file error")
	}

	testsupport.WriteText(t, cfg.PIDPath(), strconv.Itoa(os.Getpid())+"\n")
	pid, alive := ProcessInfo(cfg.PIDPath())
	if !alive || pid != os.Getpid() {
		t.Fatalf("ProcessInfo = %d %v", pid, alive)
	}
}

func TestStopAndTerminateWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	if _, err := StopAndTerminate(cfg, time.Second); !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestStopAndTerminateSignalsProcess(t *testing.T) {
	sleepPath, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	cmd := exec.Command(sleepPath, "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	waited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(waited)
	}()
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		<-waited
	})
	testsupport.WriteText(t, cfg.PIDPath(), strconv.Itoa(cmd.Process.Pid)+"\n")

	result, err := StopAndTerminate(cfg, 5*time.Second)
	if err != nil {
		t.Fatalf("StopAndTerminate: %v", err)
	}
	if !result.Signaled || result.ForcedKill || result.PID != cmd.Process.Pid {
		t.Fatalf("result = %+v", result)
	}
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after SIGTERM")
	}
}

func TestBuildStatusSnapshotOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.NewJob(t, store, "Cooking", "cooking")
	_ = store.Close()

	snap, err := BuildStatusSnapshot(context.Background(), cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if snap.Status.Running {
		t.Fatal("offline snapshot should not report running")
	}
	if snap.Stats["pending"] != 1 {
		t.Fatalf("stats = %v", snap.Stats)
	}
	if snap.Status.LockFilePath != cfg.LockPath() || len(snap.Status.Dependencies) == 0 {
		t.Fatalf("status = %+v", snap.Status)
	}
	if snap.DependencySummary.Total != len(snap.Status.Dependencies) {
		t.Fatalf("summary = %+v", snap.DependencySummary)
	}
}

func TestBuildDependencySummary(t *testing.T) {
	tests := []struct {
		name     string
		deps     []deps.Status
		severity string
		detail   string
	}{
		{name: "empty", severity: "info", detail: "No dependency checks configured"},
		{
			name:     "all available",
			deps:     []deps.Status{{Name: "python", Available: true}},
			severity: "ok",
			detail:   "1/1 available",
		},
		{
			name:     "optional missing",
			deps:     []deps.Status{{Name: "python", Available: true}, {Name: "scraper", Optional: true}},
			severity: "warn",
			detail:   "1/2 available (missing: 0 required, 1 optional)",
		},
		{
			name:     "required missing",
			deps:     []deps.Status{{Name: "python"}, {Name: "scraper", Optional: true}},
			severity: "error",
			detail:   "0/2 available (missing: 1 required, 1 optional)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildDependencySummary(tt.deps)
			if got.Severity != tt.severity || got.Detail != tt.detail {
				t.Fatalf("summary = %+v", got)
			}
		})
	}
}
