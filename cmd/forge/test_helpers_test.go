package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"forge/internal/admission"
	"forge/internal/broadcast"
	"forge/internal/config"
	"forge/internal/daemon"
	"forge/internal/jobs"
	"forge/internal/logging"
	"forge/internal/notifications"
	"forge/internal/orchestrator"
	"forge/internal/testsupport"
	"forge/internal/worker"
)

// blockingExecutor keeps every worker alive until its context ends.
type blockingExecutor struct{}

func (blockingExecutor) Run(ctx context.Context, cmd worker.Command, _ func(worker.Line)) (worker.Result, error) {
	if cmd.OnStart != nil {
		cmd.OnStart(4242)
	}
	<-ctx.Done()
	return worker.Result{ExitCode: 143, Signal: "SIGTERM", Canceled: true}, nil
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, notifications.Event, notifications.Payload) error {
	return nil
}

type cliTestEnv struct {
	cfg        *config.Config
	store      *jobs.Store
	hub        *broadcast.Hub
	daemon     *daemon.Daemon
	configPath string
	apiAddr    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t, testsupport.WithMaxConcurrent(1))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	hub := broadcast.NewHub(logger)
	orch := orchestrator.New(cfg, store, hub, blockingExecutor{}, nopNotifier{}, logger)
	queue := admission.New(cfg, store, orch, logger)
	orch.SetOnFinished(queue.OnJobFinished)

	d, err := daemon.New(daemon.Options{
		Config:       cfg,
		Store:        store,
		Hub:          hub,
		Orchestrator: orch,
		Queue:        queue,
		Notifier:     nopNotifier{},
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
		_ = d.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		store:      store,
		hub:        hub,
		daemon:     d,
		configPath: configPath,
		apiAddr:    d.Addr(),
	}
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLI(t, append([]string{"--config", env.configPath, "--api", env.apiAddr}, args...), "")
}

func runCLI(t *testing.T, args []string, stdin string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
