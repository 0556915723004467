package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"forge/internal/api"
	"forge/internal/jobs"
	"forge/internal/testsupport"
)

func TestDaemonStartStop(t *testing.T) {
	td := newTestDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := td.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !td.Status(ctx).Running {
		t.Fatal("expected daemon to report running")
	}
	if td.Addr() == "" {
		t.Fatal("expected api listener address")
	}

	resp, err := http.Get("http://" + td.Addr() + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	var status api.DaemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || status.LockFilePath != td.cfg.LockPath() {
		t.Fatalf("status = %+v", status)
	}

	if err := td.Start(ctx); err == nil {
		t.Fatal("second Start on the same daemon should fail")
	}

	td.Stop()
	if td.Status(ctx).Running {
		t.Fatal("expected daemon to report stopped")
	}
}

func TestDaemonLockIsExclusive(t *testing.T) {
	first := newTestDaemon(t)
	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer first.Stop()

	second, err := New(Options{
		Config:       first.cfg,
		Store:        first.store,
		Orchestrator: first.orch,
		Queue:        first.queue,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("expected lock contention error")
	}
}

func TestDaemonStartMarksInterruptedJobsFailed(t *testing.T) {
	td := newTestDaemon(t)
	ctx := context.Background()
	job := testsupport.NewJob(t, td.store, "Cooking", "cooking")
	if err := td.store.Update(ctx, job.ID, jobs.Patch{Status: jobs.Ptr(jobs.StatusRunning)}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := td.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer td.Stop()

	got, err := td.store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != jobs.StatusFailed || got.ErrorMessage != jobs.DaemonStopReason {
		t.Fatalf("interrupted job = %s %q", got.Status, got.ErrorMessage)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := New(Options{Config: cfg}); err == nil {
		t.Fatal("expected error without store and orchestrator")
	}
}
