package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"forge/internal/admission"
	"forge/internal/broadcast"
	"forge/internal/config"
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

type stubNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (s *stubNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	return nil
}

func (s *stubNotifier) published() []notifications.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notifications.Event(nil), s.events...)
}

type testDaemon struct {
	*Daemon
	cfg      *config.Config
	store    *jobs.Store
	notifier *stubNotifier
	handler  http.Handler
}

func newTestDaemon(t *testing.T, opts ...testsupport.ConfigOption) *testDaemon {
	t.Helper()
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithMaxConcurrent(1)}, opts...)...)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	hub := broadcast.NewHub(logger)
	notifier := &stubNotifier{}
	orch := orchestrator.New(cfg, store, hub, blockingExecutor{}, notifier, logger)
	queue := admission.New(cfg, store, orch, logger)
	orch.SetOnFinished(queue.OnJobFinished)

	d, err := New(Options{
		Config:       cfg,
		Store:        store,
		Hub:          hub,
		Orchestrator: orch,
		Queue:        queue,
		Notifier:     notifier,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	return &testDaemon{Daemon: d, cfg: cfg, store: store, notifier: notifier, handler: d.server.handler}
}

func (td *testDaemon) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	td.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
