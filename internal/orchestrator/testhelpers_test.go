package orchestrator_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"forge/internal/broadcast"
	"forge/internal/config"
	"forge/internal/jobs"
	"forge/internal/logging"
	"forge/internal/notifications"
	"forge/internal/orchestrator"
	"forge/internal/testsupport"
	"forge/internal/worker"
	"forge/internal/workspace"
)

// script describes how the stub executor answers one command name.
type script struct {
	lines  []worker.Line
	result worker.Result
	err    error
	// before runs ahead of the output, e.g. to create files.
	before func(cmd worker.Command)
	// block waits for cancellation and reports a terminated worker.
	block bool
}

type stubExecutor struct {
	mu       sync.Mutex
	scripts  map[string]script
	commands []worker.Command
	started  chan string
}

func newStubExecutor() *stubExecutor {
	return &stubExecutor{scripts: map[string]script{}, started: make(chan string, 32)}
}

func (e *stubExecutor) on(name string, s script) {
	e.mu.Lock()
	e.scripts[name] = s
	e.mu.Unlock()
}

func (e *stubExecutor) Run(ctx context.Context, cmd worker.Command, onLine func(worker.Line)) (worker.Result, error) {
	e.mu.Lock()
	s := e.scripts[cmd.Name]
	e.commands = append(e.commands, cmd)
	e.mu.Unlock()

	if s.err != nil {
		return worker.Result{}, s.err
	}
	if cmd.OnStart != nil {
		cmd.OnStart(4242)
	}
	e.started <- cmd.Name
	if s.before != nil {
		s.before(cmd)
	}
	for _, line := range s.lines {
		onLine(line)
	}
	if s.block {
		<-ctx.Done()
		return worker.Result{ExitCode: 143, Signal: "SIGTERM", Canceled: true}, nil
	}
	return s.result, nil
}

func (e *stubExecutor) names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.commands))
	for _, cmd := range e.commands {
		out = append(out, cmd.Name)
	}
	return out
}

func (e *stubExecutor) command(name string) (worker.Command, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cmd := range e.commands {
		if cmd.Name == name {
			return cmd, true
		}
	}
	return worker.Command{}, false
}

type recordedEvent struct {
	name    string
	payload any
}

// recorder is a broadcast subscriber that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) Send(event string, payload any) error {
	r.mu.Lock()
	r.events = append(r.events, recordedEvent{name: event, payload: payload})
	r.mu.Unlock()
	return nil
}

func (r *recorder) snapshot() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func (r *recorder) named(name string) []recordedEvent {
	var out []recordedEvent
	for _, evt := range r.snapshot() {
		if evt.name == name {
			out = append(out, evt)
		}
	}
	return out
}

func (r *recorder) preSteps(id string) []string {
	var out []string
	for _, evt := range r.named(broadcast.EventPreStep) {
		if p := evt.payload.(broadcast.PreStepPayload); p.ID == id {
			out = append(out, p.Status)
		}
	}
	return out
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

type harness struct {
	cfg      *config.Config
	store    *jobs.Store
	hub      *broadcast.Hub
	exec     *stubExecutor
	notifier *stubNotifier
	orch     *orchestrator.Orchestrator
	finished chan struct{}
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	hub := broadcast.NewHub(logging.NewNop())
	h := &harness{
		cfg:      cfg,
		store:    store,
		hub:      hub,
		exec:     newStubExecutor(),
		notifier: &stubNotifier{},
		finished: make(chan struct{}, 8),
	}
	h.orch = orchestrator.New(cfg, store, hub, h.exec, h.notifier, logging.NewNop())
	h.orch.SetOnFinished(func() { h.finished <- struct{}{} })
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.orch.Shutdown(ctx)
	})
	return h
}

// newJob creates a pending job and its workspace with the given config.
func (h *harness) newJob(t *testing.T, configYAML string) (*jobs.Job, workspace.Workspace) {
	t.Helper()
	id := uuid.NewString()
	ws, err := workspace.Create(h.cfg.Paths.JobsDir, id, configYAML)
	if err != nil {
		t.Fatalf("workspace.Create: %v", err)
	}
	job, err := h.store.Create(context.Background(), jobs.NewJob{
		ID:         id,
		Name:       "test",
		Domain:     "cooking",
		ConfigYAML: configYAML,
	})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job, ws
}

func (h *harness) subscribe(jobID string) *recorder {
	rec := &recorder{}
	h.hub.Subscribe(jobID, rec)
	return rec
}

func (h *harness) waitFinished(t *testing.T) {
	t.Helper()
	select {
	case <-h.finished:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
}

func (h *harness) job(t *testing.T, id string) *jobs.Job {
	t.Helper()
	job, err := h.store.Get(context.Background(), id)
	if err != nil || job == nil {
		t.Fatalf("store.Get: %v", err)
	}
	return job
}

func stdout(v any) worker.Line {
	switch s := v.(type) {
	case string:
		return worker.Line{Stream: worker.Stdout, Text: s}
	default:
		data, _ := json.Marshal(v)
		return worker.Line{Stream: worker.Stdout, Text: string(data)}
	}
}

func stderr(text string) worker.Line {
	return worker.Line{Stream: worker.Stderr, Text: text}
}
