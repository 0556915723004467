package notifications

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"forge/internal/config"
	"forge/internal/jobs"
	"forge/internal/logging"
)

type capturedRequest struct {
	path    string
	headers http.Header
	body    string
}

func captureServer(t *testing.T) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, capturedRequest{path: r.URL.Path, headers: r.Header.Clone(), body: string(body)})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), reqs...)
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Notifications.MinIntervalSeconds = 0
	return &cfg
}

func TestNewServiceReturnsNoopWhenUnconfigured(t *testing.T) {
	svc := NewService(testConfig(), logging.NewNop())
	if _, ok := svc.(noopService); !ok {
		t.Fatalf("expected noop service, got %T", svc)
	}
	if err := svc.Publish(context.Background(), EventJobCompleted, Payload{"name": "x"}); err != nil {
		t.Fatalf("noop publish: %v", err)
	}
}

func TestNtfyFormatsCompletedJob(t *testing.T) {
	srv, requests := captureServer(t)
	cfg := testConfig()
	cfg.Notifications.NtfyServer = srv.URL
	cfg.Notifications.NtfyTopic = "forge-builds"
	svc := NewService(cfg, logging.NewNop())

	started := time.Now().Add(-90 * time.Second)
	completed := started.Add(90 * time.Second)
	score := 87.6
	atoms := 412
	job := &jobs.Job{
		Name:          "Rust Async",
		Domain:        "rust programming",
		Status:        jobs.StatusCompleted,
		QualityScore:  &score,
		AtomsVerified: &atoms,
		APICostUSD:    1.234,
		StartedAt:     &started,
		CompletedAt:   &completed,
	}
	if err := svc.Publish(context.Background(), EventJobCompleted, JobPayload(job)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	reqs := requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one request, got %d", len(reqs))
	}
	got := reqs[0]
	if got.path != "/forge-builds" {
		t.Fatalf("unexpected path %q", got.path)
	}
	if got.headers.Get("Title") != "Forge - Build Complete" || got.headers.Get("Tags") != "forge,build,completed" || got.headers.Get("Priority") != "high" {
		t.Fatalf("unexpected headers %v", got.headers)
	}
	for _, want := range []string{"Rust Async (Rust Programming)", "Quality: 88/100", "Atoms: 412", "Cost: $1.23", "Time: 1m30s"} {
		if !strings.Contains(got.body, want) {
			t.Fatalf("expected %q in body %q", want, got.body)
		}
	}
}

func TestDisabledEventIsSkipped(t *testing.T) {
	srv, requests := captureServer(t)
	cfg := testConfig()
	cfg.Notifications.NtfyTopic = srv.URL + "/topic"
	cfg.Notifications.Paused = false
	svc := NewService(cfg, logging.NewNop())

	if err := svc.Publish(context.Background(), EventJobPaused, Payload{"name": "x", "conflicts": 2}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(requests()) != 0 {
		t.Fatal("disabled event should not be sent")
	}
	if err := svc.Publish(context.Background(), EventJobFailed, Payload{"name": "x", "error": "Process exited with code 2"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	reqs := requests()
	if len(reqs) != 1 || !strings.Contains(reqs[0].body, "Error: Process exited with code 2") {
		t.Fatalf("unexpected requests %+v", reqs)
	}
}

func TestTelegramSendsMarkdownMessage(t *testing.T) {
	srv, requests := captureServer(t)
	svc := &telegramService{baseURL: srv.URL, token: "123:abc", chatID: "42", client: srv.Client()}
	msg, ok := render(EventJobPaused, Payload{"name": "Docs", "conflicts": 3})
	if !ok {
		t.Fatal("render failed")
	}
	if err := svc.send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	reqs := requests()
	if len(reqs) != 1 || reqs[0].path != "/bot123:abc/sendMessage" {
		t.Fatalf("unexpected requests %+v", reqs)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(reqs[0].body), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["chat_id"] != "42" || body["parse_mode"] != "Markdown" || !strings.Contains(body["text"], "3 conflict(s) need review") {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestBackendErrorIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	cfg := testConfig()
	cfg.Notifications.NtfyTopic = srv.URL + "/t"
	svc := NewService(cfg, logging.NewNop())
	err := svc.Publish(context.Background(), EventTest, nil)
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected 429 error, got %v", err)
	}
}

func TestUnknownEventRejected(t *testing.T) {
	d := &dispatcher{enabled: map[Event]bool{"other": true}}
	if err := d.Publish(context.Background(), "other", nil); err == nil {
		t.Fatal("expected error for unknown event")
	}
}
