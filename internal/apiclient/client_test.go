package apiclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/websocket"

	"forge/internal/api"
	"forge/internal/apiclient"
	"forge/internal/jobs"
)

func TestNewEmptyBind(t *testing.T) {
	if _, err := apiclient.New("", ""); !errors.Is(err, apiclient.ErrAPIUnavailable) {
		t.Fatalf("expected ErrAPIUnavailable, got %v", err)
	}
}

func TestListBuildsQueryAndSendsToken(t *testing.T) {
	var (
		gotQuery url.Values
		gotAuth  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(api.JobListResponse{Jobs: []api.Job{{ID: "j1", Status: "queued"}}})
	}))
	defer srv.Close()

	client, err := apiclient.New(srv.URL, "secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	list, err := client.List(context.Background(), apiclient.ListOptions{
		Statuses: []jobs.Status{jobs.StatusQueued, jobs.StatusRunning},
		Domain:   "cooking",
		Limit:    5,
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != "j1" {
		t.Fatalf("list = %+v", list)
	}
	if gotQuery.Get("status") != "queued,running" || gotQuery.Get("domain") != "cooking" || gotQuery.Get("limit") != "5" {
		t.Fatalf("query = %v", gotQuery)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("auth header = %q", gotAuth)
	}
}

func TestErrorResponseDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "job is running", Hint: "stop it first"})
	}))
	defer srv.Close()

	client, _ := apiclient.New(srv.URL, "")
	err := client.Delete(context.Background(), "j1")
	var apiErr *apiclient.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Message != "job is running" || apiErr.Hint != "stop it first" {
		t.Fatalf("api error = %+v", apiErr)
	}
	if apiclient.StatusCode(err) != http.StatusConflict {
		t.Fatalf("StatusCode = %d", apiclient.StatusCode(err))
	}
}

func TestUnavailableDaemon(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.Listener.Addr().String()
	srv.Close()

	client, _ := apiclient.New(addr, "")
	_, err := client.Status(context.Background())
	if !apiclient.IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestUploadSendsMultipart(t *testing.T) {
	var names []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reader, err := r.MultipartReader()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				break
			}
			names = append(names, part.FileName())
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(api.UploadResponse{UploadDir: "/data/uploads/b1"})
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	if err := os.WriteFile(path, []byte("# notes"), 0o644); err != nil {
		t.Fatal(err)
	}
	client, _ := apiclient.New(srv.URL, "")
	resp, err := client.Upload(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if resp.UploadDir != "/data/uploads/b1" || len(names) != 1 || names[0] != "notes.md" {
		t.Fatalf("upload resp=%+v names=%v", resp, names)
	}
}

func TestWatchReadsFramesUntilClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/jobs/j1/stream" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, event := range []string{"state", "log", "complete"} {
			frame, _ := api.EncodeStreamMessage(event, map[string]string{"job_id": "j1"})
			_ = conn.WriteMessage(websocket.TextMessage, frame)
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
	}))
	defer srv.Close()

	client, _ := apiclient.New(srv.URL, "")
	var events []string
	err := client.Watch(context.Background(), "j1", func(msg api.StreamMessage) error {
		events = append(events, msg.Event)
		return nil
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if len(events) != 3 || events[2] != "complete" {
		t.Fatalf("events = %v", events)
	}

	if err := client.Watch(context.Background(), "missing", func(api.StreamMessage) error { return nil }); apiclient.StatusCode(err) != http.StatusNotFound {
		t.Fatalf("watch unknown job: %v", err)
	}
}
