package daemon

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"forge/internal/api"
	"forge/internal/broadcast"
	"forge/internal/config"
	"forge/internal/jobs"
	"forge/internal/notifications"
	"forge/internal/testsupport"
)

func submit(t *testing.T, td *testDaemon, name string) api.SubmitResponse {
	t.Helper()
	rec := td.do(t, http.MethodPost, "/api/jobs", map[string]any{
		"name":        name,
		"domain":      "cooking",
		"config_yaml": "name: " + name + "\n",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit %s: status %d body %s", name, rec.Code, rec.Body.String())
	}
	return decode[api.SubmitResponse](t, rec)
}

func TestSubmitAdmitsThenQueues(t *testing.T) {
	td := newTestDaemon(t)

	first := submit(t, td, "Cooking")
	if first.Status != "running" || first.Position != 0 {
		t.Fatalf("first submit = %+v", first)
	}
	second := submit(t, td, "Baking")
	if second.Status != "queued" || second.Position != 1 {
		t.Fatalf("second submit = %+v", second)
	}

	rec := td.do(t, http.MethodGet, "/api/jobs?status=queued", nil)
	list := decode[api.JobListResponse](t, rec)
	if len(list.Jobs) != 1 || list.Jobs[0].ID != second.JobID || list.Jobs[0].QueuePosition != 1 {
		t.Fatalf("queued list = %+v", list.Jobs)
	}

	rec = td.do(t, http.MethodGet, "/api/jobs/"+first.JobID, nil)
	got := decode[api.JobResponse](t, rec)
	if got.Job.Status != "running" || got.Job.ConfigYAML == "" {
		t.Fatalf("job detail = %+v", got.Job)
	}

	stats := decode[api.StatsResponse](t, td.do(t, http.MethodGet, "/api/stats", nil))
	if stats.Total != 2 || stats.QueueLength != 1 || stats.Running != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestSubmitValidation(t *testing.T) {
	td := newTestDaemon(t)
	cases := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"missing name", `{"domain":"cooking"}`},
		{"unknown field", `{"name":"x","priority":1}`},
		{"upload dir escape", `{"name":"x","upload_dir":"../../etc"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := td.do(t, http.MethodPost, "/api/jobs", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
			}
			if decode[api.ErrorResponse](t, rec).Error == "" {
				t.Fatal("expected error message")
			}
		})
	}
	if rec := td.do(t, http.MethodGet, "/api/jobs?status=bogus", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status filter = %d", rec.Code)
	}
}

func TestStopRunningAndQueued(t *testing.T) {
	td := newTestDaemon(t)
	running := submit(t, td, "Cooking")
	queued := submit(t, td, "Baking")

	rec := td.do(t, http.MethodPost, "/api/jobs/"+queued.JobID+"/stop", nil)
	if resp := decode[api.StopResponse](t, rec); resp.Action != api.StopActionRemoved {
		t.Fatalf("queued stop = %+v", resp)
	}
	job, _ := td.store.Get(context.Background(), queued.JobID)
	if job.Status != jobs.StatusFailed || job.ErrorMessage != jobs.QueueRemovedReason {
		t.Fatalf("removed job = %s %q", job.Status, job.ErrorMessage)
	}

	rec = td.do(t, http.MethodPost, "/api/jobs/"+running.JobID+"/stop", nil)
	if resp := decode[api.StopResponse](t, rec); resp.Action != api.StopActionStopped {
		t.Fatalf("running stop = %+v", resp)
	}
	waitFor(t, "stopped job to fail", func() bool {
		job, _ := td.store.Get(context.Background(), running.JobID)
		return job != nil && job.Status == jobs.StatusFailed
	})

	if rec := td.do(t, http.MethodPost, "/api/jobs/"+running.JobID+"/stop", nil); rec.Code != http.StatusConflict {
		t.Fatalf("stop finished job = %d", rec.Code)
	}
	if rec := td.do(t, http.MethodPost, "/api/jobs/missing/stop", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("stop unknown job = %d", rec.Code)
	}
}

func TestDeleteJob(t *testing.T) {
	td := newTestDaemon(t)
	running := submit(t, td, "Cooking")

	if rec := td.do(t, http.MethodDelete, "/api/jobs/"+running.JobID, nil); rec.Code != http.StatusConflict {
		t.Fatalf("delete running = %d", rec.Code)
	}

	queued := submit(t, td, "Baking")
	if rec := td.do(t, http.MethodDelete, "/api/jobs/"+queued.JobID, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete queued = %d body %s", rec.Code, rec.Body.String())
	}
	if td.queue.Position(queued.JobID) != 0 {
		t.Fatal("deleted job still waiting")
	}
	if _, err := os.Stat(filepath.Join(td.cfg.Paths.JobsDir, queued.JobID)); !os.IsNotExist(err) {
		t.Fatalf("workspace still present: %v", err)
	}
	if rec := td.do(t, http.MethodGet, "/api/jobs/"+queued.JobID, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted = %d", rec.Code)
	}
}

func TestReviewAndResume(t *testing.T) {
	td := newTestDaemon(t)
	job := testsupport.NewJob(t, td.store, "Cooking", "cooking")
	ctx := context.Background()

	if rec := td.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/review", map[string]any{"resolutions": map[string]string{}}); rec.Code != http.StatusConflict {
		t.Fatalf("resume pending job = %d", rec.Code)
	}

	review := `{"conflicts":[{"id":"c1"}]}`
	if err := td.store.Update(ctx, job.ID, jobs.Patch{
		Status:       jobs.Ptr(jobs.StatusPaused),
		ReviewStatus: jobs.Ptr(jobs.ReviewPending),
		ReviewData:   jobs.Ptr(review),
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(td.cfg.Paths.JobsDir, job.ID), 0o755); err != nil {
		t.Fatal(err)
	}

	got := decode[api.ReviewResponse](t, td.do(t, http.MethodGet, "/api/jobs/"+job.ID+"/review", nil))
	if got.ReviewStatus != "pending" || string(got.ReviewData) != review {
		t.Fatalf("review = %+v", got)
	}

	if rec := td.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/review", `{"resolutions":"keep"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("scalar resolutions = %d", rec.Code)
	}
	rec := td.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/review", map[string]any{"resolutions": map[string]string{"c1": "keep_a"}})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("resume = %d body %s", rec.Code, rec.Body.String())
	}
	if resp := decode[api.SubmitResponse](t, rec); resp.Status != "running" {
		t.Fatalf("resume response = %+v", resp)
	}
}

func TestJobLogsCursor(t *testing.T) {
	td := newTestDaemon(t)
	job := testsupport.NewJob(t, td.store, "Cooking", "cooking")
	ctx := context.Background()
	for _, msg := range []string{"one", "two", "three"} {
		if _, err := td.store.AppendLog(ctx, jobs.LogEntry{JobID: job.ID, Level: jobs.LevelInfo, Message: msg}); err != nil {
			t.Fatalf("AppendLog: %v", err)
		}
	}

	page := decode[api.JobLogsResponse](t, td.do(t, http.MethodGet, "/api/jobs/"+job.ID+"/logs?limit=2", nil))
	if len(page.Logs) != 2 || page.Logs[0].Message != "one" {
		t.Fatalf("first page = %+v", page)
	}
	rest := decode[api.JobLogsResponse](t, td.do(t, http.MethodGet, "/api/jobs/"+job.ID+"/logs?since="+strconv.FormatInt(page.Next, 10), nil))
	if len(rest.Logs) != 1 || rest.Logs[0].Message != "three" {
		t.Fatalf("second page = %+v", rest)
	}
	if rec := td.do(t, http.MethodGet, "/api/jobs/missing/logs", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("logs for unknown job = %d", rec.Code)
	}
}

func TestSettingsMaskAndUpdate(t *testing.T) {
	td := newTestDaemon(t)

	rec := td.do(t, http.MethodPut, "/api/settings", map[string]string{
		config.SettingClaudeAPIKey:  "sk-ant-secret-12345678",
		config.SettingMaxConcurrent: "3",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put settings = %d body %s", rec.Code, rec.Body.String())
	}
	values := map[string]api.Setting{}
	for _, s := range decode[api.SettingsResponse](t, rec).Settings {
		values[s.Key] = s
	}
	if values[config.SettingClaudeAPIKey].Value != "****5678" {
		t.Fatalf("api key not masked: %+v", values[config.SettingClaudeAPIKey])
	}
	if values[config.SettingMaxConcurrent].Value != "3" {
		t.Fatalf("max concurrent = %+v", values[config.SettingMaxConcurrent])
	}

	td.do(t, http.MethodPut, "/api/settings", map[string]string{config.SettingClaudeAPIKey: "****5678"})
	stored, _, _ := td.store.GetSetting(context.Background(), config.SettingClaudeAPIKey)
	if stored != "sk-ant-secret-12345678" {
		t.Fatalf("masked echo overwrote secret: %q", stored)
	}

	for _, body := range []string{`{}`, `{"default_quality_tier":"ultra"}`, `{"max_concurrent_jobs":"0"}`, `{"unknown":"x"}`} {
		if rec := td.do(t, http.MethodPut, "/api/settings", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("settings %s = %d", body, rec.Code)
		}
	}
}

func TestUploadThenSubmit(t *testing.T) {
	td := newTestDaemon(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("files", "notes.md")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write([]byte("# Notes\n"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	td.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload = %d body %s", rec.Code, rec.Body.String())
	}
	upload := decode[api.UploadResponse](t, rec)
	if len(upload.Files) != 1 || upload.Files[0].Type != "markdown" {
		t.Fatalf("upload = %+v", upload)
	}

	rec = td.do(t, http.MethodPost, "/api/jobs", map[string]any{"name": "Cooking", "upload_dir": upload.UploadDir})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit = %d body %s", rec.Code, rec.Body.String())
	}
	jobID := decode[api.SubmitResponse](t, rec).JobID
	if _, err := os.Stat(filepath.Join(td.cfg.Paths.JobsDir, jobID, "input", "notes.md")); err != nil {
		t.Fatalf("uploaded file not copied: %v", err)
	}
	if _, err := os.Stat(upload.UploadDir); !os.IsNotExist(err) {
		t.Fatalf("upload batch not consumed: %v", err)
	}
}

func TestSubmitInputsRestrictedToAllowedRoots(t *testing.T) {
	td := newTestDaemon(t)
	root := t.TempDir()
	td.cfg.API.InputRoots = []string{root}
	allowed := filepath.Join(root, "notes.md")
	testsupport.WriteText(t, allowed, "# Notes\n")
	outside := filepath.Join(t.TempDir(), "secret.md")
	testsupport.WriteText(t, outside, "secret")
	link := filepath.Join(root, "link.md")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	for _, input := range []string{"/etc/passwd", outside, link, filepath.Join(root, "..", filepath.Base(filepath.Dir(outside)), "secret.md"), "notes.md"} {
		rec := td.do(t, http.MethodPost, "/api/jobs", map[string]any{"name": "Leak", "inputs": []string{input}})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("submit %s = %d body %s", input, rec.Code, rec.Body.String())
		}
	}
	list, err := td.store.List(context.Background(), jobs.Filter{})
	if err != nil || len(list) != 0 {
		t.Fatalf("rejected submits created jobs: %d, %v", len(list), err)
	}

	rec := td.do(t, http.MethodPost, "/api/jobs", map[string]any{"name": "Cooking", "inputs": []string{allowed}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit allowed = %d body %s", rec.Code, rec.Body.String())
	}
	jobID := decode[api.SubmitResponse](t, rec).JobID
	if _, err := os.Stat(filepath.Join(td.cfg.Paths.JobsDir, jobID, "input", "notes.md")); err != nil {
		t.Fatalf("allowed input not copied: %v", err)
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	td := newTestDaemon(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("files", "tool.exe")
	_, _ = part.Write([]byte("MZ"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	td.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("upload exe = %d", rec.Code)
	}
	entries, _ := os.ReadDir(td.cfg.UploadsDir())
	if len(entries) != 0 {
		t.Fatalf("rejected batch left behind: %d entries", len(entries))
	}
}

func TestTestNotification(t *testing.T) {
	td := newTestDaemon(t)
	if rec := td.do(t, http.MethodPost, "/api/notifications/test", nil); rec.Code != http.StatusOK {
		t.Fatalf("test notification = %d", rec.Code)
	}
	if got := td.notifier.published(); len(got) != 1 || got[0] != notifications.EventTest {
		t.Fatalf("published = %v", got)
	}
}

func TestTemplatesEndpoint(t *testing.T) {
	td := newTestDaemon(t)
	rec := td.do(t, http.MethodPost, "/api/jobs", map[string]any{"name": "Search ads", "template_id": "tpl-google-ads"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit = %d body %s", rec.Code, rec.Body.String())
	}

	rec = td.do(t, http.MethodGet, "/api/templates", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("templates = %d", rec.Code)
	}
	body := decode[struct {
		Templates []jobs.Template `json:"templates"`
	}](t, rec)
	if len(body.Templates) != len(jobs.DefaultTemplates) {
		t.Fatalf("templates = %d", len(body.Templates))
	}
	if first := body.Templates[0]; first.ID != "tpl-google-ads" || first.UsageCount != 1 {
		t.Fatalf("first template = %+v", first)
	}

	rec = td.do(t, http.MethodPost, "/api/jobs", map[string]any{"name": "x", "template_id": "nope"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown template = %d", rec.Code)
	}
}

func TestCleanupEndpoint(t *testing.T) {
	td := newTestDaemon(t)
	rec := td.do(t, http.MethodPost, "/api/cleanup", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cleanup = %d body %s", rec.Code, rec.Body.String())
	}
	if resp := decode[api.CleanupResponse](t, rec); resp.DeletedJobs == nil {
		t.Fatalf("cleanup response = %+v", resp)
	}
}

func TestAuthMiddleware(t *testing.T) {
	handler := authMiddleware("secret")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	cases := []struct {
		name   string
		header string
		query  string
		ws     bool
		want   int
	}{
		{"missing", "", "", false, http.StatusUnauthorized},
		{"wrong", "Bearer nope", "", false, http.StatusUnauthorized},
		{"bearer", "Bearer secret", "", false, http.StatusNoContent},
		{"query without upgrade", "", "secret", false, http.StatusUnauthorized},
		{"query on websocket", "", "secret", true, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			target := "/api/status"
			if tc.query != "" {
				target += "?token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.ws {
				req.Header.Set("Upgrade", "websocket")
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}

	open := authMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("empty token should pass, got %d", rec.Code)
	}
}

func TestJobStreamRelaysEvents(t *testing.T) {
	td := newTestDaemon(t)
	job := testsupport.NewJob(t, td.store, "Cooking", "cooking")
	if _, err := td.store.AppendLog(context.Background(), jobs.LogEntry{JobID: job.ID, Level: jobs.LevelInfo, Message: "stored line"}); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}

	srv := httptest.NewServer(td.handler)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/jobs/" + job.ID + "/stream"

	if _, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/jobs/missing/stream", nil); err == nil || resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("dial unknown job: err=%v resp=%v", err, resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	read := func() api.StreamMessage {
		t.Helper()
		var msg api.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		return msg
	}
	if msg := read(); msg.Event != broadcast.EventState {
		t.Fatalf("first frame = %s", msg.Event)
	}
	if msg := read(); msg.Event != broadcast.EventLog || !strings.Contains(string(msg.Data), "stored line") {
		t.Fatalf("replayed frame = %s %s", msg.Event, msg.Data)
	}

	td.hub.Publish(job.ID, broadcast.EventPhase, broadcast.PhasePayload{Phase: "P1", Progress: 10})
	if msg := read(); msg.Event != broadcast.EventPhase {
		t.Fatalf("live frame = %s", msg.Event)
	}
}
