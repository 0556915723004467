package daemon

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"forge/internal/admission"
	"forge/internal/api"
	"forge/internal/jobs"
	"forge/internal/logging"
	"forge/internal/services"
	"forge/internal/workspace"
)

const (
	maxJSONBody     = 1 << 20
	defaultLogLimit = 200
	maxLogLimit     = 1000
)

func (s *apiServer) readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody+1))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "api", "read body", "", err)
	}
	if len(body) > maxJSONBody {
		return nil, services.Wrap(services.ErrValidation, "api", "read body", "request body too large", nil)
	}
	return body, nil
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	var req api.SubmitRequest
	if err := decodeValidated(s.daemon.schemas.submit, body, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}

	files, err := s.resolveInputs(req.Inputs)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	uploadDir := ""
	if strings.TrimSpace(req.UploadDir) != "" {
		uploadDir, err = s.resolveUploadDir(req.UploadDir)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		uploaded, err := listFiles(uploadDir)
		if err != nil {
			s.writeFailure(w, r, services.Wrap(services.ErrValidation, "api", "read uploads", req.UploadDir, err))
			return
		}
		files = append(files, uploaded...)
	}

	ticket, err := s.daemon.queue.Enqueue(r.Context(), admission.Request{
		Name:       req.Name,
		Domain:     req.Domain,
		ConfigYAML: req.ConfigYAML,
		TemplateID: req.TemplateID,
		CreatedBy:  req.CreatedBy,
		Files:      files,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if uploadDir != "" {
		if err := os.RemoveAll(uploadDir); err != nil {
			s.logger.Warn("failed to remove consumed upload batch",
				logging.String("upload_dir", uploadDir),
				logging.Error(err),
			)
		}
	}

	status := string(jobs.StatusRunning)
	if ticket.Position > 0 {
		status = string(jobs.StatusQueued)
	}
	s.writeJSON(w, http.StatusCreated, api.SubmitResponse{
		JobID:    ticket.JobID,
		Status:   status,
		Position: ticket.Position,
	})
}

// resolveUploadDir accepts a batch handle only when it lies directly under
// the uploads root.
func (s *apiServer) resolveUploadDir(dir string) (string, error) {
	root, err := filepath.Abs(s.daemon.uploads.Dir())
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "api", "resolve uploads root", "", err)
	}
	candidate := dir
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)
	rel, err := filepath.Rel(root, candidate)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return "", services.Wrap(services.ErrValidation, "api", "resolve upload dir", "upload_dir must be a batch returned by /api/uploads", nil)
	}
	info, err := os.Stat(candidate)
	if err != nil || !info.IsDir() {
		return "", services.Wrap(services.ErrNotFound, "api", "resolve upload dir", "upload batch "+rel, err)
	}
	return candidate, nil
}

// resolveInputs accepts server-side paths only when, after resolving
// symlinks, they are regular files under the uploads root or an
// api.input_roots entry.
func (s *apiServer) resolveInputs(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	roots := append([]string{s.daemon.uploads.Dir()}, s.daemon.cfg.API.InputRoots...)
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			return nil, services.Wrap(services.ErrValidation, "api", "resolve input", "input paths must be absolute: "+p, nil)
		}
		resolved, err := filepath.EvalSymlinks(p)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "api", "resolve input", p, err)
		}
		if !withinAny(roots, resolved) {
			return nil, services.Wrap(services.ErrValidation, "api", "resolve input", p+" is outside the allowed input roots", nil)
		}
		info, err := os.Stat(resolved)
		if err != nil || !info.Mode().IsRegular() {
			return nil, services.Wrap(services.ErrValidation, "api", "resolve input", p+" is not a regular file", err)
		}
		out = append(out, resolved)
	}
	return out, nil
}

func withinAny(roots []string, path string) bool {
	for _, root := range roots {
		resolved, err := filepath.EvalSymlinks(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(resolved, path)
		if err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.Filter{Domain: strings.TrimSpace(query.Get("domain"))}
	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, ok := jobs.ParseStatus(part)
			if !ok {
				s.writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(part))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	filter.Limit, _ = strconv.Atoi(query.Get("limit"))
	filter.Offset, _ = strconv.Atoi(query.Get("offset"))

	list, err := s.daemon.store.List(r.Context(), filter)
	if err != nil {
		s.writeFailure(w, r, services.Wrap(services.ErrTransient, "api", "list jobs", "", err))
		return
	}
	out := api.FromJobs(list)
	s.annotate(out)
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: out})
}

// annotate fills in the live fields the store does not hold.
func (s *apiServer) annotate(list []api.Job) {
	stages := make(map[string]string)
	for _, running := range s.daemon.orch.Running() {
		stages[running.JobID] = running.Stage
	}
	for i := range list {
		list[i].Stage = stages[list[i].ID]
		if list[i].Status == string(jobs.StatusQueued) {
			list[i].QueuePosition = s.daemon.queue.Position(list[i].ID)
		}
	}
}

func (s *apiServer) loadJob(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	id := chi.URLParam(r, "id")
	job, err := s.daemon.store.Get(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, services.Wrap(services.ErrTransient, "api", "load job", id, err))
		return nil, false
	}
	if job == nil {
		s.writeFailure(w, r, services.Wrap(services.ErrNotFound, "api", "load job", "job "+id, nil))
		return nil, false
	}
	return job, true
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	out := []api.Job{api.FromJob(job, true)}
	s.annotate(out)
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: out[0]})
}

func (s *apiServer) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if s.daemon.orch.IsRunning(job.ID) {
		s.writeFailure(w, r, services.Wrap(services.ErrInvalidState, "api", "delete job", "job is running; stop it first", nil))
		return
	}
	s.daemon.queue.RemoveFromQueue(r.Context(), job.ID)

	if err := workspace.For(s.daemon.cfg.Paths.JobsDir, job.ID).Remove(); err != nil {
		s.writeFailure(w, r, services.Wrap(services.ErrTransient, "api", "remove workspace", job.ID, err))
		return
	}
	deleted, err := s.daemon.store.Delete(r.Context(), job.ID)
	if err != nil {
		s.writeFailure(w, r, services.Wrap(services.ErrTransient, "api", "delete job", job.ID, err))
		return
	}
	if !deleted {
		s.writeFailure(w, r, services.Wrap(services.ErrNotFound, "api", "delete job", "job "+job.ID, nil))
		return
	}
	s.logger.Info("job deleted",
		logging.Job(job.ID),
		logging.String(logging.FieldEventType, "job_deleted"),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleStopJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.daemon.orch.Stop(id) {
		s.writeJSON(w, http.StatusOK, api.StopResponse{JobID: id, Action: api.StopActionStopped})
		return
	}
	if s.daemon.queue.RemoveFromQueue(r.Context(), id) {
		s.writeJSON(w, http.StatusOK, api.StopResponse{JobID: id, Action: api.StopActionRemoved})
		return
	}
	if _, ok := s.loadJob(w, r); !ok {
		return
	}
	s.writeFailure(w, r, services.Wrap(services.ErrNotRunning, "api", "stop job", "job "+id+" is neither running nor queued", nil))
}

func (s *apiServer) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.daemon.queue.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	status := string(jobs.StatusRunning)
	if ticket.Position > 0 {
		status = string(jobs.StatusQueued)
	}
	s.writeJSON(w, http.StatusCreated, api.SubmitResponse{JobID: ticket.JobID, Status: status, Position: ticket.Position})
}

func (s *apiServer) handleGetReview(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	resp := api.ReviewResponse{
		JobID:        job.ID,
		Status:       string(job.Status),
		ReviewStatus: string(job.ReviewStatus),
	}
	if data := strings.TrimSpace(job.ReviewData); data != "" && json.Valid([]byte(data)) {
		resp.ReviewData = json.RawMessage(data)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleResume(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	var req api.ResumeRequest
	if err := decodeValidated(s.daemon.schemas.resume, body, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	position, err := s.daemon.queue.Resume(r.Context(), id, req.Resolutions)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	status := string(jobs.StatusRunning)
	if position > 0 {
		status = string(jobs.StatusQueued)
	}
	s.writeJSON(w, http.StatusAccepted, api.SubmitResponse{JobID: id, Status: status, Position: position})
}

func (s *apiServer) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	since, _ := strconv.ParseInt(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = defaultLogLimit
	}
	limit = min(limit, maxLogLimit)

	entries, err := s.daemon.store.ListLogsSince(r.Context(), job.ID, since, limit)
	if err != nil {
		s.writeFailure(w, r, services.Wrap(services.ErrTransient, "api", "list logs", job.ID, err))
		return
	}
	logs, next := api.FromLogEntries(entries, since)
	s.writeJSON(w, http.StatusOK, api.JobLogsResponse{Logs: logs, Next: next})
}
