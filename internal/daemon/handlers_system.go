package daemon

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"forge/internal/api"
	"forge/internal/config"
	"forge/internal/logging"
	"forge/internal/notifications"
	"forge/internal/services"
	"forge/internal/workspace"
)

// maxUploadRequest bounds a whole multipart request.
const maxUploadRequest = 8 * workspace.MaxUploadBytes

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.daemon.store.Stats(r.Context())
	if err != nil {
		s.writeFailure(w, r, services.Wrap(services.ErrTransient, "api", "job stats", "", err))
		return
	}
	resp := api.FromStats(stats)
	resp.QueueLength = s.daemon.queue.QueueLength()
	resp.Running = s.daemon.orch.RunningCount()
	s.writeJSON(w, http.StatusOK, resp)
}

// handleLogs serves the daemon log stream. Cursors older than the in-memory
// ring are served from the archive; follow=1 long-polls for new events.
func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	hub := s.daemon.logHub
	archive := s.daemon.archive
	if hub == nil && archive == nil {
		s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: []api.LogEvent{}})
		return
	}

	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = defaultLogLimit
	}
	follow := query.Get("follow") == "1" || strings.EqualFold(query.Get("follow"), "true")
	tail := query.Get("tail") == "1" || strings.EqualFold(query.Get("tail"), "true")
	jobID := strings.TrimSpace(query.Get("job"))
	component := strings.TrimSpace(query.Get("component"))

	var (
		events []logging.LogEvent
		next   uint64
	)
	if archive != nil && since > 0 {
		if hub == nil || (hub.FirstSequence() > 0 && since < hub.FirstSequence()) {
			archived, cursor, err := archive.ReadSince(since, limit, jobID)
			if err != nil {
				s.logger.Warn("log archive read failed", logging.Error(err))
			} else if len(archived) > 0 {
				events, next = archived, cursor
			}
		}
	}
	if len(events) == 0 && hub != nil {
		if tail && since == 0 && !follow {
			events, next = hub.Tail(limit)
		} else {
			fetched, cursor, err := hub.Fetch(r.Context(), since, limit, follow)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				s.writeFailure(w, r, services.Wrap(services.ErrTransient, "api", "fetch logs", "", err))
				return
			}
			events, next = fetched, cursor
		}
	}
	if next == 0 {
		next = since
	}

	filtered := events[:0:0]
	for _, evt := range events {
		if jobID != "" && evt.JobID != jobID {
			continue
		}
		if component != "" && !strings.EqualFold(component, evt.Component) {
			continue
		}
		filtered = append(filtered, evt)
	}
	s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: api.FromLogEvents(filtered), Next: next})
}

func (s *apiServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadRequest)
	reader, err := r.MultipartReader()
	if err != nil {
		s.writeFailure(w, r, services.Wrap(services.ErrValidation, "api", "upload", "expected multipart/form-data", err))
		return
	}
	batch, err := s.daemon.uploads.Batch()
	if err != nil {
		s.writeFailure(w, r, services.Wrap(services.ErrTransient, "api", "upload", "create batch", err))
		return
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			batch.Discard()
			s.writeFailure(w, r, services.Wrap(services.ErrValidation, "api", "upload", "read multipart body", err))
			return
		}
		if part.FileName() == "" {
			_ = part.Close()
			continue
		}
		_, addErr := batch.Add(part.FileName(), part)
		_ = part.Close()
		if addErr != nil {
			batch.Discard()
			marker := services.ErrTransient
			if errors.Is(addErr, workspace.ErrUploadRejected) {
				marker = services.ErrValidation
			}
			s.writeFailure(w, r, services.Wrap(marker, "api", "upload", "", addErr))
			return
		}
	}
	if len(batch.Files) == 0 {
		batch.Discard()
		s.writeFailure(w, r, services.Wrap(services.ErrValidation, "api", "upload", "no files in request", nil))
		return
	}
	s.logger.Info("upload batch stored",
		logging.String("upload_dir", batch.Dir),
		logging.Int("files", len(batch.Files)),
		logging.Int64("bytes", batch.TotalSize),
		logging.String(logging.FieldEventType, "upload_stored"),
	)
	s.writeJSON(w, http.StatusCreated, api.FromUploadBatch(batch))
}

func (s *apiServer) handleBaselines(w http.ResponseWriter, r *http.Request) {
	list, err := s.daemon.store.ListBaselines(r.Context())
	if err != nil {
		s.writeFailure(w, r, services.Wrap(services.ErrTransient, "api", "list baselines", "", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"baselines": list})
}

func (s *apiServer) handleTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := s.daemon.store.ListTemplates(r.Context())
	if err != nil {
		s.writeFailure(w, r, services.Wrap(services.ErrTransient, "api", "list templates", "", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"templates": list})
}

func (s *apiServer) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.daemon.store.Settings(r.Context())
	if err != nil {
		s.writeFailure(w, r, services.Wrap(services.ErrTransient, "api", "list settings", "", err))
		return
	}
	s.writeJSON(w, http.StatusOK, api.SettingsResponse{Settings: api.FromSettings(settings, config.SensitiveSettings)})
}

// handlePutSettings applies an update. A sensitive key sent back in its
// masked form is left unchanged.
func (s *apiServer) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	var update api.SettingsUpdate
	if err := decodeValidated(s.daemon.schemas.settings, body, &update); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	for key, value := range update {
		if config.SensitiveSettings[key] && strings.HasPrefix(value, "****") {
			continue
		}
		if err := s.daemon.store.SetSetting(r.Context(), key, strings.TrimSpace(value)); err != nil {
			s.writeFailure(w, r, services.Wrap(services.ErrTransient, "api", "update setting", key, err))
			return
		}
		s.logger.Info("setting updated",
			logging.String("key", key),
			logging.String(logging.FieldEventType, "setting_updated"),
		)
	}
	s.handleGetSettings(w, r)
}

func (s *apiServer) handleCleanup(w http.ResponseWriter, r *http.Request) {
	result, err := s.daemon.cleaner.Run(r.Context())
	if err != nil {
		s.writeFailure(w, r, services.Wrap(services.ErrTransient, "api", "cleanup", "", err))
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromCleanup(result))
}

func (s *apiServer) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.notifier.Publish(r.Context(), notifications.EventTest, notifications.Payload{}); err != nil {
		s.writeFailure(w, r, services.WithHint(
			services.Wrap(services.ErrTransient, "api", "test notification", "", err),
			"check the notifications section of the config",
		))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"sent": true})
}
