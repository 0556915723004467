package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"forge/internal/api"
	"forge/internal/config"
	"forge/internal/logging"
	"forge/internal/services"
)

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
	handler  http.Handler

	closing   chan struct{}
	closeOnce sync.Once
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:    strings.TrimSpace(cfg.API.Bind),
		token:   strings.TrimSpace(cfg.API.Token),
		logger:  logging.NewComponentLogger(logger, "api-server"),
		daemon:  d,
		closing: make(chan struct{}),
	}
	srv.handler = srv.routes()
	srv.server = &http.Server{
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.recoverer)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.token))

		r.Get("/api/status", s.handleStatus)
		r.Get("/api/stats", s.handleStats)
		r.Get("/api/logs", s.handleLogs)

		r.Route("/api/jobs", func(r chi.Router) {
			r.Post("/", s.handleSubmit)
			r.Get("/", s.handleListJobs)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Delete("/", s.handleDeleteJob)
				r.Post("/stop", s.handleStopJob)
				r.Post("/retry", s.handleRetryJob)
				r.Get("/review", s.handleGetReview)
				r.Post("/review", s.handleResume)
				r.Get("/logs", s.handleJobLogs)
				r.Get("/stream", s.handleStream)
			})
		})

		r.Post("/api/uploads", s.handleUpload)
		r.Get("/api/baselines", s.handleBaselines)
		r.Get("/api/templates", s.handleTemplates)
		r.Get("/api/settings", s.handleGetSettings)
		r.Put("/api/settings", s.handlePutSettings)
		r.Post("/api/cleanup", s.handleCleanup)
		r.Post("/api/notifications/test", s.handleTestNotification)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.closeOnce.Do(func() { close(s.closing) })
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// requestID tags each request context with a correlation id.
func (s *apiServer) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

func (s *apiServer) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "api handler panic", "api_panic",
					logging.String("path", r.URL.Path),
					logging.Any("panic", rec),
				)
				s.writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

// writeFailure maps a classified error onto its status code and body.
func (s *apiServer) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := services.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "api request failed", "api_request_failed",
			logging.String("path", r.URL.Path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, services.Hint(err)),
		)
	}
	s.writeJSON(w, status, api.ErrorResponse{
		Error:     err.Error(),
		Hint:      services.Hint(err),
		Retryable: services.IsRetryable(err),
	})
}
