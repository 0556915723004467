package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	"forge/internal/config"
	"forge/internal/jobs"
	"forge/internal/logging"
)

const userAgent = "Forge/0.1.0"

// Event enumerates notification kinds.
type Event string

const (
	EventJobCompleted Event = "job_completed"
	EventJobFailed    Event = "job_failed"
	EventJobPaused    Event = "job_paused"
	EventTest         Event = "test"
)

// Payload carries event fields keyed by name.
type Payload map[string]any

// Service defines the notification surface exposed to orchestration code.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds the configured notifiers. When nothing is configured a
// noop implementation is returned.
func NewService(cfg *config.Config, logger *slog.Logger) Service {
	if cfg == nil {
		return noopService{}
	}
	n := cfg.Notifications
	timeout := time.Duration(n.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	var backends []notifier
	if topic := strings.TrimSpace(n.NtfyTopic); topic != "" {
		backends = append(backends, &ntfyService{endpoint: ntfyEndpoint(n.NtfyServer, topic), client: client})
	}
	if token, chat := strings.TrimSpace(n.TelegramToken), strings.TrimSpace(n.TelegramChatID); token != "" && chat != "" {
		backends = append(backends, &telegramService{baseURL: telegramAPI, token: token, chatID: chat, client: client})
	}
	if len(backends) == 0 {
		return noopService{}
	}

	interval := time.Duration(n.MinIntervalSeconds) * time.Second
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &dispatcher{
		backends: backends,
		enabled: map[Event]bool{
			EventJobCompleted: n.Completed,
			EventJobFailed:    n.Failed,
			EventJobPaused:    n.Paused,
			EventTest:         true,
		},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logging.NewComponentLogger(logger, "notifications"),
	}
}

// message is the rendered form shared by all backends.
type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type notifier interface {
	name() string
	send(ctx context.Context, msg message) error
}

type dispatcher struct {
	backends []notifier
	enabled  map[Event]bool
	limiter  *rate.Limiter
	logger   *slog.Logger
}

func (d *dispatcher) Publish(ctx context.Context, event Event, payload Payload) error {
	if !d.enabled[event] {
		return nil
	}
	msg, ok := render(event, payload)
	if !ok {
		return fmt.Errorf("unsupported notification event %q", event)
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notification throttled: %w", err)
	}
	var errs []error
	for _, backend := range d.backends {
		if err := backend.send(ctx, msg); err != nil {
			d.logger.Warn("notification delivery failed",
				logging.String("backend", backend.name()),
				logging.String("event", string(event)),
				logging.Error(err),
				logging.String(logging.FieldEventType, "notification_failed"),
				logging.String(logging.FieldErrorHint, "check notifications settings and network reachability"),
				logging.String(logging.FieldImpact, "user was not notified"),
			)
			errs = append(errs, fmt.Errorf("%s: %w", backend.name(), err))
		}
	}
	return errors.Join(errs...)
}

// JobPayload captures the fields used by job notifications.
func JobPayload(job *jobs.Job) Payload {
	if job == nil {
		return Payload{}
	}
	p := Payload{
		"id":       job.ID,
		"name":     job.Name,
		"domain":   job.Domain,
		"status":   string(job.Status),
		"cost_usd": job.APICostUSD,
		"error":    job.ErrorMessage,
	}
	if job.QualityScore != nil {
		p["quality_score"] = *job.QualityScore
	}
	switch {
	case job.AtomsVerified != nil:
		p["atoms"] = *job.AtomsVerified
	case job.AtomsExtracted != nil:
		p["atoms"] = *job.AtomsExtracted
	}
	if job.StartedAt != nil {
		end := time.Now()
		if job.CompletedAt != nil {
			end = *job.CompletedAt
		}
		p["duration"] = end.Sub(*job.StartedAt)
	}
	return p
}

func render(event Event, payload Payload) (message, bool) {
	name := strings.TrimSpace(payloadString(payload, "name"))
	if domain := strings.TrimSpace(payloadString(payload, "domain")); domain != "" {
		name = fmt.Sprintf("%s (%s)", name, cases.Title(language.Und).String(domain))
	}
	switch event {
	case EventJobCompleted:
		return message{
			title:    "Forge - Build Complete",
			body:     fmt.Sprintf("✅ %s\n%s", name, summaryLines(payload)),
			tags:     []string{"forge", "build", "completed"},
			priority: "high",
		}, true
	case EventJobFailed:
		body := fmt.Sprintf("❌ %s\n%s", name, summaryLines(payload))
		if reason := strings.TrimSpace(payloadString(payload, "error")); reason != "" {
			body += "\nError: " + reason
		}
		return message{
			title:    "Forge - Build Failed",
			body:     body,
			tags:     []string{"forge", "build", "failed"},
			priority: "high",
		}, true
	case EventJobPaused:
		body := fmt.Sprintf("⏸ %s\nConflicts need review", name)
		if n, ok := payload["conflicts"].(int); ok && n > 0 {
			body = fmt.Sprintf("⏸ %s\n%d conflict(s) need review", name, n)
		}
		return message{
			title: "Forge - Review Needed",
			body:  body,
			tags:  []string{"forge", "review"},
		}, true
	case EventTest:
		return message{
			title:    "Forge - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"forge", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func summaryLines(payload Payload) string {
	quality := "N/A"
	if q, ok := payload["quality_score"].(float64); ok {
		quality = fmt.Sprintf("%d/100", int(math.Round(q)))
	}
	atoms := 0
	if n, ok := payload["atoms"].(int); ok {
		atoms = n
	}
	cost, _ := payload["cost_usd"].(float64)
	lines := []string{
		"Quality: " + quality,
		fmt.Sprintf("Atoms: %d", atoms),
		fmt.Sprintf("Cost: $%.2f", cost),
	}
	if d, ok := payload["duration"].(time.Duration); ok && d > 0 {
		lines = append(lines, "Time: "+d.Round(time.Second).String())
	}
	return strings.Join(lines, "\n")
}

func payloadString(payload Payload, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
