package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"forge/internal/broadcast"
	"forge/internal/jobs"
	"forge/internal/logging"
	"forge/internal/services"
)

// ReplayLimit bounds the stored log entries sent when a subscription starts.
const ReplayLimit = 1000

var errSubscriptionClosed = services.Wrap(services.ErrStopped, "broadcast", "send", "subscription closed", nil)

type pendingEvent struct {
	event   string
	payload any
}

// Subscription streams one job's events to a sink: a state snapshot, the
// stored log tail, then live events until a terminal event arrives.
type Subscription struct {
	o     *Orchestrator
	jobID string
	sink  broadcast.Subscriber

	mu        sync.Mutex
	replaying bool
	pending   []pendingEvent
	lastSeq   int64
	closed    bool
	done      chan struct{}
}

// SubscribeToUpdates attaches sink to jobID. The subscription registers for
// live events before reading stored state, so nothing published in between
// is lost; log entries already replayed are not delivered twice.
func (o *Orchestrator) SubscribeToUpdates(ctx context.Context, jobID string, sink broadcast.Subscriber) (*Subscription, error) {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "broadcast", "load job", jobID, err)
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "broadcast", "subscribe", "job "+jobID, nil)
	}

	s := &Subscription{
		o:         o,
		jobID:     jobID,
		sink:      sink,
		replaying: true,
		done:      make(chan struct{}),
	}
	o.hub.Subscribe(jobID, s)

	if err := s.replay(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Subscription) replay(ctx context.Context) error {
	job, err := s.o.store.Get(ctx, s.jobID)
	if err != nil || job == nil {
		return services.Wrap(services.ErrTransient, "broadcast", "reload job", s.jobID, err)
	}
	if err := s.sink.Send(broadcast.EventState, statePayload(job)); err != nil {
		return err
	}
	entries, err := s.o.store.ListLogs(ctx, s.jobID, ReplayLimit)
	if err != nil {
		return services.Wrap(services.ErrTransient, "broadcast", "replay logs", s.jobID, err)
	}
	for _, entry := range entries {
		if err := s.sink.Send(broadcast.EventLog, logPayload(entry)); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(entries) > 0 {
		s.lastSeq = entries[len(entries)-1].Seq
	}
	if job.Status.IsTerminal() {
		if err := s.sink.Send(broadcast.EventComplete, completePayload(job)); err != nil {
			return err
		}
		s.closeLocked()
		return nil
	}
	s.replaying = false
	pending := s.pending
	s.pending = nil
	for _, evt := range pending {
		if s.closed {
			break
		}
		if err := s.deliverLocked(evt.event, evt.payload); err != nil {
			return err
		}
	}
	return nil
}

// Send implements broadcast.Subscriber.
func (s *Subscription) Send(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSubscriptionClosed
	}
	if s.replaying {
		s.pending = append(s.pending, pendingEvent{event: event, payload: payload})
		return nil
	}
	return s.deliverLocked(event, payload)
}

func (s *Subscription) deliverLocked(event string, payload any) error {
	if p, ok := payload.(broadcast.LogPayload); ok && p.ID > 0 {
		if p.ID <= s.lastSeq {
			return nil
		}
		s.lastSeq = p.ID
	}
	if err := s.sink.Send(event, payload); err != nil {
		s.o.logger.Debug("subscriber send failed",
			logging.Job(s.jobID),
			logging.String(logging.FieldEventType, event),
			logging.Error(err),
		)
		s.closeLocked()
		return err
	}
	if broadcast.IsTerminal(event, payload) {
		s.closeLocked()
	}
	return nil
}

// Done is closed once the subscription has ended.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	s.o.hub.Unsubscribe(s.jobID, s)
}

func statePayload(job *jobs.Job) broadcast.StatePayload {
	return broadcast.StatePayload{
		Status:        string(job.Status),
		CurrentPhase:  job.CurrentPhase,
		PhaseProgress: job.PhaseProgress,
		QualityScore:  job.QualityScore,
		ReviewStatus:  string(job.ReviewStatus),
	}
}

// completePayload rebuilds the final event of a job that already finished.
func completePayload(job *jobs.Job) broadcast.CompletePayload {
	p := broadcast.CompletePayload{
		Status:       string(job.Status),
		QualityScore: job.QualityScore,
		PackagePath:  job.PackagePath,
	}
	if job.CompletedAt != nil {
		p.CompletedAt = *job.CompletedAt
	} else {
		p.CompletedAt = time.Now().UTC()
	}
	switch {
	case job.ErrorMessage == jobs.UserStopReason:
		p.Reason = broadcast.ReasonStoppedByUser
	case job.ErrorMessage == jobs.DaemonStopReason:
		p.Reason = broadcast.ReasonDaemonStopped
	case strings.HasPrefix(job.ErrorMessage, "Spawn error"):
		p.Reason = broadcast.ReasonSpawnError
	}
	return p
}
