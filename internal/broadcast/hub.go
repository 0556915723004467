package broadcast

import (
	"log/slog"
	"sort"
	"sync"

	"forge/internal/logging"
)

// Subscriber receives events for one job. Implementations must be comparable
// (pointer receivers work) so they can be registered and removed by identity.
type Subscriber interface {
	Send(event string, payload any) error
}

type funcSubscriber struct {
	fn func(event string, payload any) error
}

func (f *funcSubscriber) Send(event string, payload any) error {
	return f.fn(event, payload)
}

// Func adapts a callback into a Subscriber with its own identity.
func Func(fn func(event string, payload any) error) Subscriber {
	return &funcSubscriber{fn: fn}
}

// Hub maps job ids to their live subscribers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[Subscriber]struct{}
	logger *slog.Logger
}

// NewHub constructs an empty registry.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[Subscriber]struct{}),
		logger: logging.NewComponentLogger(logger, "broadcast"),
	}
}

// Subscribe registers sub for jobID. Registering the same subscriber twice is
// a no-op.
func (h *Hub) Subscribe(jobID string, sub Subscriber) {
	if h == nil || sub == nil {
		return
	}
	h.mu.Lock()
	set, ok := h.subs[jobID]
	if !ok {
		set = make(map[Subscriber]struct{})
		h.subs[jobID] = set
	}
	set[sub] = struct{}{}
	count := len(set)
	h.mu.Unlock()
	h.logger.Debug("subscriber added",
		logging.Job(jobID),
		logging.Int("subscribers", count),
	)
}

// Unsubscribe removes sub from jobID. Removing the last subscriber releases
// the job's entry. Unknown subscribers are ignored.
func (h *Hub) Unsubscribe(jobID string, sub Subscriber) {
	if h == nil || sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(jobID, sub)
}

func (h *Hub) removeLocked(jobID string, sub Subscriber) bool {
	set, ok := h.subs[jobID]
	if !ok {
		return false
	}
	if _, ok := set[sub]; !ok {
		return false
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, jobID)
	}
	return true
}

// Publish delivers the event to every current subscriber of jobID and
// returns how many accepted it. Failing subscribers are removed.
func (h *Hub) Publish(jobID, event string, payload any) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	set := h.subs[jobID]
	if len(set) == 0 {
		h.mu.RUnlock()
		return 0
	}
	targets := make([]Subscriber, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	delivered := 0
	var dead []Subscriber
	for _, sub := range targets {
		if err := sub.Send(event, payload); err != nil {
			dead = append(dead, sub)
			h.logger.Debug("dropping subscriber",
				logging.Job(jobID),
				logging.String(logging.FieldEventType, event),
				logging.Error(err),
			)
			continue
		}
		delivered++
	}
	if len(dead) > 0 {
		h.mu.Lock()
		for _, sub := range dead {
			h.removeLocked(jobID, sub)
		}
		h.mu.Unlock()
	}
	return delivered
}

// Count returns the number of subscribers for jobID.
func (h *Hub) Count(jobID string) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[jobID])
}

// JobIDs lists job ids with at least one subscriber.
func (h *Hub) JobIDs() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	ids := make([]string, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
