package broadcast

import (
	"errors"
	"sync"
	"testing"

	"forge/internal/logging"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	fail   bool
}

func (r *recorder) Send(event string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("closed")
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	hub := NewHub(logging.NewNop())
	sub := &recorder{}

	hub.Subscribe("job", sub)
	hub.Subscribe("job", sub)
	if got := hub.Count("job"); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}

	if n := hub.Publish("job", EventLog, LogPayload{Message: "hi"}); n != 1 {
		t.Fatalf("expected single delivery, got %d", n)
	}
	if sub.count() != 1 {
		t.Fatalf("double delivery: %v", sub.events)
	}
}

func TestUnsubscribeTwiceAndReleasesEntry(t *testing.T) {
	hub := NewHub(logging.NewNop())
	sub := &recorder{}
	hub.Subscribe("job", sub)

	hub.Unsubscribe("job", sub)
	hub.Unsubscribe("job", sub)
	hub.Unsubscribe("other", sub)

	if got := hub.Count("job"); got != 0 {
		t.Fatalf("expected no subscribers, got %d", got)
	}
	if ids := hub.JobIDs(); len(ids) != 0 {
		t.Fatalf("expected released entry, got %v", ids)
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	hub := NewHub(logging.NewNop())
	if n := hub.Publish("nobody", EventComplete, CompletePayload{Status: "completed"}); n != 0 {
		t.Fatalf("expected zero deliveries, got %d", n)
	}
	var nilHub *Hub
	if n := nilHub.Publish("x", EventLog, nil); n != 0 {
		t.Fatalf("nil hub delivered %d", n)
	}
}

func TestFailingSubscriberIsRemoved(t *testing.T) {
	hub := NewHub(logging.NewNop())
	good := &recorder{}
	bad := &recorder{fail: true}
	hub.Subscribe("job", good)
	hub.Subscribe("job", bad)

	if n := hub.Publish("job", EventLog, nil); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if got := hub.Count("job"); got != 1 {
		t.Fatalf("expected dead subscriber removed, got %d", got)
	}
	hub.Publish("job", EventPhase, nil)
	if good.count() != 2 {
		t.Fatalf("healthy subscriber missed events: %v", good.events)
	}
}

func TestFuncSubscribersHaveDistinctIdentity(t *testing.T) {
	hub := NewHub(logging.NewNop())
	var calls int
	fn := func(string, any) error { calls++; return nil }
	a := Func(fn)
	b := Func(fn)
	hub.Subscribe("job", a)
	hub.Subscribe("job", b)
	hub.Publish("job", EventLog, nil)
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	hub.Unsubscribe("job", a)
	hub.Publish("job", EventLog, nil)
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		payload any
		want    bool
	}{
		{"complete", EventComplete, CompletePayload{Status: "completed"}, true},
		{"terminal error", EventError, ErrorPayload{Message: "spawn", Retryable: true, Terminal: true}, true},
		{"terminal error pointer", EventError, &ErrorPayload{Terminal: true}, true},
		{"worker error", EventError, ErrorPayload{Message: "oops"}, false},
		{"log", EventLog, LogPayload{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTerminal(tt.event, tt.payload); got != tt.want {
				t.Fatalf("IsTerminal = %v, want %v", got, tt.want)
			}
		})
	}
}
