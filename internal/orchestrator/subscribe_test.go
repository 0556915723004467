package orchestrator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"forge/internal/broadcast"
	"forge/internal/jobs"
)

func appendLogs(t *testing.T, h *harness, jobID string, messages ...string) []jobs.LogEntry {
	t.Helper()
	var out []jobs.LogEntry
	for _, msg := range messages {
		entry, err := h.store.AppendLog(context.Background(), jobs.LogEntry{JobID: jobID, Level: jobs.LevelInfo, Message: msg})
		if err != nil {
			t.Fatalf("AppendLog: %v", err)
		}
		out = append(out, entry)
	}
	return out
}

func TestSubscribeReplaysFinishedJob(t *testing.T) {
	h := newHarness(t)
	job, _ := h.newJob(t, "name: test\n")
	appendLogs(t, h, job.ID, "one", "two")
	now := time.Now().UTC()
	if err := h.store.Update(context.Background(), job.ID, jobs.Patch{
		Status:       jobs.Ptr(jobs.StatusFailed),
		ErrorMessage: jobs.Ptr(jobs.UserStopReason),
		CompletedAt:  &now,
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	rec := &recorder{}
	sub, err := h.orch.SubscribeToUpdates(context.Background(), job.ID, rec)
	if err != nil {
		t.Fatalf("SubscribeToUpdates: %v", err)
	}
	select {
	case <-sub.Done():
	default:
		t.Fatal("subscription to a finished job should be closed")
	}

	events := rec.snapshot()
	want := []string{broadcast.EventState, broadcast.EventLog, broadcast.EventLog, broadcast.EventComplete}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, name := range want {
		if events[i].name != name {
			t.Fatalf("event %d = %s, want %s", i, events[i].name, name)
		}
	}
	complete := events[3].payload.(broadcast.CompletePayload)
	if complete.Reason != broadcast.ReasonStoppedByUser {
		t.Fatalf("reason = %q", complete.Reason)
	}
	if h.hub.Count(job.ID) != 0 {
		t.Fatal("closed subscription should leave the hub")
	}
}

func TestSubscribeSkipsReplayedLogs(t *testing.T) {
	h := newHarness(t)
	job, _ := h.newJob(t, "name: test\n")
	entries := appendLogs(t, h, job.ID, "stored")

	rec := &recorder{}
	sub, err := h.orch.SubscribeToUpdates(context.Background(), job.ID, rec)
	if err != nil {
		t.Fatalf("SubscribeToUpdates: %v", err)
	}
	defer sub.Close()

	// A live copy of an already replayed entry is dropped.
	h.hub.Publish(job.ID, broadcast.EventLog, broadcast.LogPayload{ID: entries[0].Seq, Message: "stored"})
	h.hub.Publish(job.ID, broadcast.EventLog, broadcast.LogPayload{ID: entries[0].Seq + 1, Message: "live"})
	h.hub.Publish(job.ID, broadcast.EventPhase, broadcast.PhasePayload{Phase: "p2"})

	logs := rec.named(broadcast.EventLog)
	if len(logs) != 2 {
		t.Fatalf("log events = %d, want 2", len(logs))
	}
	if logs[1].payload.(broadcast.LogPayload).Message != "live" {
		t.Fatalf("unexpected live log %+v", logs[1].payload)
	}
	if len(rec.named(broadcast.EventPhase)) != 1 {
		t.Fatal("expected the live phase event")
	}
}

func TestSubscribeClosesOnTerminalEvent(t *testing.T) {
	h := newHarness(t)
	job, _ := h.newJob(t, "name: test\n")

	rec := &recorder{}
	sub, err := h.orch.SubscribeToUpdates(context.Background(), job.ID, rec)
	if err != nil {
		t.Fatalf("SubscribeToUpdates: %v", err)
	}
	h.hub.Publish(job.ID, broadcast.EventError, broadcast.ErrorPayload{Message: "worker hiccup"})
	select {
	case <-sub.Done():
		t.Fatal("non-terminal error must not close the subscription")
	default:
	}

	h.hub.Publish(job.ID, broadcast.EventError, broadcast.ErrorPayload{Message: "spawn", Terminal: true})
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("terminal error should close the subscription")
	}
	h.hub.Publish(job.ID, broadcast.EventLog, broadcast.LogPayload{Message: "late"})
	if len(rec.named(broadcast.EventLog)) != 0 {
		t.Fatal("events after close must not be delivered")
	}
}

func TestSubscribeFailingSinkDetaches(t *testing.T) {
	h := newHarness(t)
	job, _ := h.newJob(t, "name: test\n")

	calls := 0
	sink := broadcast.Func(func(event string, _ any) error {
		calls++
		if event == broadcast.EventPhase {
			return errors.New("connection reset")
		}
		return nil
	})
	sub, err := h.orch.SubscribeToUpdates(context.Background(), job.ID, sink)
	if err != nil {
		t.Fatalf("SubscribeToUpdates: %v", err)
	}
	h.hub.Publish(job.ID, broadcast.EventPhase, broadcast.PhasePayload{Phase: "p1"})
	<-sub.Done()
	before := calls
	h.hub.Publish(job.ID, broadcast.EventPhase, broadcast.PhasePayload{Phase: "p2"})
	if calls != before {
		t.Fatal("detached sink received an event")
	}
	if h.hub.Count(job.ID) != 0 {
		t.Fatal("failing subscriber should be removed")
	}
}

func TestSubscribeUnknownJob(t *testing.T) {
	h := newHarness(t)
	if _, err := h.orch.SubscribeToUpdates(context.Background(), "missing", &recorder{}); err == nil {
		t.Fatal("expected error for unknown job")
	}
}
