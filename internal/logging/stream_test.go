package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStreamHandlerCarriesWithAttrs(t *testing.T) {
	hub := NewStreamHub(100)
	handler := newStreamHandler(slog.NewTextHandler(io.Discard, nil), hub)

	logger := slog.New(handler).
		With(slog.String(FieldComponent, "queue")).
		With(slog.String(FieldJobID, "abc"))
	logger.Info("admitted", slog.Int("position", 0))

	events, _ := hub.Tail(10)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	evt := events[0]
	if evt.JobID != "abc" || evt.Component != "queue" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if evt.Fields["position"] != "0" {
		t.Fatalf("expected position field, got %v", evt.Fields)
	}
}

func TestStreamHubEvictsOldest(t *testing.T) {
	hub := NewStreamHub(2)
	for _, msg := range []string{"a", "b", "c"} {
		hub.Publish(LogEvent{Message: msg})
	}
	events, next := hub.Tail(10)
	if len(events) != 2 || events[0].Message != "b" || events[1].Message != "c" {
		t.Fatalf("unexpected buffer: %+v", events)
	}
	if next != 3 {
		t.Fatalf("unexpected next sequence: %d", next)
	}
	if hub.FirstSequence() != 2 {
		t.Fatalf("unexpected first sequence: %d", hub.FirstSequence())
	}
}

func TestStreamHubFetchWaitsForEvents(t *testing.T) {
	hub := NewStreamHub(10)
	done := make(chan []LogEvent, 1)
	go func() {
		events, _, _ := hub.Fetch(context.Background(), 0, 10, true)
		done <- events
	}()

	time.Sleep(20 * time.Millisecond)
	hub.Publish(LogEvent{Message: "late"})

	select {
	case events := <-done:
		if len(events) != 1 || events[0].Message != "late" {
			t.Fatalf("unexpected events: %+v", events)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not wake up")
	}
}

func TestStreamHubFetchHonoursCancellation(t *testing.T) {
	hub := NewStreamHub(10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := hub.Fetch(ctx, 0, 10, true)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected context error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not return after cancel")
	}
}

func TestEventArchiveReplaysByJob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	archive, err := NewEventArchive(path)
	if err != nil {
		t.Fatalf("NewEventArchive: %v", err)
	}
	defer archive.Close()

	hub := NewStreamHub(4)
	hub.AddSink(archive)
	hub.Publish(LogEvent{Message: "one", JobID: "a"})
	hub.Publish(LogEvent{Message: "two", JobID: "b"})
	hub.Publish(LogEvent{Message: "three", JobID: "a"})

	events, highest, err := archive.ReadSince(1, 0, "a")
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	if highest != 3 {
		t.Fatalf("unexpected highest: %d", highest)
	}
	if len(events) != 1 || events[0].Message != "three" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestCleanupOldLogsRespectsPatternAndExclude(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().AddDate(0, 0, -10)
	files := map[string]bool{
		"forged-1.log":   true,
		"forged-2.log":   false,
		"keep.txt":       false,
		"forged-cur.log": false,
		"forged-new.log": false,
	}
	for name := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if name != "forged-new.log" {
			if err := os.Chtimes(path, old, old); err != nil {
				t.Fatal(err)
			}
		}
	}
	// forged-2.log is old but excluded through the current pointer.
	removed := CleanupOldLogs(nil, 5, RetentionTarget{
		Dir:     dir,
		Pattern: "forged-*.log",
		Exclude: []string{filepath.Join(dir, "forged-2.log"), filepath.Join(dir, "forged-cur.log")},
	})
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	for name, gone := range files {
		_, err := os.Stat(filepath.Join(dir, name))
		if gone && err == nil {
			t.Fatalf("%s should have been removed", name)
		}
		if !gone && err != nil {
			t.Fatalf("%s should remain: %v", name, err)
		}
	}
}

func TestTeeHandlerDuplicates(t *testing.T) {
	a := NewStreamHub(4)
	b := NewStreamHub(4)
	logger := slog.New(TeeHandler(
		newStreamHandler(slog.NewTextHandler(io.Discard, nil), a),
		nil,
		newStreamHandler(slog.NewTextHandler(io.Discard, nil), b),
	))
	logger.Info("both")
	if ea, _ := a.Tail(1); len(ea) != 1 {
		t.Fatal("first handler missed the record")
	}
	if eb, _ := b.Tail(1); len(eb) != 1 {
		t.Fatal("second handler missed the record")
	}
}
