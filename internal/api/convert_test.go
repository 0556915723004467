package api

import (
	"encoding/json"
	"slices"
	"testing"
	"time"

	"forge/internal/jobs"
)

func TestFromJob(t *testing.T) {
	score := 0.87
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	job := &jobs.Job{
		ID:            "j1",
		Name:          "Cooking",
		Status:        jobs.StatusRunning,
		CurrentPhase:  "P3",
		PhaseProgress: 40,
		ConfigYAML:    "name: Cooking\n",
		QualityScore:  &score,
		CreatedAt:     started.Add(-time.Minute),
		StartedAt:     &started,
		ReviewStatus:  jobs.ReviewNone,
	}

	dto := FromJob(job, false)
	if dto.Status != "running" || dto.PhaseProgress != 40 {
		t.Fatalf("unexpected dto %+v", dto)
	}
	if dto.PhaseName != jobs.PhaseName("P3") {
		t.Fatalf("phase name = %q", dto.PhaseName)
	}
	if dto.ConfigYAML != "" {
		t.Fatal("config omitted unless requested")
	}
	if dto.StartedAt != "2026-03-01T10:00:00.000Z" || dto.CompletedAt != "" {
		t.Fatalf("timestamps = %q / %q", dto.StartedAt, dto.CompletedAt)
	}
	if FromJob(job, true).ConfigYAML == "" {
		t.Fatal("config requested but missing")
	}
}

func TestFromLogEntriesCursor(t *testing.T) {
	entries := []jobs.LogEntry{{Seq: 4, Message: "a"}, {Seq: 7, Message: "b"}}
	logs, next := FromLogEntries(entries, 2)
	if len(logs) != 2 || next != 7 {
		t.Fatalf("logs = %d next = %d", len(logs), next)
	}
	if _, next := FromLogEntries(nil, 9); next != 9 {
		t.Fatalf("empty page should keep cursor, got %d", next)
	}
}

func TestFromSettingsMasksSecrets(t *testing.T) {
	settings := []jobs.Setting{
		{Key: "claude_api_key", Value: "sk-ant-1234567890abcd"},
		{Key: "max_concurrent_jobs", Value: "2"},
	}
	out := FromSettings(settings, map[string]bool{"claude_api_key": true})
	if out[0].Value != "****abcd" || !out[0].Sensitive {
		t.Fatalf("secret not masked: %+v", out[0])
	}
	if out[1].Value != "2" || out[1].Sensitive {
		t.Fatalf("plain setting changed: %+v", out[1])
	}
	if MaskSecret("short") != "****" || MaskSecret("") != "" {
		t.Fatal("unexpected mask for short values")
	}
}

func TestStatusCountsOrder(t *testing.T) {
	got := StatusCounts(map[string]int{"failed": 1, "pending": 2, "zzz": 0, "running": 3})
	want := []string{"pending", "running", "failed", "zzz"}
	if !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestEncodeStreamMessage(t *testing.T) {
	raw, err := EncodeStreamMessage("phase", map[string]any{"phase": "P1", "progress": 10})
	if err != nil {
		t.Fatalf("EncodeStreamMessage: %v", err)
	}
	var msg StreamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Event != "phase" || string(msg.Data) != `{"phase":"P1","progress":10}` {
		t.Fatalf("unexpected frame %s", raw)
	}
}
