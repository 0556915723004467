package worker_test

import (
	"testing"

	"forge/internal/jobs"
	"forge/internal/worker"
)

func TestParseLinePhase(t *testing.T) {
	rec := worker.ParseLine(`{"event":"phase","phase":"p2","name":"Extract","status":"running","progress":40,"message":"extracting"}`)
	phase, ok := rec.(*worker.PhaseRecord)
	if !ok {
		t.Fatalf("expected *PhaseRecord, got %T", rec)
	}
	if phase.Phase != "p2" || phase.Progress != 40 || phase.Name != "Extract" || phase.Status != "running" {
		t.Fatalf("unexpected phase record: %#v", phase)
	}
	if phase.Fields().Message != "extracting" || phase.Fields().Level != jobs.LevelInfo {
		t.Fatalf("unexpected common fields: %#v", phase.Fields())
	}
	if len(phase.Raw) == 0 {
		t.Fatal("expected raw JSON retained")
	}
}

func TestParseLineClampsProgress(t *testing.T) {
	rec := worker.ParseLine(`{"event":"phase","phase":"p1","progress":140}`).(*worker.PhaseRecord)
	if rec.Progress != 100 {
		t.Fatalf("expected clamp to 100, got %d", rec.Progress)
	}
}

func TestParseLineQuality(t *testing.T) {
	rec := worker.ParseLine(`{"event":"quality","phase":"p4","score":91.5,"pass":true,"atoms_count":12,"quality_score":88,"atoms_verified":"30","compression_ratio":0.25}`)
	q, ok := rec.(*worker.QualityRecord)
	if !ok {
		t.Fatalf("expected *QualityRecord, got %T", rec)
	}
	if q.Score == nil || *q.Score != 91.5 || q.Pass == nil || !*q.Pass {
		t.Fatalf("unexpected score fields: %#v", q)
	}
	if q.AtomsVerified == nil || *q.AtomsVerified != 30 {
		t.Fatalf("expected numeric string accepted, got %v", q.AtomsVerified)
	}
	if q.AtomsExtracted != nil {
		t.Fatalf("expected missing field to stay nil")
	}
	if q.CompressionRatio == nil || *q.CompressionRatio != 0.25 {
		t.Fatalf("unexpected compression ratio: %v", q.CompressionRatio)
	}
}

func TestParseLineCost(t *testing.T) {
	rec := worker.ParseLine(`{"api_cost_usd":1.5,"tokens_used":12000,"message":"spent"}`)
	cost, ok := rec.(*worker.CostRecord)
	if !ok {
		t.Fatalf("expected cost record for untagged spend line, got %T", rec)
	}
	if cost.APICostUSD == nil || *cost.APICostUSD != 1.5 || cost.TokensUsed != 12000 {
		t.Fatalf("unexpected cost: %#v", cost)
	}
}

func TestParseLineConflict(t *testing.T) {
	tests := []struct {
		name string
		line string
		want int
	}{
		{"count", `{"event":"conflict","count":2,"conflicts":[{"id":"a"},{"id":"b"}]}`, 2},
		{"list only", `{"event":"conflict","conflicts":[{"id":"a"},{"id":"b","auto_resolved":true}]}`, 1},
		{"empty", `{"event":"conflict","count":0,"conflicts":[]}`, 0},
		{"no list", `{"event":"conflict"}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := worker.ParseLine(tt.line).(*worker.ConflictRecord)
			if !ok {
				t.Fatalf("expected conflict record")
			}
			if got := rec.Unresolved(); got != tt.want {
				t.Fatalf("Unresolved = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseLinePackageAndError(t *testing.T) {
	pkg, ok := worker.ParseLine(`{"event":"package","path":"/out/pkg.zip","output_dir":"/out"}`).(*worker.PackageRecord)
	if !ok || pkg.Path != "/out/pkg.zip" || pkg.OutputDir != "/out" {
		t.Fatalf("unexpected package record: %#v", pkg)
	}

	errRec, ok := worker.ParseLine(`{"event":"error","message":"model refused"}`).(*worker.ErrorRecord)
	if !ok {
		t.Fatal("expected error record")
	}
	if errRec.Level != jobs.LevelError || errRec.Retryable {
		t.Fatalf("unexpected error record: %#v", errRec)
	}
}

func TestParseLineFallbacks(t *testing.T) {
	tests := []struct {
		name string
		line string
		kind worker.Kind
	}{
		{"plain text", "Loading model...", worker.KindText},
		{"broken json", `{"event":"phase"`, worker.KindText},
		{"array", `[1,2,3]`, worker.KindText},
		{"trailing garbage", `{"event":"log"} extra`, worker.KindText},
		{"unknown event", `{"event":"heartbeat","message":"tick"}`, worker.KindLog},
		{"no event", `{"message":"hello"}`, worker.KindLog},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := worker.ParseLine(tt.line)
			if rec.Kind() != tt.kind {
				t.Fatalf("kind = %s, want %s", rec.Kind(), tt.kind)
			}
			if rec.Fields().Message == "" {
				t.Fatal("expected non-empty message")
			}
		})
	}
	text := worker.ParseLine("  plain  ")
	if text.Fields().Level != jobs.LevelInfo || text.Fields().Message != "plain" {
		t.Fatalf("unexpected text fields: %#v", text.Fields())
	}
}

func TestClassifyStderr(t *testing.T) {
	benign := []string{"DeprecationWarning", "FutureWarning"}
	if got := worker.ClassifyStderr("foo.py:1: DeprecationWarning: old api", benign); got != jobs.LevelDebug {
		t.Fatalf("expected debug, got %s", got)
	}
	if got := worker.ClassifyStderr("Traceback (most recent call last):", benign); got != jobs.LevelError {
		t.Fatalf("expected error, got %s", got)
	}
	if got := worker.ClassifyStderr("anything", nil); got != jobs.LevelError {
		t.Fatalf("expected error without patterns, got %s", got)
	}
}
