package worker

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"forge/internal/jobs"
)

// Kind is the event discriminator of a worker output record.
type Kind string

const (
	KindPhase    Kind = "phase"
	KindQuality  Kind = "quality"
	KindCost     Kind = "cost"
	KindConflict Kind = "conflict"
	KindPackage  Kind = "package"
	KindLog      Kind = "log"
	KindError    Kind = "error"
	KindText     Kind = "text"
)

// Record is one decoded stdout line. The concrete type is one of
// *PhaseRecord, *QualityRecord, *CostRecord, *ConflictRecord,
// *PackageRecord, *LogRecord, *ErrorRecord or *TextRecord.
type Record interface {
	Kind() Kind
	Fields() Common
}

// Common carries the fields every structured record may set.
type Common struct {
	Level   jobs.LogLevel
	Phase   string
	Message string
	// Raw is the original JSON object, persisted as log metadata.
	Raw json.RawMessage
}

func (c Common) Fields() Common { return c }

type PhaseRecord struct {
	Common
	Name     string
	Status   string
	Progress int
}

func (*PhaseRecord) Kind() Kind { return KindPhase }

type QualityRecord struct {
	Common
	Score             *float64
	Pass              *bool
	AtomsCount        *int
	QualityScore      *float64
	AtomsExtracted    *int
	AtomsDeduplicated *int
	AtomsVerified     *int
	CompressionRatio  *float64
}

func (*QualityRecord) Kind() Kind { return KindQuality }

type CostRecord struct {
	Common
	APICostUSD *float64
	TokensUsed int64
}

func (*CostRecord) Kind() Kind { return KindCost }

type ConflictRecord struct {
	Common
	Count     int
	Conflicts json.RawMessage
}

func (*ConflictRecord) Kind() Kind { return KindConflict }

// Unresolved returns the number of conflicts needing a human decision: the
// reported count when positive, otherwise the entries not flagged
// auto_resolved.
func (r *ConflictRecord) Unresolved() int {
	if r.Count > 0 {
		return r.Count
	}
	var items []map[string]any
	if err := json.Unmarshal(r.Conflicts, &items); err != nil {
		return 0
	}
	n := 0
	for _, item := range items {
		if resolved, _ := item["auto_resolved"].(bool); !resolved {
			n++
		}
	}
	return n
}

type PackageRecord struct {
	Common
	Path      string
	OutputDir string
}

func (*PackageRecord) Kind() Kind { return KindPackage }

type LogRecord struct {
	Common
}

func (*LogRecord) Kind() Kind { return KindLog }

type ErrorRecord struct {
	Common
	Retryable bool
}

func (*ErrorRecord) Kind() Kind { return KindError }

// TextRecord is an unstructured line.
type TextRecord struct {
	Text string
}

func (*TextRecord) Kind() Kind { return KindText }

func (r *TextRecord) Fields() Common {
	return Common{Level: jobs.LevelInfo, Message: r.Text}
}

// ParseLine decodes one stdout line. It never fails: input that is not a
// JSON object yields a *TextRecord.
func ParseLine(line string) Record {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return &TextRecord{Text: trimmed}
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || dec.More() {
		return &TextRecord{Text: trimmed}
	}

	common := Common{
		Level:   jobs.ParseLogLevel(stringField(obj, "level")),
		Phase:   stringField(obj, "phase"),
		Message: stringField(obj, "message"),
		Raw:     json.RawMessage(trimmed),
	}
	if common.Message == "" {
		common.Message = trimmed
	}

	kind := Kind(strings.ToLower(stringField(obj, "event")))
	if kind == "" && obj["api_cost_usd"] != nil {
		kind = KindCost
	}
	switch kind {
	case KindPhase:
		return &PhaseRecord{
			Common:   common,
			Name:     stringField(obj, "name"),
			Status:   stringField(obj, "status"),
			Progress: clampPercent(intField(obj, "progress")),
		}
	case KindQuality:
		return &QualityRecord{
			Common:            common,
			Score:             floatField(obj, "score"),
			Pass:              boolField(obj, "pass"),
			AtomsCount:        intField(obj, "atoms_count"),
			QualityScore:      floatField(obj, "quality_score"),
			AtomsExtracted:    intField(obj, "atoms_extracted"),
			AtomsDeduplicated: intField(obj, "atoms_deduplicated"),
			AtomsVerified:     intField(obj, "atoms_verified"),
			CompressionRatio:  floatField(obj, "compression_ratio"),
		}
	case KindCost:
		rec := &CostRecord{Common: common, APICostUSD: floatField(obj, "api_cost_usd")}
		if tokens := floatField(obj, "tokens_used"); tokens != nil {
			rec.TokensUsed = int64(*tokens)
		}
		return rec
	case KindConflict:
		rec := &ConflictRecord{Common: common}
		if n := intField(obj, "count"); n != nil {
			rec.Count = *n
		}
		if raw, ok := obj["conflicts"]; ok && raw != nil {
			rec.Conflicts = rawField(trimmed, "conflicts")
		}
		return rec
	case KindPackage:
		return &PackageRecord{
			Common:    common,
			Path:      stringField(obj, "path"),
			OutputDir: stringField(obj, "output_dir"),
		}
	case KindError:
		if stringField(obj, "level") == "" {
			common.Level = jobs.LevelError
		}
		retryable, _ := obj["retryable"].(bool)
		return &ErrorRecord{Common: common, Retryable: retryable}
	default:
		return &LogRecord{Common: common}
	}
}

func stringField(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func floatField(obj map[string]any, key string) *float64 {
	var f float64
	switch v := obj[key].(type) {
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func intField(obj map[string]any, key string) *int {
	f := floatField(obj, key)
	if f == nil {
		return nil
	}
	n := int(math.Round(*f))
	return &n
}

func boolField(obj map[string]any, key string) *bool {
	v, ok := obj[key].(bool)
	if !ok {
		return nil
	}
	return &v
}

func clampPercent(v *int) int {
	if v == nil {
		return 0
	}
	return max(0, min(100, *v))
}

// rawField re-extracts a member as raw JSON so nested payloads are kept
// byte for byte.
func rawField(line, key string) json.RawMessage {
	var members map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &members); err != nil {
		return nil
	}
	raw := bytes.TrimSpace(members[key])
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return raw
}
