package jobconfig_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"forge/internal/jobconfig"
)

const sample = `# build config
name: Rust Async
domain: rust
input_urls:
  - https://example.com/a
  - https://example.com/b
github_repo: tokio-rs/tokio
github_analyze_code: no
extra:
  nested: keep-me
`

func TestParseReadsFields(t *testing.T) {
	doc, err := jobconfig.Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	s := doc.Summary()
	if s.Name != "Rust Async" || s.Domain != "rust" {
		t.Fatalf("unexpected summary %+v", s)
	}
	if !slices.Equal(s.InputURLs, []string{"https://example.com/a", "https://example.com/b"}) {
		t.Fatalf("unexpected urls %v", s.InputURLs)
	}
	if s.GithubAnalyzeCode {
		t.Fatal("expected github_analyze_code false")
	}
	if !s.AutoDiscoverBaseline {
		t.Fatal("auto_discover_baseline should default to true")
	}
	if doc.Has(jobconfig.KeySeekersOutputDir) {
		t.Fatal("seekers_output_dir should be absent")
	}
}

func TestParseEmptyAndInvalid(t *testing.T) {
	doc, err := jobconfig.Parse([]byte("  \n"))
	if err != nil {
		t.Fatalf("Parse empty: %v", err)
	}
	if doc.String(jobconfig.KeyName) != "" {
		t.Fatal("expected empty document")
	}
	if _, err := jobconfig.Parse([]byte("- a\n- b\n")); err == nil {
		t.Fatal("expected error for sequence document")
	}
	if _, err := jobconfig.Parse([]byte("name: [unterminated")); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestStringsAcceptsScalar(t *testing.T) {
	doc, err := jobconfig.Parse([]byte("input_urls: https://example.com\nbaseline_sources: []\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := doc.Strings(jobconfig.KeyInputURLs); !slices.Equal(got, []string{"https://example.com"}) {
		t.Fatalf("unexpected %v", got)
	}
	if got := doc.Strings(jobconfig.KeyBaselineSources); len(got) != 0 {
		t.Fatalf("expected empty list, got %v", got)
	}
}

func TestSetPreservesUnknownKeys(t *testing.T) {
	doc, err := jobconfig.Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	doc.Set(jobconfig.KeySeekersOutputDir, "/data/baselines/rust")
	doc.Set(jobconfig.KeyName, "Renamed")
	doc.SetStrings(jobconfig.KeyBaselineSources, []string{"/tmp/" + jobconfig.BaselineSummaryFile})

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := doc.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	text := string(data)
	for _, want := range []string{"nested: keep-me", "# build config", "seekers_output_dir: /data/baselines/rust", "name: Renamed"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in\n%s", want, text)
		}
	}
	if strings.Index(text, "name:") > strings.Index(text, "domain:") {
		t.Fatalf("key order changed:\n%s", text)
	}

	reloaded, err := jobconfig.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reloaded.MentionsBaselineSummary() {
		t.Fatal("expected baseline summary mention after rewrite")
	}
	if reloaded.String(jobconfig.KeySeekersOutputDir) != "/data/baselines/rust" {
		t.Fatalf("unexpected seekers dir %q", reloaded.String(jobconfig.KeySeekersOutputDir))
	}
}

func TestBoolDefaults(t *testing.T) {
	doc, err := jobconfig.Parse([]byte("a: true\nb: off\nc: maybe\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !doc.Bool("a", false) || doc.Bool("b", true) || !doc.Bool("c", true) || doc.Bool("missing", false) {
		t.Fatal("unexpected boolean interpretation")
	}
}
