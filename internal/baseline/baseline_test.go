package baseline_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"forge/internal/baseline"
	"forge/internal/testsupport"
)

func TestExistsAndSummary(t *testing.T) {
	dir := t.TempDir()
	if baseline.Exists(dir) || baseline.Exists("") {
		t.Fatal("empty dir should not count as baseline")
	}
	testsupport.WriteText(t, filepath.Join(dir, "SKILL.md"), "# skill")
	if !baseline.Exists(dir) {
		t.Fatal("expected baseline to exist")
	}
	if baseline.HasSummary(dir) {
		t.Fatal("unexpected summary")
	}
	testsupport.WriteText(t, baseline.SummaryPath(dir), "{}")
	if !baseline.HasSummary(dir) {
		t.Fatal("expected summary")
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Facebook Ads": "facebook-ads",
		"  seo ":       "seo",
		"C++/Rust!!":   "c-rust",
		"already-slug": "already-slug",
		"--leading":    "leading",
	}
	for in, want := range tests {
		if got := baseline.Slug(in); got != want {
			t.Fatalf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestScraperConfigRequiresFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "seo.json")
	testsupport.WriteText(t, cfgPath, `{"name":"seo"}`)
	domains := map[string]string{"seo": cfgPath, "ads": filepath.Join(dir, "missing.json")}

	if got, ok := baseline.ScraperConfig(domains, "SEO"); !ok || got != cfgPath {
		t.Fatalf("expected seo config, got %q %v", got, ok)
	}
	if _, ok := baseline.ScraperConfig(domains, "ads"); ok {
		t.Fatal("missing file should not resolve")
	}
	if _, ok := baseline.ScraperConfig(domains, ""); ok {
		t.Fatal("empty domain should not resolve")
	}
}

func TestWriteScrapeConfigOverridesOutput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "seo.json")
	testsupport.WriteText(t, src, `{"name":"seo","output_dir":"/elsewhere","max_pages":10}`)
	out := filepath.Join(dir, "baselines", "seo")

	path, err := baseline.WriteScrapeConfig(out, src)
	if err != nil {
		t.Fatalf("WriteScrapeConfig: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["output_dir"] != out || got["name"] != "seo" || got["max_pages"] != float64(10) {
		t.Fatalf("unexpected config %v", got)
	}

	testsupport.WriteText(t, filepath.Join(dir, "bad.json"), "[1,2")
	if _, err := baseline.WriteScrapeConfig(out, filepath.Join(dir, "bad.json")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestCountReferences(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteText(t, filepath.Join(dir, "references", "a.md"), "x")
	testsupport.WriteText(t, filepath.Join(dir, "references", "nested", "b.MD"), "x")
	testsupport.WriteText(t, filepath.Join(dir, "references", "c.txt"), "x")
	if got := baseline.CountReferences(dir); got != 2 {
		t.Fatalf("CountReferences = %d, want 2", got)
	}
	if got := baseline.CountReferences(filepath.Join(dir, "none")); got != 0 {
		t.Fatalf("missing dir count = %d", got)
	}
}
