package preflight

import (
	"os"
	"path/filepath"
	"testing"

	"forge/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckAPIKey(t *testing.T) {
	if CheckAPIKey("  ").Passed {
		t.Fatal("blank key should not pass")
	}
	if !CheckAPIKey("sk-test").Passed {
		t.Fatal("configured key should pass")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(nil, ""); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_CreatedDirectories(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	results := RunAll(cfg, "sk-test")
	if len(results) != 5 {
		t.Fatalf("expected 4 directory checks and the key check, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunAll_ReportsMissingKeyAndCache(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBaselineDomain("cooking", "/etc/forge/cooking.json"))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	failed := Failed(RunAll(cfg, ""))
	names := map[string]bool{}
	for _, r := range failed {
		names[r.Name] = true
	}
	if !names["Scraper cache"] || !names["Model API key"] || len(failed) != 2 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestCheckSystemDeps(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	testsupport.WriteText(t, filepath.Join(cfg.Worker.PipelineDir, "cli.py"), "print('ok')\n")

	tc := ToolchainFromConfig(cfg)
	statuses := CheckSystemDeps(tc)
	if len(statuses) != 3 {
		t.Fatalf("expected python, pipeline and scraper, got %d", len(statuses))
	}
	for _, s := range statuses {
		if !s.Available {
			t.Fatalf("%s unavailable: %s", s.Name, s.Detail)
		}
	}

	tc.Mock = true
	statuses = CheckSystemDeps(tc)
	if len(statuses) != 4 {
		t.Fatalf("expected mock pipeline requirement, got %d", len(statuses))
	}
	if statuses[2].Name != "Mock pipeline CLI" || statuses[2].Available {
		t.Fatalf("mock pipeline should be reported missing: %+v", statuses[2])
	}
}
