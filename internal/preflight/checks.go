package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"forge/internal/config"
	"forge/internal/deps"
	"forge/internal/worker"
)

// Toolchain names the interpreter and scripts workers are launched with.
// The daemon fills it from runtime settings so changes made through the API
// are reflected in status output.
type Toolchain struct {
	Python         string
	PipelineDir    string
	ScraperCommand string
	Mock           bool
}

// ToolchainFromConfig returns the toolchain described by the config file.
func ToolchainFromConfig(cfg *config.Config) Toolchain {
	if cfg == nil {
		return Toolchain{}
	}
	return Toolchain{
		Python:         cfg.Worker.Python,
		PipelineDir:    cfg.Worker.PipelineDir,
		ScraperCommand: cfg.Worker.ScraperCommand,
		Mock:           cfg.Worker.Mock,
	}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckAPIKey reports whether workers will receive model credentials.
func CheckAPIKey(key string) Result {
	const name = "Model API key"
	if strings.TrimSpace(key) == "" {
		return Result{Name: name, Detail: "not configured (discovery and content discovery are skipped)"}
	}
	return Result{Name: name, Passed: true, Detail: "configured"}
}

// CheckSystemDeps evaluates the worker toolchain. Both the daemon status
// endpoint and startup logging use this so the requirement list lives in one
// place.
func CheckSystemDeps(tc Toolchain) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "Python",
			Command:     tc.Python,
			Description: "Runs pipeline, discovery and preprocessing workers",
		},
		{
			Name:        "Pipeline CLI",
			Command:     filepath.Join(tc.PipelineDir, "cli.py"),
			Description: "Entry point for builds and preprocessing tools",
			File:        true,
		},
	}
	if tc.Mock {
		requirements = append(requirements, deps.Requirement{
			Name:        "Mock pipeline CLI",
			Command:     filepath.Join(tc.PipelineDir, "mock_cli.py"),
			Description: "Stands in for the pipeline when worker.mock is set",
			File:        true,
		})
	}
	scraper := deps.Requirement{
		Name:        "Scraper",
		Description: "Pre-scrapes baselines for configured domains",
		Optional:    true,
	}
	if bin, _, err := worker.CommandLine(tc.ScraperCommand); err == nil {
		scraper.Command = bin
	}
	requirements = append(requirements, scraper)
	return deps.CheckBinaries(requirements)
}
