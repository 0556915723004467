package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	JobsDir      string `toml:"jobs_dir"`
	BaselinesDir string `toml:"baselines_dir"`
	LogDir       string `toml:"log_dir"`
	DatabasePath string `toml:"database_path"`
}

// API contains the daemon HTTP listener configuration. InputRoots lists
// directories whose files a submit request may name directly.
type API struct {
	Bind       string   `toml:"bind"`
	Token      string   `toml:"token"`
	InputRoots []string `toml:"input_roots"`
}

// Worker contains configuration for the external pipeline processes.
type Worker struct {
	Python               string   `toml:"python"`
	PipelineDir          string   `toml:"pipeline_dir"`
	Mock                 bool     `toml:"mock"`
	ScraperCommand       string   `toml:"scraper_command"`
	BenignStderrPatterns []string `toml:"benign_stderr_patterns"`
	StopGraceSeconds     int      `toml:"stop_grace_seconds"`
	ScannerMaxLineBytes  int      `toml:"scanner_max_line_bytes"`
}

// Queue contains admission settings.
type Queue struct {
	MaxConcurrent int `toml:"max_concurrent"`
}

// Discovery contains baseline discovery and model credentials.
type Discovery struct {
	Enabled    bool   `toml:"enabled"`
	Language   string `toml:"language"`
	MaxRefs    int    `toml:"max_refs"`
	APIKey     string `toml:"api_key"`
	Model      string `toml:"model"`
	ModelLight string `toml:"model_light"`
	BaseURL    string `toml:"base_url"`
	CacheDir   string `toml:"cache_dir"`
}

// Baseline maps domains to scraper configuration files.
type Baseline struct {
	Domains map[string]string `toml:"domains"`
}

// Cleanup contains retention settings for finished jobs.
type Cleanup struct {
	Enabled         bool `toml:"enabled"`
	RetentionDays   int  `toml:"retention_days"`
	IntervalMinutes int  `toml:"interval_minutes"`
}

// Notifications contains push notification configuration.
type Notifications struct {
	NtfyTopic          string `toml:"ntfy_topic"`
	NtfyServer         string `toml:"ntfy_server"`
	TelegramToken      string `toml:"telegram_token"`
	TelegramChatID     string `toml:"telegram_chat_id"`
	RequestTimeout     int    `toml:"request_timeout"`
	MinIntervalSeconds int    `toml:"min_interval_seconds"`
	Completed          bool   `toml:"completed"`
	Failed             bool   `toml:"failed"`
	Paused             bool   `toml:"paused"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for forge.
//
// Configuration sections by subsystem:
//   - Paths: data, job, baseline and log directories
//   - API: daemon bind address and bearer token
//   - Worker: pipeline interpreter, scripts and process handling
//   - Queue: admission limits
//   - Discovery: baseline discovery and model credentials
//   - Baseline: per-domain scraper configs
//   - Cleanup: finished job retention
//   - Notifications: ntfy and Telegram
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	API           API           `toml:"api"`
	Worker        Worker        `toml:"worker"`
	Queue         Queue         `toml:"queue"`
	Discovery     Discovery     `toml:"discovery"`
	Baseline      Baseline      `toml:"baseline"`
	Cleanup       Cleanup       `toml:"cleanup"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/forge/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("forge.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.JobsDir, c.Paths.BaselinesDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if dir := filepath.Dir(c.Paths.DatabasePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database directory %q: %w", dir, err)
		}
	}
	return nil
}

// CLIScript returns the pipeline entry point the worker invokes.
func (c *Config) CLIScript() string {
	name := "cli.py"
	if c.Worker.Mock {
		name = "mock_cli.py"
	}
	return filepath.Join(c.Worker.PipelineDir, name)
}

// LockPath returns the daemon lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "forged.lock")
}

// UploadsDir returns the staging area for files uploaded through the API.
func (c *Config) UploadsDir() string {
	return filepath.Join(c.Paths.DataDir, "uploads")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "forged.pid")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
