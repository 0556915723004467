package orchestrator

import (
	"context"
	"path/filepath"
	"strings"

	"forge/internal/config"
	"forge/internal/worker"
)

const (
	cliScript     = "cli.py"
	mockCLIScript = "mock_cli.py"
)

// runtimeSettings is the settings snapshot taken when a run starts.
type runtimeSettings struct {
	Python      string
	PipelineDir string
	APIKey      string
	Model       string
	ModelLight  string
	BaseURL     string
	CacheDir    string
}

func (o *Orchestrator) loadSettings(ctx context.Context) runtimeSettings {
	get := func(key, fallback string) string {
		value, ok, err := o.store.GetSetting(ctx, key)
		if err != nil || !ok || strings.TrimSpace(value) == "" {
			return fallback
		}
		return strings.TrimSpace(value)
	}
	return runtimeSettings{
		Python:      get(config.SettingPythonPath, o.cfg.Worker.Python),
		PipelineDir: get(config.SettingPipelinePath, o.cfg.Worker.PipelineDir),
		APIKey:      get(config.SettingClaudeAPIKey, o.cfg.Discovery.APIKey),
		Model:       get(config.SettingClaudeModel, o.cfg.Discovery.Model),
		ModelLight:  get(config.SettingClaudeModelLight, o.cfg.Discovery.ModelLight),
		BaseURL:     get(config.SettingClaudeBaseURL, o.cfg.Discovery.BaseURL),
		CacheDir:    get(config.SettingSeekersCacheDir, o.cfg.Discovery.CacheDir),
	}
}

// pipelineCLI returns the entry point for build and resolve runs, which
// honours the mock switch.
func (s runtimeSettings) pipelineCLI(mock bool) string {
	if mock {
		return filepath.Join(s.PipelineDir, mockCLIScript)
	}
	return filepath.Join(s.PipelineDir, cliScript)
}

// toolCLI returns the entry point for discovery and preprocessing tools,
// which always use the real pipeline.
func (s runtimeSettings) toolCLI() string {
	return filepath.Join(s.PipelineDir, cliScript)
}

// baseEnv is passed to every Python worker.
func (s runtimeSettings) baseEnv() []string {
	return []string{"PYTHONUNBUFFERED=1", "PYTHONIOENCODING=utf-8"}
}

// pipelineEnv adds credentials and model selection for build and resolve.
func (s runtimeSettings) pipelineEnv() []string {
	return append(s.baseEnv(), worker.EnvPairs(map[string]string{
		"CLAUDE_API_KEY":     s.APIKey,
		"CLAUDE_MODEL":       s.Model,
		"CLAUDE_MODEL_LIGHT": s.ModelLight,
		"CLAUDE_BASE_URL":    s.BaseURL,
		"SEEKERS_CACHE_DIR":  s.CacheDir,
	})...)
}

// modelArgs passes the model selection to discovery tools.
func (s runtimeSettings) modelArgs() []string {
	var args []string
	if s.Model != "" {
		args = append(args, "--model", s.Model)
	}
	if s.ModelLight != "" {
		args = append(args, "--model-light", s.ModelLight)
	}
	if s.BaseURL != "" {
		args = append(args, "--base-url", s.BaseURL)
	}
	return args
}
