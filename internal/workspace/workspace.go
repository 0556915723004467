package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"forge/internal/fileutil"
)

const (
	configFile      = "config.yaml"
	resolutionsFile = "resolutions.json"
	inputDirName    = "input"
	outputDirName   = "output"
	baselineDirName = "baseline"
)

// Workspace locates one job's working area.
type Workspace struct {
	root string
}

// For returns the workspace of a job without touching the filesystem.
func For(jobsDir, jobID string) Workspace {
	return Workspace{root: filepath.Join(jobsDir, jobID)}
}

// Create lays out the job directories and writes the config file.
func Create(jobsDir, jobID, configYAML string) (Workspace, error) {
	if strings.TrimSpace(jobID) == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return Workspace{}, fmt.Errorf("invalid job id %q", jobID)
	}
	ws := For(jobsDir, jobID)
	for _, dir := range []string{ws.InputDir(), ws.OutputDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Workspace{}, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(ws.ConfigPath(), []byte(configYAML), 0o644); err != nil {
		return Workspace{}, fmt.Errorf("write job config: %w", err)
	}
	return ws, nil
}

// Dir returns the job's root directory.
func (w Workspace) Dir() string { return w.root }

// ConfigPath returns the job config location.
func (w Workspace) ConfigPath() string { return filepath.Join(w.root, configFile) }

// InputDir returns the directory for user inputs.
func (w Workspace) InputDir() string { return filepath.Join(w.root, inputDirName) }

// OutputDir returns the pipeline output directory.
func (w Workspace) OutputDir() string { return filepath.Join(w.root, outputDirName) }

// BaselineDir returns where job-scoped discovery writes a baseline.
func (w Workspace) BaselineDir() string { return filepath.Join(w.root, baselineDirName) }

// ResolutionsPath returns the conflict resolutions file location.
func (w Workspace) ResolutionsPath() string { return filepath.Join(w.root, resolutionsFile) }

// Exists reports whether the job directory is present.
func (w Workspace) Exists() bool {
	info, err := os.Stat(w.root)
	return err == nil && info.IsDir()
}

// CopyInputs copies files into the input directory by base name and returns
// the names written. Later files with the same base name overwrite earlier
// ones.
func (w Workspace) CopyInputs(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(w.InputDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create input dir: %w", err)
	}
	names := make([]string, 0, len(paths))
	for _, src := range paths {
		name := filepath.Base(src)
		if name == "." || name == string(filepath.Separator) {
			return names, fmt.Errorf("invalid input path %q", src)
		}
		if err := fileutil.CopyFileVerified(src, filepath.Join(w.InputDir(), name)); err != nil {
			return names, fmt.Errorf("copy input %s: %w", src, err)
		}
		names = append(names, name)
	}
	return names, nil
}

// WriteResolutions stores the resolutions document and returns its path.
func (w Workspace) WriteResolutions(data []byte) (string, error) {
	path := w.ResolutionsPath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write resolutions: %w", err)
	}
	return path, nil
}

// Size returns the bytes used by the job directory.
func (w Workspace) Size() int64 {
	return fileutil.DirSize(w.root)
}

// Remove deletes the job directory. A missing directory is not an error.
func (w Workspace) Remove() error {
	if err := os.RemoveAll(w.root); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove workspace: %w", err)
	}
	return nil
}
