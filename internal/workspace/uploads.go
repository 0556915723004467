package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"forge/internal/logging"
	"forge/internal/textutil"
)

// MaxUploadBytes caps a single uploaded file.
const MaxUploadBytes = 50 << 20

var allowedUploadExt = map[string]string{
	".txt":  "text",
	".md":   "markdown",
	".pdf":  "pdf",
	".json": "text",
	".yaml": "text",
	".yml":  "text",
	".csv":  "text",
}

// ErrUploadRejected marks uploads refused for type or size.
var ErrUploadRejected = errors.New("upload rejected")

// UploadedFile describes one stored upload.
type UploadedFile struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// UploadBatch is a group of files stored together.
type UploadBatch struct {
	Dir       string         `json:"upload_dir"`
	Files     []UploadedFile `json:"files"`
	TotalSize int64          `json:"total_size"`
}

// Uploads stages user files before they are attached to a job.
type Uploads struct {
	dir string
}

// NewUploads returns an uploads area rooted at dir.
func NewUploads(dir string) *Uploads {
	return &Uploads{dir: dir}
}

// Dir returns the uploads root.
func (u *Uploads) Dir() string { return u.dir }

// Batch opens a new upload directory.
func (u *Uploads) Batch() (*UploadBatch, error) {
	dir := filepath.Join(u.dir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &UploadBatch{Dir: dir}, nil
}

// Add stores one file in the batch. Unsupported extensions and files larger
// than MaxUploadBytes are rejected and nothing is written.
func (b *UploadBatch) Add(name string, r io.Reader) (UploadedFile, error) {
	name = textutil.SanitizeFileName(filepath.Base(strings.TrimSpace(name)))
	ext := strings.ToLower(filepath.Ext(name))
	kind, ok := allowedUploadExt[ext]
	if !ok || name == "" || name == ext {
		return UploadedFile{}, fmt.Errorf("%w: file type not allowed: %q", ErrUploadRejected, ext)
	}
	target := filepath.Join(b.Dir, name)
	out, err := os.Create(target)
	if err != nil {
		return UploadedFile{}, fmt.Errorf("create upload: %w", err)
	}
	n, err := io.Copy(out, io.LimitReader(r, MaxUploadBytes+1))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(target)
		return UploadedFile{}, fmt.Errorf("write upload: %w", err)
	}
	if n > MaxUploadBytes {
		_ = os.Remove(target)
		return UploadedFile{}, fmt.Errorf("%w: file too large: %s (max %d MB)", ErrUploadRejected, name, MaxUploadBytes>>20)
	}
	file := UploadedFile{Name: name, Path: target, Size: n, Type: kind}
	b.Files = append(b.Files, file)
	b.TotalSize += n
	return file, nil
}

// Discard removes the batch directory.
func (b *UploadBatch) Discard() {
	_ = os.RemoveAll(b.Dir)
}

// CleanStaleResult contains the outcome of a stale directory cleanup operation.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes upload directories older than maxAge.
func (u *Uploads) CleanStale(ctx context.Context, maxAge time.Duration, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}

	root := strings.TrimSpace(u.dir)
	if root == "" {
		return result
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: root, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.IsDir() {
			continue
		}

		dirPath := filepath.Join(root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			if logger != nil {
				logger.Warn("failed to remove stale upload directory",
					logging.String("path", dirPath),
					logging.Error(err),
					logging.String(logging.FieldEventType, "upload_cleanup_failed"),
					logging.String(logging.FieldErrorHint, "check data_dir permissions"),
					logging.String(logging.FieldImpact, "disk space not reclaimed"),
				)
			}
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		if logger != nil {
			logger.Info("removed stale upload directory",
				logging.String("path", dirPath),
				logging.Duration("age", time.Since(info.ModTime())),
				logging.String(logging.FieldEventType, "upload_cleanup"),
			)
		}
	}

	return result
}
