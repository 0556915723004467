package preprocess

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// MergedChaptersFile is written to the input directory when chapters merge.
const MergedChaptersFile = "merged-chapters.txt"

var chapterPattern = regexp.MustCompile(`(?i)^(\d{1,3})[\s._-]+(.+)\.pdf$`)

type chapter struct {
	index int
	name  string
}

// MergeChapters concatenates the extracted text of numbered chapter PDFs in
// dir into MergedChaptersFile and deletes the per-chapter text files. It
// returns the number of chapter PDFs detected, or 0 when fewer than two
// chapters match or none of them produced text.
func MergeChapters(dir string, pdfs []string) (int, error) {
	var chapters []chapter
	for _, name := range pdfs {
		m := chapterPattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		chapters = append(chapters, chapter{index: idx, name: name})
	}
	if len(chapters) < 2 {
		return 0, nil
	}
	sort.SliceStable(chapters, func(i, j int) bool { return chapters[i].index < chapters[j].index })

	parts := make([]string, 0, len(chapters))
	for _, ch := range chapters {
		txtPath := filepath.Join(dir, strings.TrimSuffix(ch.name, filepath.Ext(ch.name))+".txt")
		data, err := os.ReadFile(txtPath)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("read chapter text: %w", err)
		}
		if content := strings.TrimSpace(string(data)); content != "" {
			parts = append(parts, fmt.Sprintf("\n--- %s ---\n\n%s", ch.name, content))
		}
		if err := os.Remove(txtPath); err != nil {
			return 0, fmt.Errorf("remove chapter text: %w", err)
		}
	}
	if len(parts) == 0 {
		return 0, nil
	}

	merged := strings.TrimSpace(strings.Join(parts, "\n\n"))
	if err := os.WriteFile(filepath.Join(dir, MergedChaptersFile), []byte(merged), 0o644); err != nil {
		return 0, fmt.Errorf("write merged chapters: %w", err)
	}
	return len(chapters), nil
}

// ListPDFs returns the names of PDF files directly inside dir. A missing
// directory yields nil.
func ListPDFs(dir string) ([]string, error) {
	return listBySuffix(dir, ".pdf", true)
}

// ListMarkdown returns the names of .md files directly inside dir.
func ListMarkdown(dir string) ([]string, error) {
	return listBySuffix(dir, ".md", false)
}

func listBySuffix(dir, suffix string, fold bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		check := name
		if fold {
			check = strings.ToLower(name)
		}
		if strings.HasSuffix(check, suffix) {
			out = append(out, name)
		}
	}
	return out, nil
}
