package baseline

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	skillFile         = "SKILL.md"
	summaryFile       = "baseline_summary.json"
	scrapeConfigFile  = "_scrape_config.json"
	referencesDirName = "references"
)

// Exists reports whether dir holds a scraped baseline.
func Exists(dir string) bool {
	if strings.TrimSpace(dir) == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, skillFile))
	return err == nil && !info.IsDir()
}

// SummaryPath returns the discovery summary location inside dir.
func SummaryPath(dir string) string {
	return filepath.Join(dir, summaryFile)
}

// HasSummary reports whether discovery produced a summary in dir.
func HasSummary(dir string) bool {
	info, err := os.Stat(SummaryPath(dir))
	return err == nil && !info.IsDir()
}

// DomainDir returns the shared baseline directory for a domain.
func DomainDir(baselinesDir, domain string) string {
	return filepath.Join(baselinesDir, Slug(domain))
}

// Slug lowercases a domain and replaces anything outside [a-z0-9-] with '-'.
func Slug(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	var b strings.Builder
	lastDash := false
	for _, r := range domain {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// ScraperConfig returns the registered scraper config for a domain when the
// file exists.
func ScraperConfig(domains map[string]string, domain string) (string, bool) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return "", false
	}
	path, ok := domains[domain]
	if !ok || strings.TrimSpace(path) == "" {
		return "", false
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}

// WriteScrapeConfig copies a scraper config into outputDir with output_dir
// overridden and returns the temporary file path. The caller removes it once
// the scrape finishes.
func WriteScrapeConfig(outputDir, scraperConfigPath string) (string, error) {
	data, err := os.ReadFile(scraperConfigPath)
	if err != nil {
		return "", fmt.Errorf("read scraper config: %w", err)
	}
	var cfg map[string]any
	if err := json.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("parse scraper config %s: %w", scraperConfigPath, err)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	cfg["output_dir"] = outputDir

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create baseline dir: %w", err)
	}
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode scraper config: %w", err)
	}
	path := filepath.Join(outputDir, scrapeConfigFile)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return "", fmt.Errorf("write scraper config: %w", err)
	}
	return path, nil
}

// ScrapeArgs returns the scraper sub-command arguments for a config file.
func ScrapeArgs(configPath string) []string {
	return []string{"scrape", "--config", configPath, "--enhance"}
}

// CountReferences counts the markdown references a scrape produced.
func CountReferences(dir string) int {
	count := 0
	root := filepath.Join(dir, referencesDirName)
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(d.Name()), ".md") {
			count++
		}
		return nil
	})
	return count
}
