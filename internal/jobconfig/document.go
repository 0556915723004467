package jobconfig

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Keys the daemon reads or writes.
const (
	KeyName                 = "name"
	KeyDomain               = "domain"
	KeyLanguage             = "language"
	KeyQualityTier          = "quality_tier"
	KeySeekersOutputDir     = "seekers_output_dir"
	KeyInputURLs            = "input_urls"
	KeyGithubRepo           = "github_repo"
	KeyGithubAnalyzeCode    = "github_analyze_code"
	KeyAutoDiscoverBaseline = "auto_discover_baseline"
	KeyBaselineSources      = "baseline_sources"
)

// BaselineSummaryFile is the discovery output the pipeline consumes.
const BaselineSummaryFile = "baseline_summary.json"

// Document is a mutable job config.
type Document struct {
	doc  *yaml.Node
	root *yaml.Node
}

// New returns an empty document.
func New() *Document {
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	return &Document{doc: &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}, root: root}
}

// Parse decodes YAML text. Empty input yields an empty document; a top level
// that is not a mapping is rejected.
func Parse(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return New(), nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse job config: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return New(), nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("parse job config: top level must be a mapping")
	}
	return &Document{doc: &doc, root: root}, nil
}

// Load reads and parses a config file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job config: %w", err)
	}
	return Parse(data)
}

// Bytes encodes the document with two-space indentation.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.doc); err != nil {
		return nil, fmt.Errorf("encode job config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode job config: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes the document atomically.
func (d *Document) Save(path string) error {
	data, err := d.Bytes()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("write job config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write job config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write job config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace job config: %w", err)
	}
	return nil
}

func (d *Document) lookup(key string) *yaml.Node {
	for i := 0; i+1 < len(d.root.Content); i += 2 {
		if d.root.Content[i].Value == key {
			return d.root.Content[i+1]
		}
	}
	return nil
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	return d.lookup(key) != nil
}

// String returns a scalar value, or "" when missing, null or not a scalar.
func (d *Document) String(key string) string {
	node := d.lookup(key)
	if node == nil || node.Kind != yaml.ScalarNode || node.Tag == "!!null" {
		return ""
	}
	return strings.TrimSpace(node.Value)
}

// Strings returns a list of scalars. A single scalar is returned as a
// one-element list.
func (d *Document) Strings(key string) []string {
	node := d.lookup(key)
	if node == nil {
		return nil
	}
	switch node.Kind {
	case yaml.ScalarNode:
		if v := strings.TrimSpace(node.Value); v != "" && node.Tag != "!!null" {
			return []string{v}
		}
	case yaml.SequenceNode:
		out := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				continue
			}
			if v := strings.TrimSpace(item.Value); v != "" {
				out = append(out, v)
			}
		}
		return out
	}
	return nil
}

// Bool interprets a scalar as a boolean, returning def when missing or
// unrecognised.
func (d *Document) Bool(key string, def bool) bool {
	switch strings.ToLower(d.String(key)) {
	case "true", "yes", "on", "1":
		return true
	case "false", "no", "off", "0":
		return false
	default:
		return def
	}
}

// Set stores a string scalar, replacing any existing value.
func (d *Document) Set(key, value string) {
	d.setNode(key, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value})
}

// SetStrings stores a list of strings.
func (d *Document) SetStrings(key string, values []string) {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, v := range values {
		seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v})
	}
	d.setNode(key, seq)
}

func (d *Document) setNode(key string, value *yaml.Node) {
	for i := 0; i+1 < len(d.root.Content); i += 2 {
		if d.root.Content[i].Value == key {
			// Keep comments attached to the old value.
			value.LineComment = d.root.Content[i+1].LineComment
			d.root.Content[i+1] = value
			return
		}
	}
	d.root.Content = append(d.root.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value,
	)
}

// MentionsBaselineSummary reports whether any value already points at a
// discovered baseline summary.
func (d *Document) MentionsBaselineSummary() bool {
	var walk func(n *yaml.Node) bool
	walk = func(n *yaml.Node) bool {
		if n.Kind == yaml.ScalarNode && strings.Contains(n.Value, BaselineSummaryFile) {
			return true
		}
		for _, child := range n.Content {
			if walk(child) {
				return true
			}
		}
		return false
	}
	return walk(d.root)
}

// Summary holds the fields orchestration decisions depend on.
type Summary struct {
	Name                 string
	Domain               string
	Language             string
	QualityTier          string
	SeekersOutputDir     string
	InputURLs            []string
	GithubRepo           string
	GithubAnalyzeCode    bool
	AutoDiscoverBaseline bool
	BaselineSources      []string
}

// Summary extracts the orchestration fields with their defaults applied.
func (d *Document) Summary() Summary {
	return Summary{
		Name:                 d.String(KeyName),
		Domain:               d.String(KeyDomain),
		Language:             d.String(KeyLanguage),
		QualityTier:          d.String(KeyQualityTier),
		SeekersOutputDir:     d.String(KeySeekersOutputDir),
		InputURLs:            d.Strings(KeyInputURLs),
		GithubRepo:           d.String(KeyGithubRepo),
		GithubAnalyzeCode:    d.Bool(KeyGithubAnalyzeCode, true),
		AutoDiscoverBaseline: d.Bool(KeyAutoDiscoverBaseline, true),
		BaselineSources:      d.Strings(KeyBaselineSources),
	}
}
