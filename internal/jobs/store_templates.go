package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const templateColumns = "id, name, domain, description, icon, config_yaml, is_default, usage_count, created_at, updated_at"

// DefaultTemplates are seeded into an empty database.
var DefaultTemplates = []Template{
	{
		ID:          "tpl-fb-ads",
		Name:        "Facebook Ads",
		Domain:      "facebook-ads",
		Description: "Skill for running Facebook ad campaigns",
		Icon:        "📘",
		ConfigYAML: `name: fb-ads
domain: facebook-ads
language: en
quality_tier: standard
platforms:
  - claude
baseline_sources:
  - url: https://developers.facebook.com/docs/marketing-api
    type: documentation
  - url: https://www.facebook.com/business/help
    type: documentation
`,
		IsDefault: true,
	},
	{
		ID:          "tpl-google-ads",
		Name:        "Google Ads Basics",
		Domain:      "google-ads",
		Description: "Skill for Google Search and Display advertising",
		Icon:        "🔍",
		ConfigYAML: `name: google-ads-basics
domain: google-ads
language: en
quality_tier: standard
platforms: [claude]
baseline_sources:
  - url: https://support.google.com/google-ads
    type: documentation
`,
		IsDefault: true,
	},
	{
		ID:          "tpl-blockchain",
		Name:        "Blockchain & Web3",
		Domain:      "blockchain",
		Description: "Skill for smart contract and DeFi development",
		Icon:        "⛓️",
		ConfigYAML: `name: blockchain-web3
domain: blockchain
language: en
quality_tier: standard
platforms: [claude]
baseline_sources:
  - url: https://docs.soliditylang.org
    type: documentation
`,
		IsDefault: true,
	},
	{
		ID:          "tpl-custom",
		Name:        "Custom Skill",
		Domain:      "custom",
		Description: "Empty starting point",
		Icon:        "⚡",
		ConfigYAML: `name: my-custom-skill
domain: custom
language: en
quality_tier: standard
platforms: [claude]
baseline_sources: []
`,
		IsDefault: true,
	},
}

// SeedTemplates inserts the given templates when the table is empty.
func (s *Store) SeedTemplates(ctx context.Context, templates []Template) error {
	var count int
	if err := s.db.QueryRowContext(ensureContext(ctx), `SELECT COUNT(1) FROM templates`).Scan(&count); err != nil {
		return fmt.Errorf("count templates: %w", err)
	}
	if count > 0 {
		return nil
	}
	for _, t := range templates {
		if err := s.UpsertTemplate(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// UpsertTemplate creates or replaces a template's definition. Usage counts
// survive replacement.
func (s *Store) UpsertTemplate(ctx context.Context, t Template) error {
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" || strings.TrimSpace(t.Name) == "" {
		return errors.New("template id and name are required")
	}
	now := formatTime(time.Now())
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO templates (id, name, domain, description, icon, config_yaml, is_default, usage_count, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            domain = excluded.domain,
            description = excluded.description,
            icon = excluded.icon,
            config_yaml = excluded.config_yaml,
            is_default = excluded.is_default,
            updated_at = excluded.updated_at`,
		t.ID, t.Name, strings.ToLower(strings.TrimSpace(t.Domain)), nullableString(t.Description), t.Icon, t.ConfigYAML, t.IsDefault, now, now,
	); err != nil {
		return fmt.Errorf("upsert template %s: %w", t.ID, err)
	}
	return nil
}

// ListTemplates returns defaults first, then the most used.
func (s *Store) ListTemplates(ctx context.Context) ([]*Template, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+templateColumns+` FROM templates ORDER BY is_default DESC, usage_count DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()
	var out []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTemplate returns the template or nil when the id is unknown.
func (s *Store) GetTemplate(ctx context.Context, id string) (*Template, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+templateColumns+` FROM templates WHERE id = ?`, strings.TrimSpace(id))
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

// IncrementTemplateUsage counts one more job created from the template.
func (s *Store) IncrementTemplateUsage(ctx context.Context, id string) error {
	if _, err := s.execWithRetry(ctx,
		`UPDATE templates SET usage_count = usage_count + 1, updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id,
	); err != nil {
		return fmt.Errorf("increment template usage: %w", err)
	}
	return nil
}

func scanTemplate(scanner interface{ Scan(dest ...any) error }) (*Template, error) {
	var (
		t           Template
		description sql.NullString
		createdRaw  string
		updatedRaw  string
	)
	if err := scanner.Scan(&t.ID, &t.Name, &t.Domain, &description, &t.Icon, &t.ConfigYAML, &t.IsDefault, &t.UsageCount, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	t.Description = description.String
	if ts, err := parseTimeString(createdRaw); err == nil {
		t.CreatedAt = ts
	}
	if ts, err := parseTimeString(updatedRaw); err == nil {
		t.UpdatedAt = ts
	}
	return &t, nil
}
