package jobs

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

const jobColumns = "id, name, domain, status, current_phase, phase_progress, config_yaml, template_id, quality_score, atoms_extracted, atoms_deduplicated, atoms_verified, compression_ratio, api_cost_usd, tokens_used, output_path, package_path, created_by, created_at, started_at, completed_at, error_message, review_status, review_data"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job               Job
		statusStr         string
		currentPhase      sql.NullString
		templateID        sql.NullString
		qualityScore      sql.NullFloat64
		atomsExtracted    sql.NullInt64
		atomsDeduplicated sql.NullInt64
		atomsVerified     sql.NullInt64
		compressionRatio  sql.NullFloat64
		outputPath        sql.NullString
		packagePath       sql.NullString
		createdRaw        string
		startedRaw        sql.NullString
		completedRaw      sql.NullString
		errorMessage      sql.NullString
		reviewStatus      string
		reviewData        sql.NullString
	)

	if err := scanner.Scan(
		&job.ID,
		&job.Name,
		&job.Domain,
		&statusStr,
		&currentPhase,
		&job.PhaseProgress,
		&job.ConfigYAML,
		&templateID,
		&qualityScore,
		&atomsExtracted,
		&atomsDeduplicated,
		&atomsVerified,
		&compressionRatio,
		&job.APICostUSD,
		&job.TokensUsed,
		&outputPath,
		&packagePath,
		&job.CreatedBy,
		&createdRaw,
		&startedRaw,
		&completedRaw,
		&errorMessage,
		&reviewStatus,
		&reviewData,
	); err != nil {
		return nil, err
	}

	job.Status = Status(statusStr)
	job.CurrentPhase = currentPhase.String
	job.TemplateID = templateID.String
	job.QualityScore = nullFloat(qualityScore)
	job.AtomsExtracted = nullInt(atomsExtracted)
	job.AtomsDeduplicated = nullInt(atomsDeduplicated)
	job.AtomsVerified = nullInt(atomsVerified)
	job.CompressionRatio = nullFloat(compressionRatio)
	job.OutputPath = outputPath.String
	job.PackagePath = packagePath.String
	job.ErrorMessage = errorMessage.String
	job.ReviewStatus = ReviewStatus(reviewStatus)
	job.ReviewData = reviewData.String
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	job.StartedAt = nullTime(startedRaw)
	job.CompletedAt = nullTime(completedRaw)
	return &job, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullTime(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t, err := parseTimeString(v.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}
