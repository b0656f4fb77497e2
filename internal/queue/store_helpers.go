package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"storybook/internal/services"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const jobColumns = "id, kind, token, template_id, child_name, photo_path, stylized_photo_path, source_preview_id, status, error_message, images_completed, images_total, estimated_minutes, outputs_json, created_at, updated_at, started_at, completed_at, expires_at"

// NewToken returns an opaque, URL-safe preview token.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("SB-%s-%s", now.UTC().Format("20060102"), suffix)
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job          Job
		kind         string
		status       string
		stylized     sql.NullString
		sourceID     sql.NullInt64
		errorMessage sql.NullString
		outputsRaw   sql.NullString
		createdRaw   string
		updatedRaw   string
		startedRaw   sql.NullString
		completedRaw sql.NullString
		expiresRaw   sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&kind,
		&job.Token,
		&job.TemplateID,
		&job.ChildName,
		&job.PhotoPath,
		&stylized,
		&sourceID,
		&status,
		&errorMessage,
		&job.ImagesCompleted,
		&job.ImagesTotal,
		&job.EstimatedMinutes,
		&outputsRaw,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&completedRaw,
		&expiresRaw,
	); err != nil {
		return nil, err
	}
	job.Kind = Kind(kind)
	job.Status = Status(status)
	job.StylizedPhotoPath = stylized.String
	job.SourcePreviewID = sourceID.Int64
	job.ErrorMessage = errorMessage.String
	if outputsRaw.Valid && outputsRaw.String != "" {
		if err := json.Unmarshal([]byte(outputsRaw.String), &job.Outputs); err != nil {
			return nil, fmt.Errorf("decode outputs for job %d: %w", job.ID, err)
		}
	}
	if t, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = t
	}
	job.StartedAt = parseNullableTime(startedRaw)
	job.CompletedAt = parseNullableTime(completedRaw)
	job.ExpiresAt = parseNullableTime(expiresRaw)
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	defer rows.Close()
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func encodeOutputs(outputs Outputs) (any, error) {
	if len(outputs.PageImages) == 0 && len(outputs.Swapped) == 0 && outputs.DeckPath == "" && outputs.PDFPath == "" {
		return nil, nil
	}
	data, err := json.Marshal(outputs)
	if err != nil {
		return nil, fmt.Errorf("encode outputs: %w", err)
	}
	return string(data), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt64(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil || value.IsZero() {
		return nil
	}
	return formatTime(*value)
}

func parseNullableTime(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	t, err := parseTimeString(raw.String)
	if err != nil {
		return nil
	}
	return &t
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

func truncateError(msg string) string {
	return services.TruncateMessage(msg, maxErrorMessageLength)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
