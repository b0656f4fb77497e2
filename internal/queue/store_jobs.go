package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreatePreview inserts a queued preview job. An empty token is generated and
// a zero expiry defaults to DefaultPreviewRetention from now.
func (s *Store) CreatePreview(ctx context.Context, req NewPreview) (*Job, error) {
	if strings.TrimSpace(req.TemplateID) == "" {
		return nil, errors.New("template id is required")
	}
	if strings.TrimSpace(req.PhotoPath) == "" {
		return nil, errors.New("photo path is required")
	}
	now := time.Now().UTC()
	token := strings.TrimSpace(req.Token)
	if token == "" {
		token = NewToken()
	}
	expires := req.ExpiresAt
	if expires.IsZero() {
		expires = now.Add(DefaultPreviewRetention)
	}

	timestamp := formatTime(now)
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (
            kind, token, template_id, child_name, photo_path, status,
            created_at, updated_at, expires_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		KindPreview,
		token,
		req.TemplateID,
		req.ChildName,
		req.PhotoPath,
		StatusQueued,
		timestamp,
		timestamp,
		formatTime(expires),
	)
	if err != nil {
		return nil, fmt.Errorf("insert preview: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier. A missing job returns nil, nil.
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetByToken fetches a job by preview token or order number regardless of expiry.
func (s *Store) GetByToken(ctx context.Context, token string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE token = ?`, token)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job by token: %w", err)
	}
	return job, nil
}

// GetPreview fetches a preview job by token. Unknown and expired previews
// both return nil, nil.
func (s *Store) GetPreview(ctx context.Context, token string) (*Job, error) {
	job, err := s.GetByToken(ctx, token)
	if err != nil || job == nil {
		return nil, err
	}
	if job.Kind != KindPreview || job.Expired(time.Now()) {
		return nil, nil
	}
	return job, nil
}

// List returns jobs filtered by status set (or all jobs when no status is
// provided), newest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return scanJobs(rows)
}

// ListByStatus returns jobs in status, oldest first, for dispatch and recovery.
func (s *Store) ListByStatus(ctx context.Context, status Status) ([]*Job, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at, id`, status)
	if err != nil {
		return nil, fmt.Errorf("query by status: %w", err)
	}
	return scanJobs(rows)
}
