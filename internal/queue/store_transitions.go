package queue

import (
	"context"
	"fmt"
	"time"
)

// MarkStarted moves a queued job to processing and persists started_at.
func (s *Store) MarkStarted(ctx context.Context, id int64) error {
	now := formatTime(time.Now())
	return s.transition(ctx, id, StatusProcessing,
		`started_at = ?, completed_at = NULL, error_message = NULL`, now)
}

// UpdateStatus moves a job to status. errMsg is truncated and stored when
// status is failed. Completed jobs should go through UpdateFinalPaths so their
// artifacts are recorded in the same write.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status Status, errMsg string) error {
	switch status {
	case StatusProcessing:
		return s.MarkStarted(ctx, id)
	case StatusFailed:
		return s.transition(ctx, id, StatusFailed,
			`error_message = ?, completed_at = ?`, nullableString(truncateError(errMsg)), formatTime(time.Now()))
	case StatusCompleted:
		return s.transition(ctx, id, StatusCompleted, `completed_at = ?`, formatTime(time.Now()))
	case StatusQueued:
		return s.Retry(ctx, id)
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
}

// SetStylizedPhoto records the stylized child photo for a running job.
func (s *Store) SetStylizedPhoto(ctx context.Context, id int64, path string) error {
	if _, err := s.execWithRetry(ctx,
		`UPDATE jobs SET stylized_photo_path = ?, updated_at = ? WHERE id = ?`,
		nullableString(path), formatTime(time.Now()), id,
	); err != nil {
		return fmt.Errorf("set stylized photo: %w", err)
	}
	return nil
}

// UpdateProgress persists image counters and the remaining-time estimate.
func (s *Store) UpdateProgress(ctx context.Context, id int64, completed, total, etaMinutes int) error {
	if _, err := s.execWithRetry(ctx,
		`UPDATE jobs SET images_completed = ?, images_total = ?, estimated_minutes = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		completed, total, etaMinutes, formatTime(time.Now()), id, StatusProcessing,
	); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// UpdateFinalPaths stores the job's artifacts and marks it completed.
func (s *Store) UpdateFinalPaths(ctx context.Context, id int64, outputs Outputs) error {
	encoded, err := encodeOutputs(outputs)
	if err != nil {
		return err
	}
	return s.transition(ctx, id, StatusCompleted,
		`outputs_json = ?, completed_at = ?, estimated_minutes = 0`, encoded, formatTime(time.Now()))
}

// Retry moves a failed job back to queued, clearing its error and progress.
func (s *Store) Retry(ctx context.Context, id int64) error {
	return s.transition(ctx, id, StatusQueued,
		`error_message = NULL, images_completed = 0, images_total = 0, estimated_minutes = 0,
         started_at = NULL, completed_at = NULL`)
}

// RecoverInterrupted fails jobs left processing by a previous daemon run and
// returns how many were affected.
func (s *Store) RecoverInterrupted(ctx context.Context) (int64, error) {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, completed_at = ?, updated_at = ? WHERE status = ?`,
		StatusFailed, InterruptedReason, now, now, StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}

// transition applies a guarded status change. The UPDATE only matches rows in
// the single allowed predecessor status, so concurrent or stale callers cannot
// skip a state.
func (s *Store) transition(ctx context.Context, id int64, to Status, set string, args ...any) error {
	from, ok := predecessor[to]
	if !ok {
		return fmt.Errorf("%w: no transition into %q", ErrInvalidTransition, to)
	}
	query := `UPDATE jobs SET status = ?, updated_at = ?`
	if set != "" {
		query += `, ` + set
	}
	query += ` WHERE id = ? AND status = ?`

	params := make([]any, 0, len(args)+4)
	params = append(params, to, formatTime(time.Now()))
	params = append(params, args...)
	params = append(params, id, from)

	res, err := s.execWithRetry(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("update job %d to %s: %w", id, to, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("%w: job %d does not exist", ErrInvalidTransition, id)
	}
	return fmt.Errorf("%w: job %d is %s, cannot move to %s", ErrInvalidTransition, id, current.Status, to)
}
