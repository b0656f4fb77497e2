package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// DeleteExpiredPreviews removes previews whose expiry is at or before now and
// returns the deleted rows so callers can clean up their files. A preview is
// kept while any full book ordered from it has not completed, failed books
// included since they can be retried.
func (s *Store) DeleteExpiredPreviews(ctx context.Context, now time.Time) ([]*Job, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs p
         WHERE p.kind = ? AND p.expires_at IS NOT NULL AND p.expires_at <= ?
           AND p.status IN (?, ?)
           AND NOT EXISTS (
               SELECT 1 FROM jobs f WHERE f.source_preview_id = p.id AND f.status <> ?
           )`,
		KindPreview, formatTime(now), StatusCompleted, StatusFailed, StatusCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("query expired previews: %w", err)
	}
	expired, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, nil
	}

	ids := make([]any, len(expired))
	for i, job := range expired {
		ids[i] = job.ID
	}
	if _, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id IN (`+makePlaceholders(len(ids))+`)`, ids...); err != nil {
		return nil, fmt.Errorf("delete expired previews: %w", err)
	}
	return expired, nil
}

// RecordTimings stores the stage timings of one run.
func (s *Store) RecordTimings(ctx context.Context, jobID int64, timings []Timing) error {
	if len(timings) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, timing := range timings {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO job_timings (job_id, stage, duration_ms, started_at) VALUES (?, ?, ?, ?)`,
				jobID, timing.Stage, timing.Duration.Milliseconds(), formatTime(timing.StartedAt),
			); err != nil {
				return fmt.Errorf("insert timing: %w", err)
			}
		}
		return nil
	})
}

// Timings returns the recorded stage timings of a job in start order.
func (s *Store) Timings(ctx context.Context, jobID int64) ([]Timing, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT stage, duration_ms, started_at FROM job_timings WHERE job_id = ? ORDER BY started_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query timings: %w", err)
	}
	defer rows.Close()

	var timings []Timing
	for rows.Next() {
		var (
			timing  Timing
			ms      int64
			started string
		)
		if err := rows.Scan(&timing.Stage, &ms, &started); err != nil {
			return nil, err
		}
		timing.Duration = time.Duration(ms) * time.Millisecond
		if t, err := parseTimeString(started); err == nil {
			timing.StartedAt = t
		}
		timings = append(timings, timing)
	}
	return timings, rows.Err()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates job state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{
		Queued:     stats[StatusQueued],
		Processing: stats[StatusProcessing],
		Completed:  stats[StatusCompleted],
		Failed:     stats[StatusFailed],
	}
	for _, count := range stats {
		health.Total += count
	}
	return health, nil
}

// CheckHealth returns diagnostic information about the job database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("job database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat job database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("job database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping job database: %w", err)
	}
	health.DatabaseReadable = true

	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}
	if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM jobs").Scan(&health.TotalJobs); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count jobs: %w", err)
	}

	var integrity string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrity, "ok")
	return health, nil
}
