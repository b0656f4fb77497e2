package workflow

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"

	"storybook/internal/config"
	"storybook/internal/logging"
	"storybook/internal/queue"
)

// JobLogger writes a dedicated log file for every job it is attached to.
type JobLogger struct {
	baseDir string
	level   string
}

// NewJobLogger returns a JobLogger writing under <log_dir>/jobs, or nil when
// no log directory is configured.
func NewJobLogger(cfg *config.Config) *JobLogger {
	if cfg == nil || strings.TrimSpace(cfg.Paths.LogDir) == "" {
		return nil
	}
	level := strings.TrimSpace(cfg.Logging.Level)
	if level == "" {
		level = "info"
	}
	return &JobLogger{baseDir: filepath.Join(cfg.Paths.LogDir, "jobs"), level: level}
}

// Path returns the log file used for job.
func (j *JobLogger) Path(job *queue.Job) string {
	return filepath.Join(j.baseDir, fmt.Sprintf("%s-%s.log", job.Kind, job.Token))
}

// Attach returns a logger that writes to base and to the job's log file,
// plus a function that closes the file. A nil JobLogger returns base.
func (j *JobLogger) Attach(base *slog.Logger, job *queue.Job) (*slog.Logger, func() error, error) {
	noop := func() error { return nil }
	if j == nil {
		return base, noop, nil
	}
	if job == nil {
		return base, noop, errors.New("job is nil")
	}
	if err := os.MkdirAll(j.baseDir, 0o755); err != nil {
		return base, noop, fmt.Errorf("ensure job log directory: %w", err)
	}
	file, err := os.OpenFile(j.Path(job), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return base, noop, fmt.Errorf("open job log: %w", err)
	}
	fileHandler := logging.NewFileHandler(file, j.level).WithAttrs([]slog.Attr{
		slog.Int64(logging.FieldJobID, job.ID),
		slog.String(logging.FieldJobToken, job.Token),
	})
	return slog.New(slogmulti.Fanout(base.Handler(), fileHandler)), file.Close, nil
}
