package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"storybook/internal/config"
	"storybook/internal/logging"
	"storybook/internal/queue"
)

// SweepResult reports what one maintenance pass removed.
type SweepResult struct {
	Previews int
	Logs     int
	Removed  []string
}

// Sweeper deletes expired previews and prunes old logs on a cron schedule.
type Sweeper struct {
	cfg    *config.Config
	store  *queue.Store
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper builds a sweeper for cfg.Workflow.SweepSchedule.
func NewSweeper(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sweeper{
		cfg:    cfg,
		store:  store,
		logger: logging.NewComponentLogger(logger, "sweeper"),
		now:    time.Now,
	}
}

// Start registers the schedule and runs one pass immediately.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Workflow.SweepSchedule, func() { s.runLogged(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", s.cfg.Workflow.SweepSchedule, err)
	}
	c.Start()
	s.cron = c
	go s.runLogged(ctx)
	return nil
}

// Stop halts the schedule and waits for a running pass.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (s *Sweeper) runLogged(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.RunOnce(ctx); err != nil {
		logging.WarnWithContext(s.logger, "sweep failed", "sweep_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "expired previews stay on disk until the next pass"),
		)
	}
}

// RunOnce deletes expired previews with their files and prunes logs older
// than the configured retention.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	expired, err := s.store.DeleteExpiredPreviews(ctx, s.now())
	if err != nil {
		return result, err
	}
	result.Previews = len(expired)
	for _, job := range expired {
		for _, dir := range s.previewDirs(job) {
			if err := os.RemoveAll(dir); err != nil {
				logging.WarnWithContext(s.logger, "preview files not removed", "sweep_remove_failed",
					logging.String("path", dir),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check ownership of the jobs and uploads directories"),
				)
				continue
			}
			result.Removed = append(result.Removed, dir)
		}
	}

	logDir := s.cfg.Paths.LogDir
	if logDir != "" {
		result.Logs = logging.CleanupOldLogs(s.logger, s.cfg.Logging.RetentionDays,
			logging.RetentionTarget{Dir: logDir, Pattern: "*.log", Exclude: []string{logging.LogFilePath(logDir)}},
			logging.RetentionTarget{Dir: filepath.Join(logDir, "jobs"), Pattern: "*.log"},
			logging.RetentionTarget{Dir: filepath.Join(logDir, "performance"), Pattern: "*.json"},
		)
	}

	s.logger.Info("sweep finished",
		logging.String(logging.FieldEventType, "sweep_complete"),
		logging.Int("previews", result.Previews),
		logging.Int("logs", result.Logs),
	)
	return result, nil
}

// previewDirs lists the directories owned by an expired preview: its job
// workspace and the upload directory holding the original photo.
func (s *Sweeper) previewDirs(job *queue.Job) []string {
	dirs := []string{s.cfg.JobDir(job.Token)}
	if job.PhotoPath == "" || s.cfg.Paths.UploadsDir == "" {
		return dirs
	}
	upload := filepath.Dir(job.PhotoPath)
	rel, err := filepath.Rel(s.cfg.Paths.UploadsDir, upload)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return dirs
	}
	return append(dirs, upload)
}
