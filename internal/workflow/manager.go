package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"storybook/internal/config"
	"storybook/internal/logging"
	"storybook/internal/queue"
)

// Runner executes one generation job. The pipeline orchestrator is the
// production implementation; it persists failures itself.
type Runner interface {
	Run(ctx context.Context, job *queue.Job) error
}

// Manager dispatches generation jobs to bounded workers.
type Manager struct {
	cfg    *config.Config
	store  *queue.Store
	runner Runner
	logger *slog.Logger
	jobLog *JobLogger
	slots  *semaphore.Weighted
	grace  time.Duration

	mu         sync.Mutex
	running    bool
	intake     context.Context
	stopIntake context.CancelFunc
	work       context.Context
	stopWork   context.CancelFunc
	wg         sync.WaitGroup
	active     map[int64]struct{}
	lastErr    error
	lastJob    *queue.Job
	processed  int
	failed     int
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithJobLogger overrides where per-job log files are written. A nil
// logger disables them.
func WithJobLogger(jl *JobLogger) ManagerOption {
	return func(m *Manager) {
		m.jobLog = jl
	}
}

// NewManager constructs a workflow manager around runner.
func NewManager(cfg *config.Config, store *queue.Store, runner Runner, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	limit := cfg.Workflow.MaxConcurrentJobs
	if limit < 1 {
		limit = 1
	}
	m := &Manager{
		cfg:    cfg,
		store:  store,
		runner: runner,
		logger: logging.NewComponentLogger(logger, "workflow"),
		jobLog: NewJobLogger(cfg),
		slots:  semaphore.NewWeighted(int64(limit)),
		grace:  cfg.ShutdownGrace(),
		active: make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}
