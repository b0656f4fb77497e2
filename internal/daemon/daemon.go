package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"storybook/internal/config"
	"storybook/internal/logging"
	"storybook/internal/pipeline"
	"storybook/internal/preflight"
	"storybook/internal/queue"
	"storybook/internal/workflow"
)

// Daemon owns the long-running services and enforces single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *queue.Store
	components *pipeline.Components
	workflow   *workflow.Manager
	sweeper    *Sweeper
	api        *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.RWMutex
	checks []preflight.Result
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	APIAddress   string
	Workflow     workflow.StatusSummary
	DatabasePath string
	LockFilePath string
	Checks       []preflight.Result
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, components *pipeline.Components, wf *workflow.Manager) (*Daemon, error) {
	if cfg == nil || store == nil || components == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, pipeline components, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "daemon")

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		components: components,
		workflow:   wf,
		sweeper:    NewSweeper(cfg, store, logger),
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, apiDeps{
		store:     store,
		templates: components.Templates,
		validator: components.Validator,
		jobs:      wf,
		status:    d.Status,
	}, logger)
	return d, nil
}

// Start acquires the daemon lock and launches the workflow manager, the
// sweeper and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another storybook daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.workflow.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start workflow: %w", err)
	}
	d.runPreflight(d.ctx)
	if err := d.sweeper.Start(d.ctx); err != nil {
		d.workflow.Stop()
		d.abortStart()
		return fmt.Errorf("start sweeper: %w", err)
	}
	if err := d.api.start(d.ctx); err != nil {
		d.sweeper.Stop()
		d.workflow.Stop()
		d.abortStart()
		return err
	}

	d.running.Store(true)
	d.logger.Info("storybook daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
	)
	return nil
}

func (d *Daemon) abortStart() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.cancel()
	d.ctx = nil
	d.cancel = nil
}

// Stop stops intake, drains running jobs and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	d.sweeper.Stop()
	d.workflow.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("storybook daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.RLock()
	checks := append([]preflight.Result(nil), d.checks...)
	d.mu.RUnlock()
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		APIAddress:   d.api.address(),
		Workflow:     d.workflow.Status(ctx),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		Checks:       checks,
	}
}

func (d *Daemon) runPreflight(ctx context.Context) {
	var vision preflight.HealthChecker
	if d.components.Vision != nil {
		vision = d.components.Vision
	}
	results := preflight.RunAll(ctx, d.cfg, vision)
	for _, r := range results {
		if r.Passed {
			d.logger.Info("preflight check passed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
				logging.String(logging.FieldEventType, "preflight_passed"),
			)
			continue
		}
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "fix the reported issue and restart the daemon"),
			logging.String(logging.FieldImpact, "jobs depending on it will fail"),
		)
	}
	d.logger.Info("preflight complete",
		logging.String("failures", preflight.Summary(results)),
		logging.Int("failed", len(preflight.Failures(results))),
		logging.String(logging.FieldEventType, "preflight_complete"),
	)
	d.mu.Lock()
	d.checks = results
	d.mu.Unlock()
}
