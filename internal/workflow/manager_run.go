package workflow

import (
	"context"
	"errors"
	"time"

	"storybook/internal/logging"
	"storybook/internal/queue"
	"storybook/internal/services"
)

// ErrNotRunning is returned by Submit when the manager is stopped.
var ErrNotRunning = errors.New("workflow not running")

// Start opens intake, fails jobs a previous process left processing and
// dispatches every job still queued.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	base := context.WithoutCancel(ctx)
	m.intake, m.stopIntake = context.WithCancel(base)
	m.work, m.stopWork = context.WithCancel(base)
	m.running = true
	m.mu.Unlock()

	recovered, err := m.store.RecoverInterrupted(ctx)
	if err != nil {
		m.setLastError(err)
		logging.WarnWithContext(m.logger, "interrupted job recovery failed", "recovery_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check job database access"),
			logging.String(logging.FieldImpact, "jobs from the previous run may stay processing"),
		)
	} else if recovered > 0 {
		m.logger.Info("interrupted jobs marked failed",
			logging.String(logging.FieldEventType, "jobs_recovered"),
			logging.Int64("count", recovered),
		)
	}

	queued, err := m.store.ListByStatus(ctx, queue.StatusQueued)
	if err != nil {
		m.setLastError(err)
		logging.WarnWithContext(m.logger, "queued jobs not dispatched", "queue_fetch_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check job database access"),
			logging.String(logging.FieldImpact, "queued jobs wait until the next restart"),
		)
		return nil
	}
	for _, job := range queued {
		if err := m.Submit(job.ID); err != nil {
			return err
		}
	}
	m.logger.Info("workflow started",
		logging.String(logging.FieldEventType, "workflow_start"),
		logging.Int("max_concurrent_jobs", m.cfg.Workflow.MaxConcurrentJobs),
		logging.Int("redispatched", len(queued)),
	)
	return nil
}

// Submit starts a worker for jobID. Submitting a job that already has a
// worker is a no-op.
func (m *Manager) Submit(jobID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return ErrNotRunning
	}
	if _, ok := m.active[jobID]; ok {
		return nil
	}
	m.active[jobID] = struct{}{}
	m.wg.Add(1)
	go m.worker(m.intake, m.work, jobID)
	return nil
}

// Stop closes intake and waits for running jobs. Jobs still running after
// the shutdown grace period have their context cancelled; Stop returns
// once every worker has exited.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stopIntake, stopWork := m.stopIntake, m.stopWork
	m.mu.Unlock()

	stopIntake()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(m.grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		m.logger.Warn("shutdown grace expired; cancelling running jobs",
			logging.String(logging.FieldEventType, "shutdown_grace_expired"),
			logging.Duration("grace", m.grace),
			logging.String(logging.FieldImpact, "cancelled jobs are marked failed"),
		)
		stopWork()
		<-done
	}
	stopWork()
	m.logger.Info("workflow stopped", logging.String(logging.FieldEventType, "workflow_stop"))
}

func (m *Manager) worker(intake, work context.Context, jobID int64) {
	defer m.wg.Done()
	defer m.release(jobID)

	logger := m.logger.With(logging.Int64(logging.FieldJobID, jobID))
	if err := m.slots.Acquire(intake, 1); err != nil {
		logger.Info("job left queued for next start", logging.String(logging.FieldEventType, "job_deferred"))
		return
	}
	defer m.slots.Release(1)
	if intake.Err() != nil {
		logger.Info("job left queued for next start", logging.String(logging.FieldEventType, "job_deferred"))
		return
	}

	job, err := m.store.GetByID(work, jobID)
	if err != nil {
		m.setLastError(err)
		logging.ErrorWithContext(logger, "job not loaded", "job_load_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check job database access"),
		)
		return
	}
	if job == nil || job.Status != queue.StatusQueued {
		logger.Debug("job no longer queued; skipping")
		return
	}

	jobLogger, closeLog, err := m.jobLog.Attach(logger.With(logging.String(logging.FieldJobToken, job.Token)), job)
	if err != nil {
		logging.WarnWithContext(logger, "job log unavailable", "job_log_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "job logs only reach the daemon log"),
		)
	}
	defer func() {
		if err := closeLog(); err != nil {
			logger.Debug("job log close failed", logging.Error(err))
		}
	}()

	start := time.Now()
	ctx := logging.IntoContext(services.WithJobID(work, job.ID), jobLogger)
	runErr := m.runner.Run(ctx, job)
	m.recordResult(job, runErr)
	if runErr != nil {
		jobLogger.Info("job finished with failure",
			logging.String(logging.FieldEventType, "job_finished"),
			logging.String(logging.FieldErrorKind, string(services.FailureKind(runErr))),
			logging.Duration("elapsed", time.Since(start)),
		)
		return
	}
	jobLogger.Info("job finished",
		logging.String(logging.FieldEventType, "job_finished"),
		logging.Duration("elapsed", time.Since(start)),
	)
}

func (m *Manager) release(jobID int64) {
	m.mu.Lock()
	delete(m.active, jobID)
	m.mu.Unlock()
}
