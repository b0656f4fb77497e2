package workflow

import (
	"context"

	"storybook/internal/logging"
	"storybook/internal/queue"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running    bool
	ActiveJobs int
	Processed  int
	Failed     int
	LastError  string
	LastJob    *queue.Job
	QueueStats map[queue.Status]int
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.Lock()
	summary := StatusSummary{
		Running:    m.running,
		ActiveJobs: len(m.active),
		Processed:  m.processed,
		Failed:     m.failed,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastJob != nil {
		copy := *m.lastJob
		summary.LastJob = &copy
	}
	m.mu.Unlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	summary.QueueStats = stats
	return summary
}

// Wait blocks until every worker started so far has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) recordResult(job *queue.Job, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed++
	if err != nil {
		m.failed++
		m.lastErr = err
	}
	copy := *job
	m.lastJob = &copy
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
