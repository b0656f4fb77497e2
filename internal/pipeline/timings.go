package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"storybook/internal/fileutil"
	"storybook/internal/queue"
)

// Timings accumulates stage durations for one run.
type Timings struct {
	mu      sync.Mutex
	entries []queue.Timing
	flushed bool
}

// Track runs fn and records how long it took under stage, whatever it returns.
func (t *Timings) Track(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	t.mu.Lock()
	t.entries = append(t.entries, queue.Timing{Stage: stage, Duration: time.Since(start), StartedAt: start})
	t.mu.Unlock()
	return err
}

// Entries returns a copy of the recorded timings in start order.
func (t *Timings) Entries() []queue.Timing {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]queue.Timing(nil), t.entries...)
}

type timingRecord struct {
	Stage      string    `json:"stage"`
	DurationMS int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
}

// Flush persists the timings to the store and to a JSON report in dir.
// Only the first call writes; later calls return nil.
func (t *Timings) Flush(ctx context.Context, store *queue.Store, jobID int64, dir, token string) error {
	t.mu.Lock()
	if t.flushed {
		t.mu.Unlock()
		return nil
	}
	t.flushed = true
	entries := append([]queue.Timing(nil), t.entries...)
	t.mu.Unlock()

	var storeErr error
	if store != nil {
		storeErr = store.RecordTimings(ctx, jobID, entries)
	}
	records := make([]timingRecord, len(entries))
	for i, e := range entries {
		records[i] = timingRecord{Stage: e.Stage, DurationMS: e.Duration.Milliseconds(), StartedAt: e.StartedAt.UTC()}
	}
	fileErr := fileutil.WriteJSON(filepath.Join(dir, token+".json"), records)
	switch {
	case storeErr != nil:
		return fmt.Errorf("record timings: %w", storeErr)
	case fileErr != nil:
		return fmt.Errorf("write timing report: %w", fileErr)
	}
	return nil
}
