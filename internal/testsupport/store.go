package testsupport

import (
	"context"
	"testing"
	"time"

	"storybook/internal/config"
	"storybook/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewPreview creates a queued preview job for tests.
func NewPreview(t testing.TB, store *queue.Store, templateID, photoPath string) *queue.Job {
	t.Helper()

	job, err := store.CreatePreview(context.Background(), queue.NewPreview{
		TemplateID: templateID,
		ChildName:  "Layla",
		PhotoPath:  photoPath,
		ExpiresAt:  time.Now().Add(queue.DefaultPreviewRetention),
	})
	if err != nil {
		t.Fatalf("store.CreatePreview: %v", err)
	}
	return job
}

// CompletePreview drives a preview through processing to completed with outputs.
func CompletePreview(t testing.TB, store *queue.Store, job *queue.Job, outputs queue.Outputs) *queue.Job {
	t.Helper()

	ctx := context.Background()
	if err := store.MarkStarted(ctx, job.ID); err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}
	if err := store.UpdateFinalPaths(ctx, job.ID, outputs); err != nil {
		t.Fatalf("UpdateFinalPaths: %v", err)
	}
	done, err := store.GetByID(ctx, job.ID)
	if err != nil || done == nil {
		t.Fatalf("GetByID: %v", err)
	}
	return done
}
