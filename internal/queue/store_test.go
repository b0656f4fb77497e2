package queue_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"storybook/internal/queue"
	"storybook/internal/testsupport"
)

func TestCreatePreviewAssignsTokenAndExpiry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	before := time.Now()
	job, err := store.CreatePreview(ctx, queue.NewPreview{TemplateID: "forest", ChildName: "Omar", PhotoPath: "/tmp/p.jpg"})
	if err != nil {
		t.Fatalf("CreatePreview: %v", err)
	}
	if job.ID == 0 || job.Token == "" {
		t.Fatalf("expected id and token, got %#v", job)
	}
	if strings.ContainsAny(job.Token, "-+/=") {
		t.Fatalf("expected URL-safe token, got %q", job.Token)
	}
	if job.Kind != queue.KindPreview || job.Status != queue.StatusQueued {
		t.Fatalf("unexpected kind/status %s/%s", job.Kind, job.Status)
	}
	if job.ExpiresAt == nil || job.ExpiresAt.Before(before.Add(queue.DefaultPreviewRetention-time.Minute)) {
		t.Fatalf("expected default seven day expiry, got %v", job.ExpiresAt)
	}

	fetched, err := store.GetPreview(ctx, job.Token)
	if err != nil || fetched == nil || fetched.ID != job.ID {
		t.Fatalf("GetPreview = %#v, %v", fetched, err)
	}
}

func TestGetPreviewTreatsExpiredAsMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, err := store.CreatePreview(ctx, queue.NewPreview{
		TemplateID: "forest", PhotoPath: "/tmp/p.jpg", ExpiresAt: time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("CreatePreview: %v", err)
	}
	got, err := store.GetPreview(ctx, job.Token)
	if err != nil {
		t.Fatalf("GetPreview: %v", err)
	}
	if got != nil {
		t.Fatalf("expected expired preview to read as missing, got %#v", got)
	}
	raw, err := store.GetByToken(ctx, job.Token)
	if err != nil || raw == nil {
		t.Fatalf("expected row to persist, got %#v %v", raw, err)
	}
}

func TestStatusMachine(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job := testsupport.NewPreview(t, store, "forest", "/tmp/p.jpg")

	if err := store.UpdateFinalPaths(ctx, job.ID, queue.Outputs{}); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("queued -> completed must be rejected, got %v", err)
	}
	if err := store.UpdateStatus(ctx, job.ID, queue.StatusFailed, "x"); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("queued -> failed must be rejected, got %v", err)
	}
	if err := store.MarkStarted(ctx, job.ID); err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}
	if err := store.MarkStarted(ctx, job.ID); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("double start must be rejected, got %v", err)
	}

	started, _ := store.GetByID(ctx, job.ID)
	if started.Status != queue.StatusProcessing || started.StartedAt == nil {
		t.Fatalf("expected processing with started_at, got %#v", started)
	}

	outputs := queue.Outputs{
		PageImages: []string{"/j/slide_0.png", "/j/slide_1.png"},
		Swapped:    map[string]string{"0:4": "/j/composited_0_4.jpg"},
	}
	if err := store.UpdateFinalPaths(ctx, job.ID, outputs); err != nil {
		t.Fatalf("UpdateFinalPaths: %v", err)
	}
	done, _ := store.GetByID(ctx, job.ID)
	if done.Status != queue.StatusCompleted || done.CompletedAt == nil {
		t.Fatalf("expected completed, got %#v", done)
	}
	if len(done.Outputs.PageImages) != 2 || done.Outputs.Swapped["0:4"] == "" {
		t.Fatalf("outputs not persisted: %#v", done.Outputs)
	}
	if err := store.MarkStarted(ctx, job.ID); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("completed -> processing must be rejected, got %v", err)
	}
	if err := store.Retry(ctx, job.ID); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("completed jobs cannot be retried, got %v", err)
	}
}

func TestUpdateStatusFailedTruncatesAndRetryClears(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job := testsupport.NewPreview(t, store, "forest", "/tmp/p.jpg")

	if err := store.MarkStarted(ctx, job.ID); err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}
	if err := store.UpdateProgress(ctx, job.ID, 2, 5, 1); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if err := store.UpdateStatus(ctx, job.ID, queue.StatusFailed, strings.Repeat("x", 2000)); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	failed, _ := store.GetByID(ctx, job.ID)
	if failed.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", failed.Status)
	}
	if n := utf8.RuneCountInString(failed.ErrorMessage); n != 500 {
		t.Fatalf("expected 500 rune error, got %d", n)
	}
	if failed.ImagesCompleted != 2 || failed.ImagesTotal != 5 {
		t.Fatalf("progress not persisted: %d/%d", failed.ImagesCompleted, failed.ImagesTotal)
	}

	if err := store.Retry(ctx, job.ID); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	retried, _ := store.GetByID(ctx, job.ID)
	if retried.Status != queue.StatusQueued || retried.ErrorMessage != "" || retried.StartedAt != nil {
		t.Fatalf("expected clean queued job, got %#v", retried)
	}
}

func TestRecoverInterruptedFailsProcessingJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	running := testsupport.NewPreview(t, store, "forest", "/tmp/a.jpg")
	waiting := testsupport.NewPreview(t, store, "forest", "/tmp/b.jpg")
	if err := store.MarkStarted(ctx, running.ID); err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}

	n, err := store.RecoverInterrupted(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RecoverInterrupted = %d, %v", n, err)
	}
	got, _ := store.GetByID(ctx, running.ID)
	if got.Status != queue.StatusFailed || got.ErrorMessage != queue.InterruptedReason {
		t.Fatalf("unexpected recovered job %#v", got)
	}
	queued, err := store.ListByStatus(ctx, queue.StatusQueued)
	if err != nil || len(queued) != 1 || queued[0].ID != waiting.ID {
		t.Fatalf("expected waiting job to stay queued, got %v %v", queued, err)
	}
}

func TestCreateOrderRequiresCompletedPreview(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	preview := testsupport.NewPreview(t, store, "forest", "/tmp/p.jpg")

	req := queue.NewOrder{PreviewToken: preview.Token, CustomerName: "Sara", CustomerEmail: "Sara@Example.com", ChildAge: 5}
	if _, _, err := store.CreateOrder(ctx, req); !errors.Is(err, queue.ErrPreviewNotReady) {
		t.Fatalf("expected ErrPreviewNotReady, got %v", err)
	}
	if _, _, err := store.CreateOrder(ctx, queue.NewOrder{PreviewToken: "nope", CustomerName: "a", CustomerEmail: "b"}); !errors.Is(err, queue.ErrPreviewNotFound) {
		t.Fatalf("expected ErrPreviewNotFound, got %v", err)
	}

	testsupport.CompletePreview(t, store, preview, queue.Outputs{Swapped: map[string]string{"0:4": "/x.jpg"}})
	order, book, err := store.CreateOrder(ctx, req)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if !strings.HasPrefix(order.OrderNumber, "SB-") || order.JobID != book.ID {
		t.Fatalf("unexpected order %#v", order)
	}
	if book.Kind != queue.KindFullBook || book.SourcePreviewID != preview.ID || book.Token != order.OrderNumber {
		t.Fatalf("unexpected full book job %#v", book)
	}
	if book.ExpiresAt != nil {
		t.Fatal("full book jobs must not expire")
	}

	fetched, err := store.OrderByNumber(ctx, order.OrderNumber)
	if err != nil || fetched == nil {
		t.Fatalf("OrderByNumber: %v", err)
	}
	if !fetched.MatchesEmail(" sara@example.COM ") || fetched.MatchesEmail("other@example.com") {
		t.Fatalf("email matching is wrong for %q", fetched.CustomerEmail)
	}
}

func TestDeleteExpiredPreviewsKeepsSourcesOfUnfinishedBooks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	order := func(preview *queue.Job) *queue.Job {
		t.Helper()
		_, book, err := store.CreateOrder(ctx, queue.NewOrder{PreviewToken: preview.Token, CustomerName: "a", CustomerEmail: "a@b.c"})
		if err != nil {
			t.Fatalf("CreateOrder: %v", err)
		}
		return book
	}
	complete := func(path string) *queue.Job {
		t.Helper()
		return testsupport.CompletePreview(t, store, testsupport.NewPreview(t, store, "forest", path), queue.Outputs{})
	}

	stale := complete("/tmp/a.jpg")
	queued := complete("/tmp/b.jpg")
	failed := complete("/tmp/c.jpg")
	delivered := complete("/tmp/d.jpg")

	order(queued)
	failedBook := order(failed)
	if err := store.MarkStarted(ctx, failedBook.ID); err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}
	if err := store.UpdateStatus(ctx, failedBook.ID, queue.StatusFailed, "render: converter exited 1"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	deliveredBook := order(delivered)
	testsupport.CompletePreview(t, store, deliveredBook, queue.Outputs{PDFPath: "/tmp/book.pdf"})

	deleted, err := store.DeleteExpiredPreviews(ctx, time.Now().Add(queue.DefaultPreviewRetention+time.Hour))
	if err != nil {
		t.Fatalf("DeleteExpiredPreviews: %v", err)
	}
	got := map[int64]bool{}
	for _, job := range deleted {
		got[job.ID] = true
	}
	if len(deleted) != 2 || !got[stale.ID] || !got[delivered.ID] {
		t.Fatalf("expected only the unordered and delivered previews deleted, got %v", got)
	}
	for _, kept := range []*queue.Job{queued, failed} {
		if job, _ := store.GetByID(ctx, kept.ID); job == nil {
			t.Fatalf("preview %s feeds an unfinished full book and must be kept", kept.Token)
		}
	}
	if book, _ := store.GetByID(ctx, deliveredBook.ID); book == nil || book.Status != queue.StatusCompleted {
		t.Fatalf("delivered book should survive its preview, got %+v", book)
	}
}

func TestRecordTimingsRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job := testsupport.NewPreview(t, store, "forest", "/tmp/a.jpg")

	start := time.Now()
	err := store.RecordTimings(ctx, job.ID, []queue.Timing{
		{Stage: "extract", Duration: 1500 * time.Millisecond, StartedAt: start},
		{Stage: "match", Duration: 250 * time.Millisecond, StartedAt: start.Add(2 * time.Second)},
	})
	if err != nil {
		t.Fatalf("RecordTimings: %v", err)
	}
	timings, err := store.Timings(ctx, job.ID)
	if err != nil {
		t.Fatalf("Timings: %v", err)
	}
	if len(timings) != 2 || timings[0].Stage != "extract" || timings[0].Duration != 1500*time.Millisecond {
		t.Fatalf("unexpected timings %#v", timings)
	}
}

func TestHealthCountsStatuses(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	a := testsupport.NewPreview(t, store, "forest", "/tmp/a.jpg")
	testsupport.NewPreview(t, store, "forest", "/tmp/b.jpg")
	if err := store.MarkStarted(ctx, a.ID); err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Total != 2 || health.Queued != 1 || health.Processing != 1 {
		t.Fatalf("unexpected health %#v", health)
	}
	db, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !db.DatabaseExists || !db.DatabaseReadable || !db.IntegrityCheck || db.TotalJobs != 2 {
		t.Fatalf("unexpected database health %#v", db)
	}
}

func TestCanTransitionTable(t *testing.T) {
	allowed := [][2]queue.Status{
		{queue.StatusQueued, queue.StatusProcessing},
		{queue.StatusProcessing, queue.StatusCompleted},
		{queue.StatusProcessing, queue.StatusFailed},
		{queue.StatusFailed, queue.StatusQueued},
	}
	for _, pair := range allowed {
		if !queue.CanTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s allowed", pair[0], pair[1])
		}
	}
	for _, pair := range [][2]queue.Status{
		{queue.StatusQueued, queue.StatusCompleted},
		{queue.StatusCompleted, queue.StatusProcessing},
		{queue.StatusCompleted, queue.StatusQueued},
	} {
		if queue.CanTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s rejected", pair[0], pair[1])
		}
	}
}
