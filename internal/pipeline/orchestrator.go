package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"runtime/debug"
	"time"

	"storybook/internal/config"
	"storybook/internal/logging"
	"storybook/internal/match"
	"storybook/internal/notifications"
	"storybook/internal/queue"
	"storybook/internal/services"
	"storybook/internal/services/faceswap"
	"storybook/internal/services/stylize"
	"storybook/internal/templates"
)

// Stage names, as recorded in timings and log context.
const (
	StageStart     = "start"
	StageTemplate  = "template"
	StageStylize   = "stylize"
	StageText      = "text"
	StageExtract   = "extract"
	StageReuse     = "reuse"
	StageMatch     = "match"
	StageSwap      = "swap"
	StageComposite = "composite"
	StageProgress  = "progress"
	StageRender    = "render"
	StageFinalize  = "finalize"
)

// Renderer turns a personalized deck into page images or a PDF.
type Renderer interface {
	ToPDF(ctx context.Context, deckPath, outDir string) (string, error)
	ToImages(ctx context.Context, deckPath, outDir string, maxPages int) ([]string, error)
}

// SwapperFactory builds the swap client for one job around that job's
// shared HTTP client.
type SwapperFactory func(client *http.Client) faceswap.Swapper

// ProgressFunc receives the post-composite progress report of a job.
type ProgressFunc func(ctx context.Context, job *queue.Job, completed, total, etaMinutes int) error

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Store     *queue.Store
	Templates *templates.Store
	Matcher   *match.Matcher
	Stylizer  stylize.Stylizer
	Swappers  SwapperFactory
	Renderer  Renderer
	Notifier  notifications.Service
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithProgress replaces the default progress callback, which persists the
// counters through queue.Store.UpdateProgress.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.progress = fn
		}
	}
}

// WithClock overrides the time source used when reporting source preview expiry.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator runs generation jobs.
type Orchestrator struct {
	cfg       *config.Config
	store     *queue.Store
	templates *templates.Store
	matcher   *match.Matcher
	stylizer  stylize.Stylizer
	swappers  SwapperFactory
	renderer  Renderer
	notifier  notifications.Service
	progress  ProgressFunc
	now       func() time.Time
	logger    *slog.Logger
}

// New builds an Orchestrator.
func New(cfg *config.Config, deps Deps, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	o := &Orchestrator{
		cfg:       cfg,
		store:     deps.Store,
		templates: deps.Templates,
		matcher:   deps.Matcher,
		stylizer:  deps.Stylizer,
		swappers:  deps.Swappers,
		renderer:  deps.Renderer,
		notifier:  deps.Notifier,
		now:       time.Now,
		logger:    logging.NewComponentLogger(logger, "pipeline"),
	}
	if o.notifier == nil {
		o.notifier = notifications.NewService(cfg)
	}
	o.progress = o.persistProgress
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) persistProgress(ctx context.Context, job *queue.Job, completed, total, eta int) error {
	return o.store.UpdateProgress(ctx, job.ID, completed, total, eta)
}

// Run executes job. Failures are persisted on the job record before Run
// returns them, so callers only need to log. A logger attached to ctx with
// logging.IntoContext replaces the orchestrator's own.
func (o *Orchestrator) Run(ctx context.Context, job *queue.Job) (err error) {
	if job == nil {
		return errors.New("pipeline: nil job")
	}
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithJobToken(ctx, job.Token)
	base := logging.FromContext(ctx, o.logger)
	r := &run{
		o:       o,
		job:     job,
		dir:     o.cfg.JobDir(job.Token),
		timings: &Timings{},
		base:    base,
		logger:  logging.WithContext(ctx, base),
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pipeline panic: %v", rec)
			r.logger.Error("pipeline panicked",
				logging.String(logging.FieldEventType, "pipeline_panic"),
				logging.Any("panic", rec),
				logging.String("stack", string(debug.Stack())),
			)
		}
		if err != nil {
			r.fail(ctx, err)
		}
		flushCtx := context.WithoutCancel(ctx)
		if flushErr := r.timings.Flush(flushCtx, o.store, job.ID, filepath.Join(o.cfg.Paths.LogDir, "performance"), job.Token); flushErr != nil {
			logging.WarnWithContext(r.logger, "timings not saved", "timings_flush_failed",
				logging.Error(flushErr),
				logging.String(logging.FieldImpact, "stage durations missing for this run"),
			)
		}
	}()

	r.logger.Info("generation started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("kind", string(job.Kind)),
		logging.String("template_id", job.TemplateID),
	)

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{StageStart, r.start},
		{StageTemplate, r.loadTemplate},
		{StageStylize, r.stylize},
		{StageText, r.substituteText},
		{StageExtract, r.extract},
		{StageReuse, r.reusePreview},
		{StageMatch, r.match},
		{StageSwap, r.swap},
		{StageComposite, r.composite},
		{StageProgress, r.reportProgress},
		{StageRender, r.render},
		{StageFinalize, r.finalize},
	}
	for _, step := range steps {
		if err := r.stage(ctx, step.name, step.fn); err != nil {
			return err
		}
	}
	return nil
}

// stage runs one step under its own log context and timing entry.
func (r *run) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return services.Wrap(services.ErrTimeout, name, "run", "job cancelled before stage", err)
	}
	stageCtx := services.WithStage(ctx, name)
	logger := logging.WithContext(stageCtx, r.base)
	start := time.Now()
	logger.Debug("stage started", logging.String(logging.FieldEventType, "stage_start"))
	if err := r.timings.Track(name, func() error { return fn(stageCtx) }); err != nil {
		return err
	}
	logger.Debug("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", time.Since(start)),
	)
	return nil
}

func (r *run) fail(ctx context.Context, runErr error) {
	ctx = context.WithoutCancel(ctx)
	message := services.FailureMessage(runErr)
	attrs := append(logging.ErrorAttrs(runErr),
		logging.String("error_message", message),
		logging.String(logging.FieldImpact, "job marked failed"),
	)
	logging.ErrorWithContext(r.logger, "generation failed", "job_failed", attrs...)

	if !r.started {
		return
	}
	if err := r.o.store.UpdateStatus(ctx, r.job.ID, queue.StatusFailed, message); err != nil {
		r.logger.Error("failed to persist job failure",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_failure_persist_failed"),
		)
	}
	r.job.Status = queue.StatusFailed
	r.job.ErrorMessage = message
	if err := r.o.notifier.NotifyJobFailed(ctx, string(r.job.Kind), r.job.Token, errors.New(message)); err != nil {
		logging.WarnWithContext(r.logger, "failure notification not sent", "notify_failed", logging.Error(err))
	}
}
