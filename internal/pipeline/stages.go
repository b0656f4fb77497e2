package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"storybook/internal/deck"
	"storybook/internal/fileutil"
	"storybook/internal/logging"
	"storybook/internal/match"
	"storybook/internal/queue"
	"storybook/internal/services"
	"storybook/internal/templates"
)

// run is the state of one Orchestrator.Run call.
type run struct {
	o       *Orchestrator
	job     *queue.Job
	dir     string
	timings *Timings
	base    *slog.Logger
	logger  *slog.Logger
	started bool

	source   *queue.Job
	tmpl     *templates.Template
	refs     [][]float64
	photo    string
	textDeck string
	images   []deck.ExtractedImage
	pending  []deck.ExtractedImage
	matches  []match.Match
	swapped  []string
	done     map[deck.ShapeKey]string
	outputs  queue.Outputs
}

func (r *run) start(ctx context.Context) error {
	if err := r.o.store.MarkStarted(ctx, r.job.ID); err != nil {
		return fmt.Errorf("mark started: %w", err)
	}
	r.started = true
	r.job.Status = queue.StatusProcessing
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return services.Wrap(services.ErrFatalInput, StageStart, "workspace", "create job directory", err)
	}
	return nil
}

func (r *run) loadTemplate(ctx context.Context) error {
	if r.job.Kind == queue.KindFullBook {
		if err := r.loadSource(ctx); err != nil {
			return err
		}
	}

	tmpl, err := r.o.templates.Get(r.job.TemplateID)
	if err != nil {
		return services.Wrap(services.ErrFatalInput, StageTemplate, "load", "template "+r.job.TemplateID+" unavailable", err)
	}
	refs, err := r.o.templates.ReferenceEmbeddings(ctx, tmpl)
	if err != nil {
		return err
	}
	r.tmpl = tmpl
	r.refs = refs
	return nil
}

// loadSource finds the preview a full book was ordered from. Expiry is not
// checked. A preview that is gone or unusable only costs the reuse, and
// every page is then processed from scratch.
func (r *run) loadSource(ctx context.Context) error {
	var source *queue.Job
	if r.job.SourcePreviewID != 0 {
		var err error
		if source, err = r.o.store.GetByID(ctx, r.job.SourcePreviewID); err != nil {
			return fmt.Errorf("load source preview: %w", err)
		}
	}
	if source == nil || source.Kind != queue.KindPreview || source.Status != queue.StatusCompleted {
		logging.WarnWithContext(r.logger, "source preview unavailable", "source_preview_missing",
			logging.Int64("source_preview_id", r.job.SourcePreviewID),
			logging.String(logging.FieldImpact, "every page is swapped again"),
		)
		return nil
	}
	r.logger.Debug("source preview loaded",
		logging.String("source_token", source.Token),
		logging.Bool("source_expired", source.Expired(r.o.now())),
	)
	r.source = source
	return nil
}

func (r *run) stylize(ctx context.Context) error {
	if prior := r.job.StylizedPhotoPath; prior != "" {
		if _, err := os.Stat(prior); err == nil {
			r.photo = prior
			r.logger.Debug("reusing stylized photo", logging.String("path", prior))
			return nil
		}
	}
	if _, err := os.Stat(r.job.PhotoPath); err != nil {
		return services.Wrap(services.ErrFatalInput, StageStylize, "photo", "child photo missing", err)
	}

	var out string
	if r.o.cfg.Pipeline.StylizeEnabled && r.o.stylizer != nil {
		out = filepath.Join(r.dir, "stylized.jpg")
		if err := r.o.stylizer.Stylize(ctx, r.job.PhotoPath, out); err != nil {
			return err
		}
	} else {
		out = filepath.Join(r.dir, "stylized"+filepath.Ext(r.job.PhotoPath))
		if err := fileutil.CopyFile(r.job.PhotoPath, out); err != nil {
			return services.Wrap(services.ErrFatalInput, StageStylize, "copy", "copy child photo", err)
		}
	}
	if err := r.o.store.SetStylizedPhoto(ctx, r.job.ID, out); err != nil {
		return err
	}
	r.job.StylizedPhotoPath = out
	r.photo = out
	return nil
}

func (r *run) substituteText(context.Context) error {
	name := NormalizeChildName(r.job.ChildName)
	r.textDeck = filepath.Join(r.dir, "personalized_text.pptx")
	replacements := map[string]string{}
	if name != "" && r.tmpl.HeroToken != "" {
		replacements[r.tmpl.HeroToken] = name
	}
	count, err := deck.ReplaceText(r.tmpl.DeckPath, r.textDeck, replacements)
	if err != nil {
		return err
	}
	r.logger.Info("hero name substituted",
		logging.String(logging.FieldEventType, "text_substituted"),
		logging.Int("replacements", count),
	)
	return nil
}

func (r *run) extract(ctx context.Context) error {
	maxPages := 0
	if r.job.Kind == queue.KindPreview {
		maxPages = r.o.cfg.Pipeline.PreviewPages
	}
	images, err := deck.Extract(ctx, r.textDeck, filepath.Join(r.dir, "extracted"), maxPages, r.logger)
	if err != nil {
		return err
	}
	r.images = images
	r.pending = images
	r.done = make(map[deck.ShapeKey]string, len(images))
	r.logger.Info("pictures extracted",
		logging.String(logging.FieldEventType, "pictures_extracted"),
		logging.Int("pictures", len(images)),
		logging.Int("max_pages", maxPages),
	)
	return nil
}

// reusePreview copies the source preview's composited pictures for every
// shape it covered and leaves only the rest pending.
func (r *run) reusePreview(context.Context) error {
	if r.source == nil || len(r.source.Outputs.Swapped) == 0 {
		return nil
	}
	pending := make([]deck.ExtractedImage, 0, len(r.images))
	for _, img := range r.images {
		prior, ok := r.source.Outputs.Swapped[img.Key.String()]
		if !ok {
			pending = append(pending, img)
			continue
		}
		dst := filepath.Join(r.dir, "swapped", compositedName(img.Key))
		if err := fileutil.CopyFile(prior, dst); err != nil {
			logging.WarnWithContext(r.logger, "preview picture not reusable", "reuse_failed",
				logging.Shape(img.Key.Page, img.Key.Shape),
				logging.Error(err),
				logging.String(logging.FieldImpact, "picture is swapped again"),
			)
			pending = append(pending, img)
			continue
		}
		r.done[img.Key] = dst
	}
	r.pending = pending
	r.logger.Info("preview pictures reused",
		logging.String(logging.FieldEventType, "preview_reused"),
		logging.Int("reused", len(r.done)),
		logging.Int("pending", len(pending)),
	)
	return nil
}

func (r *run) match(ctx context.Context) error {
	if len(r.pending) > 0 {
		r.matches = r.o.matcher.MatchAll(ctx, r.pending, r.refs)
	}
	r.logger.Info("identity matching finished",
		logging.String(logging.FieldEventType, "matching_complete"),
		logging.Int("candidates", len(r.pending)),
		logging.Int("matches", len(r.matches)),
	)
	if len(r.matches) == 0 && len(r.done) == 0 {
		return services.Wrap(services.ErrNoMatch, StageMatch, "match", fmt.Sprintf("no protagonist found in %d pictures", len(r.images)), nil)
	}
	return nil
}

func (r *run) reportProgress(ctx context.Context) error {
	completed, total := len(r.done), len(r.images)
	eta := max(1, (total-completed)/3)
	r.job.ImagesCompleted, r.job.ImagesTotal, r.job.EstimatedMinutes = completed, total, eta
	if err := r.o.progress(ctx, r.job, completed, total, eta); err != nil {
		logging.WarnWithContext(r.logger, "progress not recorded", "progress_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "status pollers see stale counters"),
		)
	}
	return nil
}

func (r *run) render(ctx context.Context) error {
	final := filepath.Join(r.dir, "personalized.pptx")
	if r.job.Kind == queue.KindFullBook {
		final = filepath.Join(r.dir, "book.pptx")
	}
	replaced, err := deck.ReplaceImages(r.textDeck, final, r.done)
	if err != nil {
		if errors.Is(err, services.ErrFatalInput) {
			return err
		}
		return services.Wrap(services.ErrRender, StageRender, "replace images", "write personalized deck", err)
	}
	r.logger.Debug("pictures substituted", logging.Int("replaced", replaced))

	r.outputs = queue.Outputs{DeckPath: final, Swapped: shapeKeyStrings(r.done)}
	if r.job.Kind == queue.KindPreview {
		pages, err := r.o.renderer.ToImages(ctx, final, filepath.Join(r.dir, "pages"), r.o.cfg.Pipeline.PreviewPages)
		if err != nil {
			return err
		}
		r.outputs.PageImages = pages
		return nil
	}
	pdf, err := r.o.renderer.ToPDF(ctx, final, r.dir)
	if err != nil {
		return err
	}
	r.outputs.PDFPath = pdf
	return nil
}

func (r *run) finalize(ctx context.Context) error {
	if err := r.o.store.UpdateFinalPaths(ctx, r.job.ID, r.outputs); err != nil {
		return fmt.Errorf("record outputs: %w", err)
	}
	r.job.Status = queue.StatusCompleted
	r.job.Outputs = r.outputs

	r.logger.Info("generation completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.Int("swapped", len(r.outputs.Swapped)),
		logging.Int("pages", len(r.outputs.PageImages)),
		logging.String("pdf", r.outputs.PDFPath),
	)

	var notifyErr error
	if r.job.Kind == queue.KindPreview {
		notifyErr = r.o.notifier.NotifyPreviewReady(ctx, r.job.Token, r.job.ChildName, len(r.outputs.PageImages))
	} else {
		notifyErr = r.o.notifier.NotifyBookReady(ctx, r.job.Token, r.job.ChildName)
	}
	if notifyErr != nil {
		logging.WarnWithContext(r.logger, "completion notification not sent", "notify_failed", logging.Error(notifyErr))
	}
	return nil
}

func swappedName(key deck.ShapeKey) string {
	return fmt.Sprintf("swapped_%d_%d.jpg", key.Page, key.Shape)
}

func compositedName(key deck.ShapeKey) string {
	return fmt.Sprintf("composited_%d_%d.jpg", key.Page, key.Shape)
}

func shapeKeyStrings(m map[deck.ShapeKey]string) map[string]string {
	out := make(map[string]string, len(m))
	for key, path := range m {
		out[key.String()] = path
	}
	return out
}
