package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"storybook/internal/composite"
	"storybook/internal/fileutil"
	"storybook/internal/logging"
	"storybook/internal/services"
)

// swap sends every match to the swap provider under the job's swap budget.
// All calls share one HTTP client; a failed call drops its picture.
func (r *run) swap(ctx context.Context) error {
	r.swapped = make([]string, len(r.matches))
	if len(r.matches) == 0 {
		return nil
	}
	swapCtx, cancel := context.WithTimeout(ctx, r.o.cfg.SwapBudget())
	defer cancel()

	client := r.o.jobHTTPClient()
	defer client.CloseIdleConnections()
	swapper := r.o.swappers(client)

	g, gctx := errgroup.WithContext(swapCtx)
	g.SetLimit(r.o.fanoutLimit())
	for i, m := range r.matches {
		g.Go(func() error {
			defer r.recoverPicture("swap", m.Image.Key.String())
			data, err := swapper.Swap(gctx, r.photo, m.CropPath)
			if err != nil {
				r.dropPicture("face swap failed", "swap_failed", m.Image.Key.String(), err)
				return nil
			}
			out := filepath.Join(r.dir, "swapped", swappedName(m.Image.Key))
			if err := fileutil.WriteFile(out, data); err != nil {
				r.dropPicture("swap result not saved", "swap_write_failed", m.Image.Key.String(), err)
				return nil
			}
			r.swapped[i] = out
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return services.Wrap(services.ErrTimeout, StageSwap, "fan-out", "job cancelled during face swap", err)
	}

	ok := 0
	for _, path := range r.swapped {
		if path != "" {
			ok++
		}
	}
	r.logger.Info("face swaps finished",
		logging.String(logging.FieldEventType, "swaps_complete"),
		logging.Int("requested", len(r.matches)),
		logging.Int("succeeded", ok),
	)
	return nil
}

// composite blends each swapped face back into its source picture. The
// run fails here when no picture at all made it through.
func (r *run) composite(ctx context.Context) error {
	results := make([]string, len(r.matches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.o.fanoutLimit())
	for i, m := range r.matches {
		swapped := r.swapped[i]
		if swapped == "" {
			continue
		}
		g.Go(func() error {
			defer r.recoverPicture("composite", m.Image.Key.String())
			if gctx.Err() != nil {
				return nil
			}
			out := filepath.Join(r.dir, "swapped", compositedName(m.Image.Key))
			if err := composite.File(m.Image.Path, swapped, m.Crop, out); err != nil {
				r.dropPicture("compositing failed", "composite_failed", m.Image.Key.String(), err)
				return nil
			}
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return services.Wrap(services.ErrTimeout, StageComposite, "fan-out", "job cancelled during compositing", err)
	}

	for i, out := range results {
		if out != "" {
			r.done[r.matches[i].Image.Key] = out
		}
	}
	if len(r.done) == 0 {
		return services.Wrap(services.ErrProvider, StageComposite, "collect", "no faces could be swapped", nil)
	}
	return nil
}

func (r *run) dropPicture(msg, event, shape string, err error) {
	logging.WarnWithContext(r.logger, msg, event,
		logging.String("shape", shape),
		logging.String(logging.FieldErrorKind, string(services.FailureKind(err))),
		logging.Error(err),
		logging.String(logging.FieldImpact, "picture keeps its original face"),
	)
}

func (r *run) recoverPicture(step, shape string) {
	if rec := recover(); rec != nil {
		r.dropPicture(step+" panicked", step+"_panic", shape, fmt.Errorf("panic: %v", rec))
	}
}

func (o *Orchestrator) fanoutLimit() int {
	if n := o.cfg.Pipeline.FanoutLimit; n > 0 {
		return n
	}
	return 1
}

// jobHTTPClient returns a client with its own connection pool.
func (o *Orchestrator) jobHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = o.fanoutLimit()
	return &http.Client{
		Transport: transport,
		Timeout:   o.cfg.SwapBudget(),
	}
}
