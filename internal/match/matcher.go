package match

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"

	"storybook/internal/config"
	"storybook/internal/deck"
	"storybook/internal/imageio"
	"storybook/internal/logging"
	"storybook/internal/services/vision"
)

// Detector finds face regions in an image file.
type Detector interface {
	Detect(ctx context.Context, path string) ([]image.Rectangle, error)
}

// Embedder computes a face embedding for an already cropped face.
type Embedder interface {
	Embed(ctx context.Context, path string) ([]float64, error)
}

// Representer is implemented by detectors that embed every face they find.
// When the detector is one, those embeddings are compared directly and the
// Embedder only runs for faces that came back without one.
type Representer interface {
	Represent(ctx context.Context, path string) ([]vision.Face, error)
}

// Match is an accepted protagonist region.
type Match struct {
	Image deck.ExtractedImage
	// Region is the detected face; Crop is the padded, clamped rectangle
	// written to CropPath.
	Region   image.Rectangle
	Crop     image.Rectangle
	CropPath string
	Distance float64
}

// Matcher runs identity matching under a bounded worker pool.
type Matcher struct {
	detector     Detector
	embedder     Embedder
	minDimension int
	threshold    float64
	padding      float64
	slots        *semaphore.Weighted
	logger       *slog.Logger
}

// New builds a Matcher from configuration.
func New(cfg *config.Config, detector Detector, embedder Embedder, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Matcher{
		detector:     detector,
		embedder:     embedder,
		minDimension: cfg.Match.MinDimension,
		threshold:    cfg.Match.SimilarityThreshold,
		padding:      cfg.Match.PaddingPercent,
		slots:        semaphore.NewWeighted(int64(cfg.MatchWorkers())),
		logger:       logging.NewComponentLogger(logger, "matcher"),
	}
}

// Match returns the protagonist region of img, or nil when there is none.
func (m *Matcher) Match(ctx context.Context, img deck.ExtractedImage, refs [][]float64) (*Match, error) {
	logger := m.logger.With(logging.Shape(img.Key.Page, img.Key.Shape))
	width, height := img.Width, img.Height
	if width == 0 || height == 0 {
		w, h, err := imageio.Dimensions(img.Path)
		if err != nil {
			return nil, err
		}
		width, height = w, h
	}
	if width < m.minDimension || height < m.minDimension {
		logger.Debug("picture below minimum dimension",
			logging.Int("width", width),
			logging.Int("height", height),
			logging.Int("min_dimension", m.minDimension),
		)
		return nil, nil
	}

	if err := m.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer m.slots.Release(1)

	regions, known, err := m.detect(ctx, img.Path)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}
	if len(regions) == 0 {
		logger.Debug("no faces detected")
		return nil, nil
	}

	src, err := imageio.Load(img.Path)
	if err != nil {
		return nil, err
	}
	bounds := src.Bounds()

	var (
		best     image.Rectangle
		distance float64
	)
	if len(regions) == 1 {
		best = regions[0].Intersect(bounds)
	} else {
		idx, dist, err := m.closest(ctx, src, regions, known, refs)
		if err != nil {
			return nil, err
		}
		if idx < 0 || !(dist < m.threshold) {
			logger.Debug("no protagonist among faces",
				logging.Int("faces", len(regions)),
				logging.Float64("best_distance", dist),
				logging.Float64("threshold", m.threshold),
			)
			return nil, nil
		}
		best = regions[idx].Intersect(bounds)
		distance = dist
	}
	if best.Empty() {
		return nil, nil
	}

	crop := Pad(best, bounds, m.padding)
	cropPath := filepath.Join(filepath.Dir(img.Path), fmt.Sprintf("crop_slide%d_shape%d.jpg", img.Key.Page, img.Key.Shape))
	if err := imageio.SaveJPEG(cropPath, imageio.Crop(src, crop)); err != nil {
		return nil, err
	}
	logger.Debug("protagonist matched",
		logging.Int("faces", len(regions)),
		logging.Float64("distance", distance),
	)
	return &Match{Image: img, Region: best, Crop: crop, CropPath: cropPath, Distance: distance}, nil
}

// detect returns the face regions in path. known[i] holds the embedding of
// regions[i] when the detector already computed it; known is nil otherwise.
func (m *Matcher) detect(ctx context.Context, path string) ([]image.Rectangle, [][]float64, error) {
	rep, ok := m.detector.(Representer)
	if !ok {
		regions, err := m.detector.Detect(ctx, path)
		return regions, nil, err
	}
	faces, err := rep.Represent(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	regions := make([]image.Rectangle, len(faces))
	known := make([][]float64, len(faces))
	for i, f := range faces {
		regions[i] = f.Region
		known[i] = f.Embedding
	}
	return regions, known, nil
}

// closest returns the index of the region with the smallest distance to any
// reference, or -1 when no region has an embedding. Regions without a known
// embedding are cropped and embedded.
func (m *Matcher) closest(ctx context.Context, src image.Image, regions []image.Rectangle, known, refs [][]float64) (int, float64, error) {
	var tmp string
	defer func() {
		if tmp != "" {
			os.RemoveAll(tmp)
		}
	}()

	bestIdx, bestDist := -1, math.Inf(1)
	for idx, region := range regions {
		if err := ctx.Err(); err != nil {
			return -1, bestDist, err
		}
		region = region.Intersect(src.Bounds())
		if region.Empty() {
			continue
		}
		var embedding []float64
		if idx < len(known) {
			embedding = known[idx]
		}
		if len(embedding) == 0 {
			if tmp == "" {
				dir, err := os.MkdirTemp("", "storybook-faces-")
				if err != nil {
					return -1, bestDist, fmt.Errorf("create crop dir: %w", err)
				}
				tmp = dir
			}
			path := filepath.Join(tmp, fmt.Sprintf("face_%d.jpg", idx))
			if err := imageio.SaveJPEG(path, imageio.Crop(src, region)); err != nil {
				return -1, bestDist, err
			}
			emb, err := m.embedder.Embed(ctx, path)
			if err != nil {
				logging.WarnWithContext(m.logger, "face embedding failed", "embedding_failed",
					logging.Int("face", idx),
					logging.Error(err),
					logging.String(logging.FieldImpact, "face is not considered for matching"),
				)
				continue
			}
			embedding = emb
		}
		for _, ref := range refs {
			if d := Distance(embedding, ref); d < bestDist {
				bestIdx, bestDist = idx, d
			}
		}
	}
	return bestIdx, bestDist, nil
}

// MatchAll matches every image concurrently. Errors for one image are
// logged and count as no match. Results keep the input order.
func (m *Matcher) MatchAll(ctx context.Context, imgs []deck.ExtractedImage, refs [][]float64) []Match {
	results := make([]*Match, len(imgs))
	var wg sync.WaitGroup
	for i, img := range imgs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			match, err := m.Match(ctx, img, refs)
			if err != nil {
				logging.WarnWithContext(m.logger, "identity matching failed", "match_failed",
					logging.Shape(img.Key.Page, img.Key.Shape),
					logging.Error(err),
					logging.String(logging.FieldImpact, "picture keeps its original face"),
				)
				return
			}
			results[i] = match
		}()
	}
	wg.Wait()

	out := make([]Match, 0, len(imgs))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// Pad grows region by percent of its width and height on every side
// (truncated to whole pixels) and clamps it to bounds.
func Pad(region, bounds image.Rectangle, percent float64) image.Rectangle {
	padW := int(float64(region.Dx()) * percent)
	padH := int(float64(region.Dy()) * percent)
	return image.Rect(
		region.Min.X-padW,
		region.Min.Y-padH,
		region.Max.X+padW,
		region.Max.Y+padH,
	).Intersect(bounds)
}

// Distance is the Euclidean distance between two embeddings. Embeddings of
// different length are infinitely far apart.
func Distance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
