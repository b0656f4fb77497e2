package match_test

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"storybook/internal/deck"
	"storybook/internal/imageio"
	"storybook/internal/match"
	"storybook/internal/services/vision"
	"storybook/internal/testsupport"
)

type fakeDetector struct {
	mu      sync.Mutex
	regions map[string][]image.Rectangle
	errs    map[string]error
	calls   int
}

func (f *fakeDetector) Detect(_ context.Context, path string) ([]image.Rectangle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	name := filepath.Base(path)
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	return f.regions[name], nil
}

// fakeRepresenter returns faces with embeddings already attached, the way
// the vision sidecar's /represent does.
type fakeRepresenter struct {
	fakeDetector
	faces map[string][]vision.Face
}

func (f *fakeRepresenter) Represent(_ context.Context, path string) ([]vision.Face, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.faces[filepath.Base(path)], nil
}

type fakeEmbedder struct {
	mu         sync.Mutex
	embeddings map[string][]float64
	paths      []string
}

func (f *fakeEmbedder) Embed(_ context.Context, path string) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	emb, ok := f.embeddings[strings.TrimSuffix(filepath.Base(path), ".jpg")]
	if !ok {
		return nil, errors.New("no face")
	}
	return emb, nil
}

func writePicture(t *testing.T, dir string, page, shape, size int) deck.ExtractedImage {
	t.Helper()
	name := fmt.Sprintf("slide%d_shape%d.png", page, shape)
	path := testsupport.WriteImage(t, filepath.Join(dir, name), testsupport.Pattern(size, size, uint8(shape)))
	return deck.ExtractedImage{Key: deck.ShapeKey{Page: page, Shape: shape}, Path: path, Width: size, Height: size}
}

func newMatcher(t *testing.T, det match.Detector, emb match.Embedder) *match.Matcher {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return match.New(cfg, det, emb, nil)
}

func TestMatchRejectsSmallPicturesWithoutDetection(t *testing.T) {
	det := &fakeDetector{}
	m := newMatcher(t, det, &fakeEmbedder{})
	img := writePicture(t, t.TempDir(), 0, 1, 200)

	got, err := m.Match(context.Background(), img, [][]float64{{0}})
	if err != nil || got != nil {
		t.Fatalf("expected no match, got %+v, %v", got, err)
	}
	if det.calls != 0 {
		t.Fatalf("detector should not run for small pictures, ran %d times", det.calls)
	}
}

func TestMatchSingleFaceShortCircuits(t *testing.T) {
	dir := t.TempDir()
	img := writePicture(t, dir, 2, 5, 400)
	det := &fakeDetector{regions: map[string][]image.Rectangle{
		"slide2_shape5.png": {image.Rect(100, 100, 200, 200)},
	}}
	emb := &fakeEmbedder{}
	m := newMatcher(t, det, emb)

	got, err := m.Match(context.Background(), img, [][]float64{{42, 42}})
	if err != nil {
		t.Fatalf("Match returned error: %v", err)
	}
	if got == nil {
		t.Fatal("expected a match")
	}
	if got.Distance != 0 {
		t.Fatalf("expected zero distance, got %v", got.Distance)
	}
	if len(emb.paths) != 0 {
		t.Fatalf("embedder should not run for a single face, ran %d times", len(emb.paths))
	}
	if got.Crop != image.Rect(70, 70, 230, 230) {
		t.Fatalf("unexpected padded crop %v", got.Crop)
	}
	if filepath.Base(got.CropPath) != "crop_slide2_shape5.jpg" {
		t.Fatalf("unexpected crop path %s", got.CropPath)
	}
	w, h, err := imageio.Dimensions(got.CropPath)
	if err != nil || w != 160 || h != 160 {
		t.Fatalf("crop file is %dx%d (%v), want 160x160", w, h, err)
	}
}

func TestMatchNoFaces(t *testing.T) {
	img := writePicture(t, t.TempDir(), 0, 1, 400)
	m := newMatcher(t, &fakeDetector{}, &fakeEmbedder{})
	got, err := m.Match(context.Background(), img, [][]float64{{0}})
	if err != nil || got != nil {
		t.Fatalf("expected no match, got %+v, %v", got, err)
	}
}

func TestMatchPicksClosestFaceAcrossReferences(t *testing.T) {
	img := writePicture(t, t.TempDir(), 1, 3, 400)
	det := &fakeDetector{regions: map[string][]image.Rectangle{
		"slide1_shape3.png": {
			image.Rect(10, 10, 60, 60),
			image.Rect(200, 200, 300, 300),
			image.Rect(320, 20, 380, 80),
		},
	}}
	emb := &fakeEmbedder{embeddings: map[string][]float64{
		"face_0": {10, 0},
		"face_1": {3, 4},
		// face_2 fails to embed and is ignored
	}}
	m := newMatcher(t, det, emb)

	refs := [][]float64{{100, 100}, {0, 0}}
	got, err := m.Match(context.Background(), img, refs)
	if err != nil {
		t.Fatalf("Match returned error: %v", err)
	}
	if got == nil {
		t.Fatal("expected a match")
	}
	if got.Region != image.Rect(200, 200, 300, 300) {
		t.Fatalf("expected second face, got %v", got.Region)
	}
	if got.Distance != 5 {
		t.Fatalf("expected distance 5, got %v", got.Distance)
	}
	if got.Crop != image.Rect(170, 170, 330, 330) {
		t.Fatalf("unexpected crop %v", got.Crop)
	}
	for _, p := range emb.paths {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("temporary crop %s was not removed", p)
		}
	}
}

func TestMatchReusesEmbeddingsFromDetection(t *testing.T) {
	img := writePicture(t, t.TempDir(), 1, 3, 400)
	det := &fakeRepresenter{faces: map[string][]vision.Face{
		"slide1_shape3.png": {
			{Region: image.Rect(10, 10, 60, 60), Embedding: []float64{10, 0}},
			{Region: image.Rect(200, 200, 300, 300), Embedding: []float64{3, 4}},
			{Region: image.Rect(320, 20, 380, 80)},
		},
	}}
	emb := &fakeEmbedder{embeddings: map[string][]float64{"face_2": {0, 1}}}
	m := newMatcher(t, det, emb)

	got, err := m.Match(context.Background(), img, [][]float64{{0, 0}})
	if err != nil {
		t.Fatalf("Match returned error: %v", err)
	}
	if got == nil || got.Region != image.Rect(320, 20, 380, 80) || got.Distance != 1 {
		t.Fatalf("expected third face at distance 1, got %+v", got)
	}
	if det.calls != 1 {
		t.Fatalf("expected one detection call, got %d", det.calls)
	}
	if len(emb.paths) != 1 || filepath.Base(emb.paths[0]) != "face_2.jpg" {
		t.Fatalf("only the face without an embedding should be embedded, got %v", emb.paths)
	}
}

func TestMatchRejectsDistantFaces(t *testing.T) {
	img := writePicture(t, t.TempDir(), 0, 2, 400)
	det := &fakeDetector{regions: map[string][]image.Rectangle{
		"slide0_shape2.png": {image.Rect(0, 0, 50, 50), image.Rect(100, 100, 150, 150)},
	}}
	emb := &fakeEmbedder{embeddings: map[string][]float64{
		"face_0": {8, 0},
		"face_1": {0, 9},
	}}
	m := newMatcher(t, det, emb)

	got, err := m.Match(context.Background(), img, [][]float64{{0, 0}})
	if err != nil || got != nil {
		t.Fatalf("expected no match at threshold, got %+v, %v", got, err)
	}
}

func TestMatchAllSkipsFailuresAndKeepsOrder(t *testing.T) {
	dir := t.TempDir()
	imgs := []deck.ExtractedImage{
		writePicture(t, dir, 0, 1, 400),
		writePicture(t, dir, 1, 2, 400),
		writePicture(t, dir, 2, 3, 400),
	}
	det := &fakeDetector{
		regions: map[string][]image.Rectangle{
			"slide0_shape1.png": {image.Rect(10, 10, 100, 100)},
			"slide2_shape3.png": {image.Rect(50, 50, 150, 150)},
		},
		errs: map[string]error{"slide1_shape2.png": errors.New("sidecar down")},
	}
	m := newMatcher(t, det, &fakeEmbedder{})

	got := m.MatchAll(context.Background(), imgs, [][]float64{{0}})
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	if got[0].Image.Key.Page != 0 || got[1].Image.Key.Page != 2 {
		t.Fatalf("unexpected order %v, %v", got[0].Image.Key, got[1].Image.Key)
	}
}

func TestPadClampsToBounds(t *testing.T) {
	got := match.Pad(image.Rect(5, 5, 105, 55), image.Rect(0, 0, 120, 60), 0.30)
	if got != image.Rect(0, 0, 120, 60) {
		t.Fatalf("unexpected padded rect %v", got)
	}
	got = match.Pad(image.Rect(100, 100, 133, 117), image.Rect(0, 0, 500, 500), 0.30)
	// 33*0.3 = 9.9 -> 9, 17*0.3 = 5.1 -> 5
	if got != image.Rect(91, 95, 142, 122) {
		t.Fatalf("unexpected truncation %v", got)
	}
}

func TestDistance(t *testing.T) {
	if d := match.Distance([]float64{0, 0}, []float64{3, 4}); d != 5 {
		t.Fatalf("expected 5, got %v", d)
	}
	if d := match.Distance([]float64{1}, []float64{1, 2}); d < 1e300 {
		t.Fatalf("expected infinite distance for mismatched lengths, got %v", d)
	}
}
