package photo_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"storybook/internal/config"
	"storybook/internal/imageio"
	"storybook/internal/photo"
	"storybook/internal/services"
	"storybook/internal/testsupport"
)

type fakeDetector struct {
	faces int
	err   error
	calls int
}

func (f *fakeDetector) Detect(context.Context, string) ([]image.Rectangle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]image.Rectangle, f.faces)
	for i := range out {
		out[i] = image.Rect(i*100, 0, i*100+90, 90)
	}
	return out, nil
}

func checker(w, h int, lo, hi uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := lo
			if (x/4+y/4)%2 == 0 {
				v = hi
			}
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func defaultPhotoConfig() config.Photo {
	return config.Default().Photo
}

func TestValidateAcceptsSharpBrightSingleFace(t *testing.T) {
	path := testsupport.WriteImage(t, filepath.Join(t.TempDir(), "child.png"), checker(640, 640, 60, 220))
	det := &fakeDetector{faces: 1}

	report, err := photo.NewValidator(defaultPhotoConfig(), det, nil).Validate(context.Background(), path)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.Faces != 1 || report.Width != 640 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Sharpness < 100 || report.Brightness < 40 {
		t.Fatalf("expected sharp bright measurements, got %+v", report)
	}
}

func TestValidateRejections(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name    string
		img     image.Image
		faces   int
		message string
	}{
		{"too small", checker(400, 700, 60, 220), 1, "too small"},
		{"blurry", testsupport.Solid(640, 640, color.RGBA{R: 180, G: 180, B: 180, A: 255}), 1, photo.MsgBlurry},
		{"no face", checker(640, 640, 60, 220), 0, photo.MsgNoFace},
		{"two faces", checker(640, 640, 60, 220), 2, photo.MsgMultipleFaces},
		{"dark", checker(640, 640, 0, 60), 1, photo.MsgTooDark},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := testsupport.WriteImage(t, filepath.Join(dir, tc.name+".png"), tc.img)
			_, err := photo.NewValidator(defaultPhotoConfig(), &fakeDetector{faces: tc.faces}, nil).Validate(context.Background(), path)
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if msg := services.Details(err).Message; !strings.Contains(msg, tc.message) {
				t.Fatalf("message %q does not contain %q", msg, tc.message)
			}
		})
	}
}

func TestValidateSkipsDetectorForBlurryPhoto(t *testing.T) {
	path := testsupport.WriteImage(t, filepath.Join(t.TempDir(), "flat.png"), testsupport.Solid(640, 640, color.RGBA{R: 90, A: 255}))
	det := &fakeDetector{faces: 1}
	if _, err := photo.NewValidator(defaultPhotoConfig(), det, nil).Validate(context.Background(), path); err == nil {
		t.Fatal("expected rejection")
	}
	if det.calls != 0 {
		t.Fatalf("detector should not run, got %d calls", det.calls)
	}
}

func TestValidateReturnsDetectorFailure(t *testing.T) {
	path := testsupport.WriteImage(t, filepath.Join(t.TempDir(), "child.png"), checker(640, 640, 60, 220))
	boom := services.Wrap(services.ErrProvider, "vision", "represent", "sidecar down", nil)
	_, err := photo.NewValidator(defaultPhotoConfig(), &fakeDetector{err: boom}, nil).Validate(context.Background(), path)
	if !errors.Is(err, services.ErrProvider) || errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestValidateRejectsNonImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.png")
	if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := photo.NewValidator(defaultPhotoConfig(), nil, nil).Validate(context.Background(), path)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNormalizeScalesWideImages(t *testing.T) {
	dir := t.TempDir()
	src := testsupport.WriteImage(t, filepath.Join(dir, "wide.png"), testsupport.Pattern(2000, 1500, 3))
	dst := filepath.Join(dir, "child_photo.jpg")
	if err := photo.Normalize(src, dst); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	w, h, err := imageio.Dimensions(dst)
	if err != nil {
		t.Fatalf("Dimensions: %v", err)
	}
	if w != photo.MaxWidth || h != 750 {
		t.Fatalf("expected 1000x750, got %dx%d", w, h)
	}
}

func TestLaplacianVarianceFlatImageIsZero(t *testing.T) {
	gray := photo.Grayscale(testsupport.Solid(10, 10, color.RGBA{R: 40, G: 40, B: 40, A: 255}))
	if got := photo.LaplacianVariance(gray); got != 0 {
		t.Fatalf("expected 0, got %f", got)
	}
	if got := photo.MeanBrightness(gray); got != 40 {
		t.Fatalf("expected brightness 40, got %f", got)
	}
}
