package composite_test

import (
	"bytes"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"storybook/internal/composite"
	"storybook/internal/imageio"
	"storybook/internal/testsupport"
)

var (
	blue = color.RGBA{B: 255, A: 255}
	red  = color.RGBA{R: 255, A: 255}
)

func TestCompositeBlendsInsideRegionOnly(t *testing.T) {
	original := testsupport.Solid(200, 150, blue)
	swapped := testsupport.Solid(37, 53, red)
	region := image.Rect(50, 40, 130, 120)

	out := composite.Composite(original, swapped, region)
	if out.Bounds() != original.Bounds() {
		t.Fatalf("bounds changed: %v", out.Bounds())
	}
	if got := out.RGBAAt(10, 10); got != blue {
		t.Fatalf("pixel outside region changed: %v", got)
	}
	if got := out.RGBAAt(90, 80); got.R < 250 || got.B > 5 {
		t.Fatalf("region centre should show the swapped face, got %v", got)
	}
	if got := out.RGBAAt(50, 40); got.B < 230 {
		t.Fatalf("region corner should stay mostly original, got %v", got)
	}
	if original.RGBAAt(90, 80) != blue {
		t.Fatal("original image was mutated")
	}
}

func TestCompositeIsDeterministic(t *testing.T) {
	original := testsupport.Pattern(120, 120, 7)
	swapped := testsupport.Pattern(64, 64, 99)
	region := image.Rect(20, 30, 90, 100)

	a := composite.Composite(original, swapped, region)
	b := composite.Composite(original, swapped, region)
	if !bytes.Equal(a.Pix, b.Pix) {
		t.Fatal("composite output differs between runs")
	}
}

func TestCompositeClampsRegion(t *testing.T) {
	original := testsupport.Solid(50, 50, blue)
	out := composite.Composite(original, testsupport.Solid(10, 10, red), image.Rect(30, 30, 90, 90))
	if out.Bounds() != original.Bounds() {
		t.Fatalf("bounds changed: %v", out.Bounds())
	}
	out = composite.Composite(original, testsupport.Solid(10, 10, red), image.Rect(60, 60, 90, 90))
	if !bytes.Equal(out.Pix, original.Pix) {
		t.Fatal("region outside the picture should leave it untouched")
	}
}

func TestMaskFeathersEdges(t *testing.T) {
	mask := composite.Mask(80, 60, composite.FeatherRadius)
	if got := mask.AlphaAt(40, 30).A; got != 255 {
		t.Fatalf("mask centre should be opaque, got %d", got)
	}
	if got := mask.AlphaAt(0, 0).A; got > 20 {
		t.Fatalf("mask corner should be near transparent, got %d", got)
	}
	mid := mask.AlphaAt(8, 30).A
	if mid < 60 || mid > 200 {
		t.Fatalf("mask edge should be partially transparent, got %d", mid)
	}
}

func TestFileWritesJPEG(t *testing.T) {
	dir := t.TempDir()
	orig := testsupport.WriteImage(t, filepath.Join(dir, "slide0_shape4.png"), testsupport.Pattern(400, 300, 1))
	swapped := testsupport.WriteImage(t, filepath.Join(dir, "swapped_0_4.jpg"), testsupport.Pattern(128, 128, 50))
	out := filepath.Join(dir, "composited_0_4.jpg")

	if err := composite.File(orig, swapped, image.Rect(100, 50, 260, 210), out); err != nil {
		t.Fatalf("File returned error: %v", err)
	}
	w, h, err := imageio.Dimensions(out)
	if err != nil || w != 400 || h != 300 {
		t.Fatalf("output is %dx%d (%v), want 400x300", w, h, err)
	}
}
