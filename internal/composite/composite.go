// Package composite blends a swapped face back into its source picture.
package composite

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"golang.org/x/image/draw"

	"storybook/internal/imageio"
)

// FeatherRadius is the Gaussian radius applied to the blend mask edge.
const FeatherRadius = 8

// Composite resizes swapped to region, feathers its edge and blends it over
// original at the region offset. The result has original's bounds.
func Composite(original, swapped image.Image, region image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(original.Bounds())
	draw.Draw(dst, dst.Bounds(), original, original.Bounds().Min, draw.Src)

	region = region.Intersect(dst.Bounds())
	if region.Empty() {
		return dst
	}
	w, h := region.Dx(), region.Dy()
	face := imaging.Resize(swapped, w, h, imaging.Lanczos)
	mask := Mask(w, h, FeatherRadius)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := uint32(mask.Pix[y*mask.Stride+x])
			if a == 0 {
				continue
			}
			fo := face.PixOffset(x, y)
			do := dst.PixOffset(region.Min.X+x, region.Min.Y+y)
			for c := 0; c < 3; c++ {
				fg := uint32(face.Pix[fo+c])
				bg := uint32(dst.Pix[do+c])
				dst.Pix[do+c] = uint8((fg*a + bg*(255-a) + 127) / 255)
			}
			dst.Pix[do+3] = 255
		}
	}
	return dst
}

// Mask returns a w x h alpha mask: opaque in the middle, fading to
// transparent over radius pixels at every edge.
func Mask(w, h, radius int) *image.Alpha {
	inset := float64(radius)
	if 2*inset >= float64(min(w, h)) {
		inset = float64(min(w, h)) / 4
	}
	dc := gg.NewContext(w, h)
	dc.SetRGB(0, 0, 0)
	dc.Clear()
	dc.SetRGB(1, 1, 1)
	dc.DrawRectangle(inset, inset, float64(w)-2*inset, float64(h)-2*inset)
	dc.Fill()

	// sigma = radius/2; the grey level becomes the alpha.
	blurred := imaging.Blur(dc.Image(), float64(radius)/2)
	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			mask.Pix[y*mask.Stride+x] = blurred.Pix[y*blurred.Stride+x*4]
		}
	}
	return mask
}

// File composites the swapped image at swappedPath into the picture at
// origPath and writes a JPEG to outPath.
func File(origPath, swappedPath string, region image.Rectangle, outPath string) error {
	original, err := imageio.Load(origPath)
	if err != nil {
		return fmt.Errorf("load original: %w", err)
	}
	swapped, err := imageio.Load(swappedPath)
	if err != nil {
		return fmt.Errorf("load swapped face: %w", err)
	}
	return imageio.SaveJPEG(outPath, Composite(original, swapped, region))
}
