package photo

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"

	"storybook/internal/config"
	"storybook/internal/imageio"
	"storybook/internal/logging"
	"storybook/internal/services"
)

// MaxWidth is the width uploads are scaled down to before storage.
const MaxWidth = 1000

// Rejection messages returned to uploaders.
const (
	MsgUnreadable    = "The photo could not be read. Make sure the file is a valid image."
	MsgTooSmall      = "The photo is too small (minimum %dx%d). It may be cropped or low quality."
	MsgBlurry        = "The photo is not sharp. The camera may have been out of focus or moving."
	MsgNoFace        = "No clear face was found. Make sure the face looks at the camera in good light."
	MsgMultipleFaces = "More than one face was found. Please upload a clear photo of one child only."
	MsgTooDark       = "The photo is too dark. Try taking it somewhere brighter."
)

// Detector finds face regions in an image file.
type Detector interface {
	Detect(ctx context.Context, path string) ([]image.Rectangle, error)
}

// Report holds the measurements taken during validation.
type Report struct {
	Width      int
	Height     int
	Sharpness  float64
	Brightness float64
	Faces      int
}

// Validator applies the upload quality gates.
type Validator struct {
	cfg      config.Photo
	detector Detector
	logger   *slog.Logger
}

// NewValidator builds a Validator. A nil detector skips the face count check.
func NewValidator(cfg config.Photo, detector Detector, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Validator{cfg: cfg, detector: detector, logger: logging.NewComponentLogger(logger, "photo")}
}

// Validate checks the photo at path. Rejections wrap services.ErrValidation
// and carry a user-facing message; provider failures while counting faces
// are returned unchanged.
func (v *Validator) Validate(ctx context.Context, path string) (Report, error) {
	img, err := imageio.Load(path)
	if err != nil {
		return Report{}, reject("decode", MsgUnreadable, err)
	}
	bounds := img.Bounds()
	report := Report{Width: bounds.Dx(), Height: bounds.Dy()}
	if report.Width < v.cfg.MinDimension || report.Height < v.cfg.MinDimension {
		return report, reject("resolution", fmt.Sprintf(MsgTooSmall, v.cfg.MinDimension, v.cfg.MinDimension), nil)
	}

	gray := Grayscale(img)
	report.Sharpness = LaplacianVariance(gray)
	report.Brightness = MeanBrightness(gray)
	v.logger.Debug("photo measured",
		logging.Int("width", report.Width),
		logging.Int("height", report.Height),
		logging.Float64("sharpness", report.Sharpness),
		logging.Float64("brightness", report.Brightness),
	)
	if report.Sharpness < v.cfg.MinSharpness {
		return report, reject("sharpness", MsgBlurry, nil)
	}

	if v.detector != nil {
		faces, err := v.detector.Detect(ctx, path)
		if err != nil {
			return report, err
		}
		report.Faces = len(faces)
		switch {
		case report.Faces == 0:
			return report, reject("faces", MsgNoFace, nil)
		case report.Faces > 1:
			return report, reject("faces", MsgMultipleFaces, nil)
		}
	}

	if report.Brightness < v.cfg.MinBrightness {
		return report, reject("brightness", MsgTooDark, nil)
	}
	return report, nil
}

func reject(operation, message string, err error) error {
	return services.Wrap(services.ErrValidation, "photo", operation, message, err)
}

// Normalize rewrites src as a JPEG at dst, scaled down to MaxWidth when wider.
func Normalize(src, dst string) error {
	img, err := imageio.Load(src)
	if err != nil {
		return reject("decode", MsgUnreadable, err)
	}
	b := img.Bounds()
	if b.Dx() > MaxWidth {
		h := b.Dy() * MaxWidth / b.Dx()
		img = imageio.Resize(img, MaxWidth, max(h, 1))
	}
	return imageio.SaveJPEG(dst, img)
}

// Grayscale converts img to 8-bit luma with ITU-R 601 weights.
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.SetGray(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(img.At(x, y)).(color.Gray))
		}
	}
	return gray
}

// LaplacianVariance is the variance of the 4-neighbour Laplacian over the
// interior pixels. Low values mean few edges, which is how blur shows up.
func LaplacianVariance(gray *image.Gray) float64 {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	if w < 3 || h < 3 {
		return 0
	}
	at := func(x, y int) float64 { return float64(gray.Pix[y*gray.Stride+x]) }
	var sum, sumSq float64
	n := float64((w - 2) * (h - 2))
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			lap := at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
			sum += lap
			sumSq += lap * lap
		}
	}
	mean := sum / n
	return sumSq/n - mean*mean
}

// MeanBrightness is the average luma in [0,255].
func MeanBrightness(gray *image.Gray) float64 {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	var sum float64
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w]
		for _, v := range row {
			sum += float64(v)
		}
	}
	return sum / float64(w*h)
}
