package deck

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"storybook/internal/logging"
	"storybook/internal/services"
)

// ShapeKey identifies a picture shape by page index and shape id.
type ShapeKey struct {
	Page  int
	Shape int
}

func (k ShapeKey) String() string {
	return fmt.Sprintf("%d:%d", k.Page, k.Shape)
}

// ParseShapeKey parses the "page:shape" form produced by String.
func ParseShapeKey(value string) (ShapeKey, error) {
	pageText, shapeText, ok := strings.Cut(value, ":")
	if !ok {
		return ShapeKey{}, fmt.Errorf("invalid shape key %q", value)
	}
	page, err := strconv.Atoi(pageText)
	if err != nil {
		return ShapeKey{}, fmt.Errorf("invalid shape key %q: %w", value, err)
	}
	shape, err := strconv.Atoi(shapeText)
	if err != nil {
		return ShapeKey{}, fmt.Errorf("invalid shape key %q: %w", value, err)
	}
	return ShapeKey{Page: page, Shape: shape}, nil
}

// ExtractedImage is a picture written to the scratch directory.
type ExtractedImage struct {
	Key    ShapeKey
	Path   string
	Width  int
	Height int
}

// picture is a p:pic element located in slide XML.
type picture struct {
	shapeID int
	embed   string
	// byte range of the a:blip start tag
	blipStart, blipEnd int
}

// Extract writes the pictures of the first maxPages slides (all slides when
// maxPages <= 0) into outDir as slide<page>_shape<id><ext>. Pictures whose
// bytes do not decode as an image are logged and skipped.
func Extract(ctx context.Context, deckPath, outDir string, maxPages int, logger *slog.Logger) ([]ExtractedImage, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create extract dir: %w", err)
	}
	pkg, err := openArchive(deckPath)
	if err != nil {
		return nil, err
	}
	defer pkg.Close()

	slides, err := pkg.slides()
	if err != nil {
		return nil, err
	}
	if maxPages > 0 && len(slides) > maxPages {
		slides = slides[:maxPages]
	}

	var out []ExtractedImage
	for page, part := range slides {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := pkg.read(part)
		if err != nil {
			return nil, services.Wrap(services.ErrFatalInput, "deck", "extract", "read slide", err)
		}
		pics, err := findPictures(data)
		if err != nil {
			return nil, services.Wrap(services.ErrFatalInput, "deck", "extract", "parse "+part, err)
		}
		if len(pics) == 0 {
			continue
		}
		rels, err := pkg.rels(part)
		if err != nil {
			return nil, services.Wrap(services.ErrFatalInput, "deck", "extract", "parse rels", err)
		}
		for _, pic := range pics {
			key := ShapeKey{Page: page, Shape: pic.shapeID}
			rel, ok := rels.byID(pic.embed)
			if !ok || rel.TargetMode == "External" {
				logger.Debug("picture without embedded media", logging.Shape(key.Page, key.Shape))
				continue
			}
			mediaPart := resolveTarget(part, rel.Target)
			body, err := pkg.read(mediaPart)
			if err != nil {
				logging.WarnWithContext(logger, "picture media unreadable", "picture_skipped",
					logging.Shape(key.Page, key.Shape),
					logging.String("part", mediaPart),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check the template deck for broken media references"),
					logging.String(logging.FieldImpact, "picture is not personalized"),
				)
				continue
			}
			cfg, _, err := image.DecodeConfig(bytes.NewReader(body))
			if err != nil {
				logging.WarnWithContext(logger, "picture is not a decodable image", "picture_skipped",
					logging.Shape(key.Page, key.Shape),
					logging.String("part", mediaPart),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "vector or unsupported media is left untouched"),
					logging.String(logging.FieldImpact, "picture is not personalized"),
				)
				continue
			}
			ext := strings.ToLower(path.Ext(mediaPart))
			if ext == "" {
				ext = ".png"
			}
			target := filepath.Join(outDir, fmt.Sprintf("slide%d_shape%d%s", page, pic.shapeID, ext))
			if err := os.WriteFile(target, body, 0o644); err != nil {
				return nil, fmt.Errorf("write extracted image: %w", err)
			}
			out = append(out, ExtractedImage{Key: key, Path: target, Width: cfg.Width, Height: cfg.Height})
		}
	}
	logger.Debug("deck pictures extracted",
		logging.String("deck", deckPath),
		logging.Int("slides", len(slides)),
		logging.Int("pictures", len(out)),
	)
	return out, nil
}

// findPictures walks slide XML at any depth and returns each picture with
// an embedded blip. Duplicate shape ids keep the first occurrence.
func findPictures(data []byte) ([]picture, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		out     []picture
		current *picture
		depth   int
		seen    = map[int]bool{}
	)
	for {
		before := int(dec.InputOffset())
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if current != nil {
				depth++
				switch el.Name.Local {
				case "cNvPr":
					if current.shapeID == 0 {
						current.shapeID, _ = strconv.Atoi(attr(el, "", "id"))
					}
				case "blip":
					if current.embed == "" {
						current.embed = attr(el, nsRelationships, "embed")
						current.blipStart = before
						current.blipEnd = int(dec.InputOffset())
					}
				}
				continue
			}
			if el.Name.Local == "pic" {
				current = &picture{}
				depth = 0
			}
		case xml.EndElement:
			if current == nil {
				continue
			}
			if depth > 0 {
				depth--
				continue
			}
			if current.embed != "" && current.shapeID > 0 && !seen[current.shapeID] {
				seen[current.shapeID] = true
				out = append(out, *current)
			}
			current = nil
		}
	}
	return out, nil
}

// attr returns the attribute value matching local name and, when given,
// namespace. A bare "r" prefix is accepted for undeclared namespaces.
func attr(el xml.StartElement, space, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local != local {
			continue
		}
		if space == "" && a.Name.Space == "" {
			return a.Value
		}
		if space != "" && (a.Name.Space == space || a.Name.Space == "r") {
			return a.Value
		}
	}
	return ""
}
