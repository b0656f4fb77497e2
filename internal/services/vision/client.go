// Package vision talks to a DeepFace-compatible face analysis sidecar.
package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strings"
	"time"

	"storybook/internal/config"
	"storybook/internal/services"
	"storybook/internal/services/providerhttp"
)

// Face is one detected face with its embedding.
type Face struct {
	Region     image.Rectangle
	Embedding  []float64
	Confidence float64
}

// Client calls POST {base}/represent.
type Client struct {
	baseURL   string
	model     string
	detector  string
	transport *providerhttp.Client
}

// New builds a client from the vision configuration.
func New(cfg config.Vision, opts ...providerhttp.Option) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	return &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:     strings.TrimSpace(cfg.Model),
		detector:  strings.TrimSpace(cfg.DetectorBackend),
		transport: providerhttp.New(timeout, opts...),
	}
}

type representRequest struct {
	Img              string `json:"img"`
	ModelName        string `json:"model_name,omitempty"`
	DetectorBackend  string `json:"detector_backend,omitempty"`
	EnforceDetection bool   `json:"enforce_detection"`
}

type representResponse struct {
	Results []struct {
		Embedding  []float64 `json:"embedding"`
		FacialArea struct {
			X int `json:"x"`
			Y int `json:"y"`
			W int `json:"w"`
			H int `json:"h"`
		} `json:"facial_area"`
		FaceConfidence float64 `json:"face_confidence"`
	} `json:"results"`
	Error string `json:"error"`
}

// Represent detects faces in the image at path and embeds each. Results with
// zero confidence are the sidecar's whole-image fallback and are dropped.
func (c *Client) Represent(ctx context.Context, path string) ([]Face, error) {
	return c.represent(ctx, path, c.detector, true)
}

// Detect returns face regions in the image at path.
func (c *Client) Detect(ctx context.Context, path string) ([]image.Rectangle, error) {
	faces, err := c.Represent(ctx, path)
	if err != nil {
		return nil, err
	}
	regions := make([]image.Rectangle, 0, len(faces))
	for _, f := range faces {
		regions = append(regions, f.Region)
	}
	return regions, nil
}

// Embed returns the embedding of an already cropped face.
func (c *Client) Embed(ctx context.Context, path string) ([]float64, error) {
	faces, err := c.represent(ctx, path, "skip", false)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, services.Wrap(services.ErrProvider, "vision", "embed", "sidecar returned no embedding", nil)
	}
	return faces[0].Embedding, nil
}

// EmbedReference returns the embedding of the most confident face in a
// reference photo.
func (c *Client) EmbedReference(ctx context.Context, path string) ([]float64, error) {
	faces, err := c.Represent(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, services.Wrap(services.ErrNoMatch, "vision", "embed reference", "no face found in "+path, nil)
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Confidence > best.Confidence {
			best = f
		}
	}
	return best.Embedding, nil
}

func (c *Client) represent(ctx context.Context, path, detector string, dropFallback bool) ([]Face, error) {
	if c.baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "vision", "represent", "vision base_url not configured", nil)
	}
	img, err := providerhttp.FileDataURL(path)
	if err != nil {
		return nil, services.Wrap(services.ErrFatalInput, "vision", "represent", "read image", err)
	}
	payload := representRequest{
		Img:              img,
		ModelName:        c.model,
		DetectorBackend:  detector,
		EnforceDetection: false,
	}
	var resp representResponse
	// represent has no side effects, so transient failures are retried.
	req := providerhttp.Request{Method: http.MethodPost, URL: c.baseURL + "/represent", Idempotent: true}
	if err := c.transport.JSON(ctx, req, payload, &resp); err != nil {
		marker := services.ErrProvider
		if providerhttp.IsTimeout(err) {
			marker = services.ErrTimeout
		}
		return nil, services.Wrap(marker, "vision", "represent", "sidecar request failed", err)
	}
	if resp.Error != "" {
		return nil, services.Wrap(services.ErrProvider, "vision", "represent", resp.Error, nil)
	}
	faces := make([]Face, 0, len(resp.Results))
	for _, r := range resp.Results {
		if dropFallback && r.FaceConfidence <= 0 {
			continue
		}
		if len(r.Embedding) == 0 {
			continue
		}
		area := r.FacialArea
		faces = append(faces, Face{
			Region:     image.Rect(area.X, area.Y, area.X+area.W, area.Y+area.H),
			Embedding:  r.Embedding,
			Confidence: r.FaceConfidence,
		})
	}
	return faces, nil
}

// HealthCheck verifies the sidecar answers.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.baseURL == "" {
		return errors.New("vision base_url not configured")
	}
	if _, err := c.transport.Do(ctx, providerhttp.Request{Method: http.MethodGet, URL: c.baseURL + "/", Idempotent: true}); err != nil {
		return fmt.Errorf("vision health: %w", err)
	}
	return nil
}
