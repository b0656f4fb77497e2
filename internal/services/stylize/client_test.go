package stylize_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"storybook/internal/config"
	"storybook/internal/services"
	"storybook/internal/services/stylize"
	"storybook/internal/testsupport"
)

func newStylizer(server *httptest.Server, timeout int) *stylize.Client {
	return stylize.New(config.Stylize{
		APIKey:         "segmind-key",
		UploadURL:      server.URL + "/upload-asset",
		GenerateURL:    server.URL + "/v1/nano-banana-pro",
		Prompt:         "make it a cartoon",
		TimeoutSeconds: timeout,
	}, nil)
}

func TestStylizeUploadsThenGenerates(t *testing.T) {
	illustrated := testsupport.EncodeJPEG(t, testsupport.Pattern(64, 64, 3))
	var gen map[string]any
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "segmind-key" {
			t.Errorf("missing api key header on %s", r.URL.Path)
		}
		switch r.URL.Path {
		case "/upload-asset":
			var body map[string][]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if len(body["data_urls"]) != 1 {
				t.Errorf("expected one data url, got %v", body)
			}
			_, _ = w.Write([]byte(`{"file_urls":["https://cdn.example/asset.jpg"]}`))
		case "/v1/nano-banana-pro":
			_ = json.NewDecoder(r.Body).Decode(&gen)
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(illustrated)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	dir := t.TempDir()
	photo := testsupport.WriteImage(t, filepath.Join(dir, "child.jpg"), testsupport.Pattern(80, 80, 1))
	out := filepath.Join(dir, "stylized", "child.jpg")
	if err := newStylizer(server, 5).Stylize(context.Background(), photo, out); err != nil {
		t.Fatalf("Stylize returned error: %v", err)
	}
	written, err := os.ReadFile(out)
	if err != nil || len(written) != len(illustrated) {
		t.Fatalf("stylized output not written: %v", err)
	}
	if gen["prompt"] != "make it a cartoon" || gen["aspect_ratio"] != "1:1" ||
		gen["output_resolution"] != "1K" || gen["output_format"] != "jpg" {
		t.Fatalf("unexpected generation payload %v", gen)
	}
	urls, _ := gen["image_urls"].([]any)
	if len(urls) != 1 || urls[0] != "https://cdn.example/asset.jpg" {
		t.Fatalf("expected uploaded url to be used, got %v", gen["image_urls"])
	}
}

func TestStylizeJSONReplyIsProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/upload-asset" {
			_, _ = w.Write([]byte(`{"file_urls":["https://cdn.example/a.jpg"]}`))
			return
		}
		_, _ = w.Write([]byte(`{"error":"nsfw filter"}`))
	}))
	defer server.Close()

	dir := t.TempDir()
	photo := testsupport.WriteImage(t, filepath.Join(dir, "child.jpg"), testsupport.Pattern(16, 16, 1))
	err := newStylizer(server, 5).Stylize(context.Background(), photo, filepath.Join(dir, "out.jpg"))
	if !errors.Is(err, services.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

func TestStylizeUploadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	dir := t.TempDir()
	photo := testsupport.WriteImage(t, filepath.Join(dir, "child.jpg"), testsupport.Pattern(16, 16, 1))
	err := newStylizer(server, 5).Stylize(context.Background(), photo, filepath.Join(dir, "out.jpg"))
	if !errors.Is(err, services.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

func TestStylizeTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()
	defer close(release)

	dir := t.TempDir()
	photo := testsupport.WriteImage(t, filepath.Join(dir, "child.jpg"), testsupport.Pattern(16, 16, 1))
	err := newStylizer(server, 1).Stylize(context.Background(), photo, filepath.Join(dir, "out.jpg"))
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
