package deck_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"storybook/internal/config"
	"storybook/internal/deck"
	"storybook/internal/services"
)

// fakeTools imitates soffice and pdftoppm by writing the files they would.
type fakeTools struct {
	pages     int
	officeErr error
	calls     [][]string
}

func (f *fakeTools) Run(_ context.Context, binary string, args []string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{filepath.Base(binary)}, args...))
	switch filepath.Base(binary) {
	case "soffice", "libreoffice":
		if f.officeErr != nil {
			return []byte("warning: something\nsource file could not be loaded"), f.officeErr
		}
		outDir := valueAfter(args, "--outdir")
		deckPath := args[len(args)-1]
		name := strings.TrimSuffix(filepath.Base(deckPath), filepath.Ext(deckPath)) + ".pdf"
		return nil, os.WriteFile(filepath.Join(outDir, name), []byte("%PDF-1.4"), 0o644)
	case "pdftoppm":
		limit := f.pages
		if l := valueAfter(args, "-l"); l != "" {
			fmt.Sscanf(l, "%d", &limit)
		}
		prefix := args[len(args)-1]
		for i := 1; i <= min(limit, f.pages); i++ {
			if err := os.WriteFile(fmt.Sprintf("%s-%02d.png", prefix, i), []byte("png"), 0o644); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected binary %s", binary)
}

func valueAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func lookPathStub(available ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		for _, a := range available {
			if a == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", errors.New("not found")
	}
}

func newRenderer(tools *fakeTools, available ...string) *deck.Renderer {
	return deck.NewRenderer(config.Render{DPI: 150, TimeoutSeconds: 30}, nil,
		deck.WithExecutor(tools),
		deck.WithLookPath(lookPathStub(available...)),
	)
}

func TestToImagesRendersPagesAndRemovesPDF(t *testing.T) {
	tools := &fakeTools{pages: 12}
	r := newRenderer(tools, "soffice", "pdftoppm")
	outDir := t.TempDir()

	pages, err := r.ToImages(context.Background(), "/tmp/work/personalized.pptx", outDir, 3)
	if err != nil {
		t.Fatalf("ToImages returned error: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(pages))
	}
	for i, p := range pages {
		if filepath.Base(p) != fmt.Sprintf("slide_%d.png", i) {
			t.Fatalf("unexpected page name %s", p)
		}
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("page %d missing: %v", i, err)
		}
	}
	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatalf("read out dir: %v", err)
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".pdf") {
			t.Fatalf("intermediate artifact left behind: %s", e.Name())
		}
	}
	ppm := tools.calls[1]
	if valueAfter(ppm, "-r") != "150" || valueAfter(ppm, "-l") != "3" {
		t.Fatalf("unexpected pdftoppm args %v", ppm)
	}
}

func TestToPDFPrefersLibreOffice(t *testing.T) {
	tools := &fakeTools{pages: 1}
	r := newRenderer(tools, "libreoffice", "soffice")
	pdf, err := r.ToPDF(context.Background(), "/tmp/book.pptx", t.TempDir())
	if err != nil {
		t.Fatalf("ToPDF returned error: %v", err)
	}
	if filepath.Base(pdf) != "book.pdf" {
		t.Fatalf("unexpected pdf path %s", pdf)
	}
	if tools.calls[0][0] != "libreoffice" {
		t.Fatalf("expected libreoffice to be used, got %s", tools.calls[0][0])
	}
}

func TestRenderFailuresAreRenderErrors(t *testing.T) {
	t.Run("missing converter", func(t *testing.T) {
		r := newRenderer(&fakeTools{}, "pdftoppm")
		_, err := r.ToPDF(context.Background(), "/tmp/book.pptx", t.TempDir())
		if !errors.Is(err, services.ErrRender) {
			t.Fatalf("expected ErrRender, got %v", err)
		}
	})
	t.Run("converter exit", func(t *testing.T) {
		tools := &fakeTools{officeErr: errors.New("exit status 1")}
		r := newRenderer(tools, "soffice", "pdftoppm")
		outDir := t.TempDir()
		_, err := r.ToImages(context.Background(), "/tmp/book.pptx", outDir, 0)
		if !errors.Is(err, services.ErrRender) {
			t.Fatalf("expected ErrRender, got %v", err)
		}
		if !strings.Contains(err.Error(), "could not be loaded") {
			t.Fatalf("expected converter output in error, got %v", err)
		}
		entries, _ := os.ReadDir(outDir)
		if len(entries) != 0 {
			t.Fatalf("expected workspace cleanup, found %d entries", len(entries))
		}
	})
	t.Run("missing rasterizer", func(t *testing.T) {
		r := newRenderer(&fakeTools{pages: 1}, "soffice")
		_, err := r.ToImages(context.Background(), "/tmp/book.pptx", t.TempDir(), 1)
		if !errors.Is(err, services.ErrRender) {
			t.Fatalf("expected ErrRender, got %v", err)
		}
	})
}
