package deck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"storybook/internal/config"
	"storybook/internal/logging"
	"storybook/internal/services"
)

// renderSlots serializes office conversions process-wide. Concurrent
// headless instances sharing a user profile corrupt each other's output.
var renderSlots = semaphore.NewWeighted(1)

var pagePattern = regexp.MustCompile(`-(\d+)\.png$`)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string) ([]byte, error)
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) RendererOption {
	return func(r *Renderer) {
		if exec != nil {
			r.exec = exec
		}
	}
}

// WithLookPath overrides binary resolution (primarily for tests).
func WithLookPath(fn func(string) (string, error)) RendererOption {
	return func(r *Renderer) {
		if fn != nil {
			r.lookPath = fn
		}
	}
}

// Renderer converts decks to PDF and page images.
type Renderer struct {
	soffice  string
	pdftoppm string
	dpi      int
	timeout  time.Duration
	logger   *slog.Logger
	exec     Executor
	lookPath func(string) (string, error)
}

// NewRenderer builds a Renderer from the render configuration.
func NewRenderer(cfg config.Render, logger *slog.Logger, opts ...RendererOption) *Renderer {
	if logger == nil {
		logger = logging.NewNop()
	}
	dpi := cfg.DPI
	if dpi <= 0 {
		dpi = 150
	}
	r := &Renderer{
		soffice:  strings.TrimSpace(cfg.SofficeBinary),
		pdftoppm: strings.TrimSpace(cfg.PdftoppmBinary),
		dpi:      dpi,
		timeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
		logger:   logging.NewComponentLogger(logger, "renderer"),
		exec:     commandExecutor{},
		lookPath: exec.LookPath,
	}
	if r.pdftoppm == "" {
		r.pdftoppm = "pdftoppm"
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ToPDF converts deckPath into outDir/<deck name>.pdf and returns its path.
func (r *Renderer) ToPDF(ctx context.Context, deckPath, outDir string) (string, error) {
	binary, err := r.officeBinary()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create render dir: %w", err)
	}
	profile, err := os.MkdirTemp("", "storybook-office-")
	if err != nil {
		return "", fmt.Errorf("create office profile: %w", err)
	}
	defer os.RemoveAll(profile)

	if err := renderSlots.Acquire(ctx, 1); err != nil {
		return "", services.Wrap(services.ErrTimeout, "render", "pdf", "waiting for renderer", err)
	}
	defer renderSlots.Release(1)

	runCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	args := []string{
		"-env:UserInstallation=file://" + filepath.ToSlash(profile),
		"--headless",
		"--norestore",
		"--convert-to", "pdf",
		"--outdir", outDir,
		deckPath,
	}
	start := time.Now()
	output, err := r.exec.Run(runCtx, binary, args)
	if err != nil {
		return "", r.commandError(runCtx, "pdf", binary, output, err)
	}

	base := strings.TrimSuffix(filepath.Base(deckPath), filepath.Ext(deckPath))
	pdfPath := filepath.Join(outDir, base+".pdf")
	if _, err := os.Stat(pdfPath); err != nil {
		return "", services.Wrap(services.ErrRender, "render", "pdf", "converter produced no pdf", err)
	}
	r.logger.Debug("deck converted to pdf",
		logging.String("deck", deckPath),
		logging.String("pdf", pdfPath),
		logging.Duration("elapsed", time.Since(start)),
	)
	return pdfPath, nil
}

// ToImages renders the first maxPages pages (all pages when maxPages <= 0)
// to outDir/slide_<index>.png. The intermediate PDF is always removed.
func (r *Renderer) ToImages(ctx context.Context, deckPath, outDir string, maxPages int) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}
	work, err := os.MkdirTemp(outDir, "render-")
	if err != nil {
		return nil, fmt.Errorf("create render workspace: %w", err)
	}
	defer os.RemoveAll(work)

	pdfPath, err := r.ToPDF(ctx, deckPath, work)
	if err != nil {
		return nil, err
	}

	binary, err := r.lookPath(r.pdftoppm)
	if err != nil {
		return nil, services.Wrap(services.ErrRender, "render", "images", fmt.Sprintf("binary %q not found", r.pdftoppm), err)
	}
	runCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	args := []string{"-png", "-r", strconv.Itoa(r.dpi)}
	if maxPages > 0 {
		args = append(args, "-l", strconv.Itoa(maxPages))
	}
	prefix := filepath.Join(work, "page")
	args = append(args, pdfPath, prefix)
	output, err := r.exec.Run(runCtx, binary, args)
	if err != nil {
		return nil, r.commandError(runCtx, "images", binary, output, err)
	}

	pages, err := collectPages(work)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, services.Wrap(services.ErrRender, "render", "images", "rasterizer produced no pages", nil)
	}
	out := make([]string, 0, len(pages))
	for idx, page := range pages {
		target := filepath.Join(outDir, fmt.Sprintf("slide_%d.png", idx))
		if err := os.Rename(page, target); err != nil {
			return nil, fmt.Errorf("move page image: %w", err)
		}
		out = append(out, target)
	}
	return out, nil
}

func (r *Renderer) officeBinary() (string, error) {
	candidates := []string{"libreoffice", "soffice"}
	if r.soffice != "" {
		candidates = []string{r.soffice}
	}
	for _, name := range candidates {
		if resolved, err := r.lookPath(name); err == nil {
			return resolved, nil
		}
	}
	return "", services.Wrap(services.ErrRender, "render", "pdf",
		fmt.Sprintf("office converter not found (tried %s)", strings.Join(candidates, ", ")), nil)
}

func (r *Renderer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Renderer) commandError(ctx context.Context, operation, binary string, output []byte, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrRender, "render", operation,
			fmt.Sprintf("%s timed out after %s", filepath.Base(binary), r.timeout), err)
	}
	msg := fmt.Sprintf("%s failed", filepath.Base(binary))
	if tail := lastLine(output); tail != "" {
		msg += ": " + tail
	}
	return services.Wrap(services.ErrRender, "render", operation, msg, err)
}

func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// collectPages returns pdftoppm outputs ordered by page number; the tool
// zero-pads numbers depending on the page count.
func collectPages(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil {
		return nil, err
	}
	number := func(p string) int {
		m := pagePattern.FindStringSubmatch(p)
		if m == nil {
			return 0
		}
		n, _ := strconv.Atoi(m[1])
		return n
	}
	sort.Slice(matches, func(i, j int) bool { return number(matches[i]) < number(matches[j]) })
	return matches, nil
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	return cmd.CombinedOutput()
}
