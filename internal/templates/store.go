package templates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"storybook/internal/logging"
	"storybook/internal/services"
)

const (
	manifestName  = "book.toml"
	referencesDir = "references"
	defaultDeck   = "book.pptx"
	defaultHero   = "{{CHILD_NAME}}"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

var referenceExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}

// Template is one storybook template.
type Template struct {
	ID          string
	Title       string
	Description string
	AgeRange    string
	HeroToken   string
	Dir         string
	DeckPath    string
	References  []string
}

type manifest struct {
	Title       string `toml:"title"`
	Description string `toml:"description"`
	AgeRange    string `toml:"age_range"`
	Deck        string `toml:"deck"`
	HeroToken   string `toml:"hero_token"`
}

// ReferenceEmbedder embeds the protagonist face in a reference photo.
type ReferenceEmbedder interface {
	EmbedReference(ctx context.Context, path string) ([]float64, error)
}

// Store reads templates from a root directory.
type Store struct {
	root     string
	embedder ReferenceEmbedder
	logger   *slog.Logger

	mu sync.Mutex // guards embeddings.json rewrites
}

// NewStore builds a Store rooted at root.
func NewStore(root string, embedder ReferenceEmbedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{root: root, embedder: embedder, logger: logging.NewComponentLogger(logger, "templates")}
}

// Root returns the templates directory.
func (s *Store) Root() string {
	return s.root
}

// List returns every valid template ordered by id. Directories without a
// readable manifest are logged and skipped.
func (s *Store) List() ([]Template, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read templates dir: %w", err)
	}
	var out []Template
	for _, entry := range entries {
		if !entry.IsDir() || !idPattern.MatchString(entry.Name()) {
			continue
		}
		tmpl, err := s.load(entry.Name())
		if err != nil {
			logging.WarnWithContext(s.logger, "template skipped", "template_invalid",
				logging.String("template_id", entry.Name()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check book.toml and the deck file"),
				logging.String(logging.FieldImpact, "template is not offered"),
			)
			continue
		}
		out = append(out, *tmpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns the template with id. Unknown ids are services.ErrNotFound.
func (s *Store) Get(id string) (*Template, error) {
	id = strings.TrimSpace(id)
	if !idPattern.MatchString(id) {
		return nil, services.Wrap(services.ErrNotFound, "templates", "get", fmt.Sprintf("template %q not found", id), nil)
	}
	if _, err := os.Stat(filepath.Join(s.root, id, manifestName)); err != nil {
		return nil, services.Wrap(services.ErrNotFound, "templates", "get", fmt.Sprintf("template %q not found", id), err)
	}
	return s.load(id)
}

func (s *Store) load(id string) (*Template, error) {
	dir := filepath.Join(s.root, id)
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, services.Wrap(services.ErrFatalInput, "templates", "load", "read manifest", err)
	}
	var m manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, services.Wrap(services.ErrFatalInput, "templates", "load", "parse manifest", err)
	}
	deck := strings.TrimSpace(m.Deck)
	if deck == "" {
		deck = defaultDeck
	}
	if filepath.IsAbs(deck) || strings.Contains(filepath.ToSlash(deck), "..") {
		return nil, services.Wrap(services.ErrFatalInput, "templates", "load", "deck must be a file inside the template", nil)
	}
	deckPath := filepath.Join(dir, deck)
	if _, err := os.Stat(deckPath); err != nil {
		return nil, services.Wrap(services.ErrFatalInput, "templates", "load", "deck missing", err)
	}
	hero := m.HeroToken
	if strings.TrimSpace(hero) == "" {
		hero = defaultHero
	}
	title := strings.TrimSpace(m.Title)
	if title == "" {
		title = id
	}
	return &Template{
		ID:          id,
		Title:       title,
		Description: strings.TrimSpace(m.Description),
		AgeRange:    strings.TrimSpace(m.AgeRange),
		HeroToken:   hero,
		Dir:         dir,
		DeckPath:    deckPath,
		References:  listReferences(filepath.Join(dir, referencesDir)),
	}, nil
}

func listReferences(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() || !referenceExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		out = append(out, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(out)
	return out
}
