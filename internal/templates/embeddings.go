package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"storybook/internal/logging"
	"storybook/internal/services"
)

const (
	cacheName    = "embeddings.json"
	cacheVersion = 1
)

type embeddingCache struct {
	Version int                       `json:"version"`
	Entries map[string]embeddingEntry `json:"entries"`
}

type embeddingEntry struct {
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"mod_time"`
	Embedding []float64 `json:"embedding"`
}

// ReferenceEmbeddings returns one embedding per usable reference photo of
// tmpl, computing and caching the ones not already cached. A template with
// no usable reference is services.ErrFatalInput.
func (s *Store) ReferenceEmbeddings(ctx context.Context, tmpl *Template) ([][]float64, error) {
	if len(tmpl.References) == 0 {
		return nil, services.Wrap(services.ErrFatalInput, "templates", "references",
			fmt.Sprintf("template %s has no reference images", tmpl.ID), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cachePath := filepath.Join(tmpl.Dir, referencesDir, cacheName)
	cache := readCache(cachePath)
	dirty := false
	var out [][]float64

	for _, ref := range tmpl.References {
		info, err := os.Stat(ref)
		if err != nil {
			continue
		}
		name := filepath.Base(ref)
		if entry, ok := cache.Entries[name]; ok && entry.Size == info.Size() && entry.ModTime.Equal(info.ModTime()) && len(entry.Embedding) > 0 {
			out = append(out, entry.Embedding)
			continue
		}
		if s.embedder == nil {
			continue
		}
		embedding, err := s.embedder.EmbedReference(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logging.WarnWithContext(s.logger, "reference embedding failed", "reference_unusable",
				logging.String("template_id", tmpl.ID),
				logging.String("reference", name),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "replace the photo with a clear, front-facing shot"),
				logging.String(logging.FieldImpact, "reference is ignored for matching"),
			)
			continue
		}
		cache.Entries[name] = embeddingEntry{Size: info.Size(), ModTime: info.ModTime(), Embedding: embedding}
		dirty = true
		out = append(out, embedding)
	}

	if dirty {
		if err := writeCache(cachePath, cache); err != nil {
			logging.WarnWithContext(s.logger, "embedding cache not saved", "cache_write_failed",
				logging.String("template_id", tmpl.ID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "references are re-embedded next run"),
			)
		}
	}
	if len(out) == 0 {
		return nil, services.Wrap(services.ErrFatalInput, "templates", "references",
			fmt.Sprintf("no usable reference images for template %s", tmpl.ID), nil)
	}
	return out, nil
}

func readCache(path string) embeddingCache {
	cache := embeddingCache{Version: cacheVersion, Entries: map[string]embeddingEntry{}}
	data, err := os.ReadFile(path)
	if err != nil {
		return cache
	}
	var loaded embeddingCache
	if err := json.Unmarshal(data, &loaded); err != nil || loaded.Version != cacheVersion || loaded.Entries == nil {
		return cache
	}
	return loaded
}

func writeCache(path string, cache embeddingCache) error {
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
