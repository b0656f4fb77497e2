package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// HeroToken is the placeholder fixture templates use for the child's name.
const HeroToken = "{{CHILD_NAME}}"

// WriteTemplate creates a template directory under root with a manifest, a
// deck built from slides and refs reference photos. It returns the template
// directory.
func WriteTemplate(t testing.TB, root, id string, slides []Slide, refs int) string {
	t.Helper()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(filepath.Join(dir, "references"), 0o755); err != nil {
		t.Fatalf("mkdir template: %v", err)
	}
	manifest := fmt.Sprintf("title = %q\ndescription = \"A fixture story\"\nage_range = \"3-6\"\ndeck = \"story.pptx\"\nhero_token = %q\n", "Story "+id, HeroToken)
	if err := os.WriteFile(filepath.Join(dir, "book.toml"), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	WriteDeck(t, filepath.Join(dir, "story.pptx"), slides)
	for i := 0; i < refs; i++ {
		WriteImage(t, filepath.Join(dir, "references", fmt.Sprintf("ref%d.jpg", i+1)), Pattern(64, 64, uint8(100+i)))
	}
	return dir
}
