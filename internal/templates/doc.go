// Package templates loads storybook templates from disk.
//
// Each template is a directory under paths.templates_dir:
//
//	<id>/book.toml          manifest (title, deck, hero_token, ...)
//	<id>/<deck>.pptx        the slide deck
//	<id>/references/*.jpg   photos of the protagonist
//
// Reference embeddings are computed through the vision sidecar on first use
// and cached in references/embeddings.json, keyed by file name, size and
// modification time so replacing a photo invalidates its entry.
package templates
