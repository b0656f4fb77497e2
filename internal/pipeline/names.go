package pipeline

import (
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// NormalizeChildName folds full-width forms, composes to NFC and collapses
// whitespace so the substituted name renders the same in every slide.
func NormalizeChildName(name string) string {
	name = width.Fold.String(name)
	name = norm.NFC.String(name)
	return strings.Join(strings.Fields(name), " ")
}
