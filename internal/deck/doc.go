// Package deck reads and rewrites slide-deck (PPTX) templates.
//
// Extract pulls every picture shape out of the first N slides, recursing into
// group shapes. ReplaceText and ReplaceImages write a new package in which
// only the targeted text runs and picture relationships change; every other
// part is copied byte for byte. Renderer converts a deck to PDF and page
// images through LibreOffice and pdftoppm, one conversion at a time.
//
// Pages are 0-based slide indexes in presentation order, and a picture is
// identified by its non-visual shape id, so (page, shape) is stable across
// extraction and substitution.
package deck
