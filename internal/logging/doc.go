// Package logging assembles structured slog loggers and formatting helpers used
// across storybook services.
//
// It owns the console and JSON handlers, fans records out to stdout and the
// log file, and exposes context-aware helpers so pipeline code tags log lines
// with job IDs, tokens, stages, and correlation IDs. Retention pruning of old
// log and timing files also lives here.
package logging
