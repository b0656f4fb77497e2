// Package api defines the wire-format types and converters for the HTTP API
// and the CLI. It translates queue jobs and orders into transport-friendly
// DTOs so handlers and commands never serialize internal models directly.
//
// # Key Types
//
// PreviewStatus: preview progress, page URLs and failure text.
//
// OrderStatus: full-book progress, ETA and the download URL once the PDF
// exists.
//
// JobItem: an operator view of any job, used by `storybook jobs`.
//
// # Design Notes
//
// DTOs use snake_case JSON tags to match the storefront that consumes them.
// Artifact paths are never exposed; FileURL maps paths under the jobs
// directory onto the /files route. Timestamps use RFC3339 with
// milliseconds.
package api
