// Package preflight provides readiness checks for the directories, binaries
// and provider services the storybook daemon depends on.
//
// The daemon calls RunAll once during Start. Failures are logged and the
// results are reported through /api/health as "degraded"; uploads are still
// accepted so a provider outage does not block the storefront.
//
// Each check is gated by its config toggle; disabled features are skipped.
package preflight
