// Package daemon coordinates the long-running storybook process.
//
// It wires configuration, the job store, the workflow manager, the HTTP API
// and the maintenance sweeper into a single lifecycle with flock-based
// locking to prevent multiple instances. Start runs preflight checks and
// keeps their results for the health endpoint; failed checks are logged but
// do not stop the daemon.
//
// Keep orchestration logic here: pipeline stages live in internal/pipeline
// and the work queue in internal/workflow, while the daemon focuses on
// startup, shutdown and the request surface.
package daemon
