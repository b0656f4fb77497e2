// Package queue persists generation jobs, orders, and per-job timings in
// SQLite and exposes helpers for driving the job lifecycle.
//
// A job is either a preview or a full book; both share one state machine:
// queued -> processing -> completed | failed, plus failed -> queued for a
// manual retry. Transitions are enforced in SQL so a job can never skip
// processing, and the error text stored on failure is truncated.
//
// Preview jobs carry an expiry; read paths (GetPreview, CreateOrder) treat an
// expired preview as missing even while its row still exists. The daemon's
// sweeper later removes those rows with DeleteExpiredPreviews.
//
// Schema changes bump the version in schema.go; operators delete the database
// to adopt the new schema.
package queue
