// Package pipeline runs one preview or full-book generation job end to end.
//
// Orchestrator.Run moves a queued job to processing and then works through
// the stages in order: template and reference loading, photo stylization,
// hero name substitution, picture extraction, identity matching, face swap,
// compositing, progress reporting, image substitution with rendering, and
// finally the completed record. Matching, swapping and compositing fan out
// per picture; a picture that fails any of them is dropped with a logged
// reason while the rest carry on. Any other failure, or a panic, stops the
// run and leaves the job failed with a classified message.
//
// Full-book jobs reuse the composited pictures of their source preview for
// the shapes that preview covered, so the swap provider is only called for
// the remaining pages.
//
// Each run owns a Timings value that records every stage and is flushed
// exactly once, to the job store and to <log_dir>/performance/<token>.json.
package pipeline
