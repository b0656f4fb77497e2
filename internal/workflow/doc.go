// Package workflow is the daemon's work queue for generation jobs.
//
// Submit starts exactly one worker goroutine per accepted job. A weighted
// semaphore caps how many workers run the pipeline at once; the rest wait
// in line. Stop closes intake, lets running jobs finish within the
// configured grace period and then cancels whatever is left. Jobs still
// waiting for a slot stay queued in the store and are dispatched again by
// the next Start.
//
// Each job logs to the daemon log and to its own file under the log
// directory, so a single preview or book can be inspected in isolation.
package workflow
