package queue

import "errors"

var (
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the job's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrPreviewNotFound means the preview token is unknown or expired.
	ErrPreviewNotFound = errors.New("preview not found")
	// ErrPreviewNotReady means an order referenced a preview that has not completed.
	ErrPreviewNotReady = errors.New("preview not completed")
)
