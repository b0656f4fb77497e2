// Package notifications pushes job milestones to an operator via ntfy.
//
// The ntfy backend is used when notifications.ntfy_topic is set; otherwise a
// no-op Service is returned. Delivery failures are reported to the caller,
// which logs them and carries on: a notification never decides a job's
// outcome.
package notifications
