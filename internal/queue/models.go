package queue

import (
	"slices"
	"time"
)

// Kind distinguishes the two generation workflows.
type Kind string

const (
	KindPreview  Kind = "preview"
	KindFullBook Kind = "full_book"
)

// Status represents the lifecycle of a generation job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// DefaultPreviewRetention is used when a preview is created without an expiry.
const DefaultPreviewRetention = 7 * 24 * time.Hour

// InterruptedReason is stored on jobs that were processing when the daemon died.
const InterruptedReason = "interrupted by daemon restart"

// maxErrorMessageLength bounds error text persisted on job records.
const maxErrorMessageLength = 500

// predecessor lists the only status each target may be entered from.
var predecessor = map[Status]Status{
	StatusProcessing: StatusQueued,
	StatusCompleted:  StatusProcessing,
	StatusFailed:     StatusProcessing,
	StatusQueued:     StatusFailed,
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to Status) bool {
	prev, ok := predecessor[to]
	return ok && prev == from
}

// IsTerminal reports whether the status ends a run.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Outputs records the artifacts a job produced.
type Outputs struct {
	// PageImages are rendered slide images, in page order (previews).
	PageImages []string `json:"page_images,omitempty"`
	// Swapped maps "<page>:<shape>" keys to composited image paths.
	Swapped  map[string]string `json:"swapped,omitempty"`
	DeckPath string            `json:"deck_path,omitempty"`
	PDFPath  string            `json:"pdf_path,omitempty"`
}

// SwappedKeys returns the shape keys in Outputs.Swapped in sorted order.
func (o Outputs) SwappedKeys() []string {
	keys := make([]string, 0, len(o.Swapped))
	for key := range o.Swapped {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Job is one preview or full-book generation run.
type Job struct {
	ID                int64
	Kind              Kind
	Token             string
	TemplateID        string
	ChildName         string
	PhotoPath         string
	StylizedPhotoPath string
	SourcePreviewID   int64
	Status            Status
	ErrorMessage      string
	ImagesCompleted   int
	ImagesTotal       int
	EstimatedMinutes  int
	Outputs           Outputs
	CreatedAt         time.Time
	UpdatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	ExpiresAt         *time.Time
}

// Expired reports whether a preview is past its retention window at now.
func (j *Job) Expired(now time.Time) bool {
	if j == nil || j.Kind != KindPreview || j.ExpiresAt == nil {
		return false
	}
	return !now.Before(*j.ExpiresAt)
}

// Percent approximates completion for status displays.
func (j *Job) Percent() float64 {
	switch {
	case j == nil:
		return 0
	case j.Status == StatusCompleted:
		return 100
	case j.ImagesTotal <= 0:
		return 0
	}
	return float64(j.ImagesCompleted) / float64(j.ImagesTotal) * 100
}

// NewPreview describes a preview request accepted by the API.
type NewPreview struct {
	Token      string
	TemplateID string
	ChildName  string
	PhotoPath  string
	ExpiresAt  time.Time
}

// NewOrder describes a full-book order placed against a completed preview.
type NewOrder struct {
	PreviewToken  string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	ChildAge      int
}

// Order links a customer to the full-book job generated for them.
type Order struct {
	ID            int64
	OrderNumber   string
	JobID         int64
	PreviewID     int64
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	ChildAge      int
	CreatedAt     time.Time
}

// Timing is the duration of one pipeline stage within a run.
type Timing struct {
	Stage     string        `json:"stage"`
	Duration  time.Duration `json:"duration_ns"`
	StartedAt time.Time     `json:"started_at"`
}

// DatabaseHealth captures diagnostic information about the job database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	IntegrityCheck   bool
	TotalJobs        int
	Error            string
}

// HealthSummary describes aggregated job counts per lifecycle state.
type HealthSummary struct {
	Total      int
	Queued     int
	Processing int
	Completed  int
	Failed     int
}
