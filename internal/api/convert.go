package api

import (
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"storybook/internal/preflight"
	"storybook/internal/queue"
	"storybook/internal/templates"
	"storybook/internal/workflow"
)

// URLBuilder maps job artifacts onto public URLs.
type URLBuilder struct {
	// Base is prepended to every URL; empty yields root-relative URLs.
	Base    string
	JobsDir string
}

// FileURL returns the /files URL for a path inside JobsDir. Paths outside
// the jobs directory report false.
func (u URLBuilder) FileURL(path string) (string, bool) {
	if path == "" || u.JobsDir == "" {
		return "", false
	}
	rel, err := filepath.Rel(u.JobsDir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	segments := strings.Split(filepath.ToSlash(rel), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return u.join("/files/" + strings.Join(segments, "/")), true
}

// DownloadURL returns the PDF download route for an order.
func (u URLBuilder) DownloadURL(orderNumber string) string {
	return u.join("/api/orders/" + url.PathEscape(orderNumber) + "/download")
}

func (u URLBuilder) join(path string) string {
	return strings.TrimRight(u.Base, "/") + path
}

// FromTemplates converts the template catalogue.
func FromTemplates(list []templates.Template) []Template {
	out := make([]Template, 0, len(list))
	for _, tmpl := range list {
		out = append(out, Template{
			ID:          tmpl.ID,
			Title:       tmpl.Title,
			Description: tmpl.Description,
			AgeRange:    tmpl.AgeRange,
		})
	}
	return out
}

// PreviewStatusFromJob converts a preview job. Page URLs are only exposed
// once the preview has completed.
func PreviewStatusFromJob(job *queue.Job, urls URLBuilder) PreviewStatus {
	dto := PreviewStatus{
		PreviewToken:    job.Token,
		Status:          string(job.Status),
		Percent:         job.Percent(),
		ImagesCompleted: job.ImagesCompleted,
		ImagesTotal:     job.ImagesTotal,
		ErrorMessage:    job.ErrorMessage,
		ExpiresAt:       formatTime(job.ExpiresAt),
	}
	if job.Status == queue.StatusCompleted {
		for _, page := range job.Outputs.PageImages {
			if link, ok := urls.FileURL(page); ok {
				dto.PreviewImagesURLs = append(dto.PreviewImagesURLs, link)
			}
		}
	}
	return dto
}

// OrderStatusFromJob converts an order and its full-book job.
func OrderStatusFromJob(order *queue.Order, job *queue.Job, urls URLBuilder) OrderStatus {
	dto := OrderStatus{
		OrderNumber:          order.OrderNumber,
		GenerationStatus:     string(job.Status),
		CharactersCompleted:  job.ImagesCompleted,
		CharactersTotal:      job.ImagesTotal,
		EstimatedTimeMinutes: job.EstimatedMinutes,
		ErrorMessage:         job.ErrorMessage,
	}
	if job.Status == queue.StatusCompleted && job.Outputs.PDFPath != "" {
		dto.FinalPDFURL = urls.DownloadURL(order.OrderNumber)
		dto.EstimatedTimeMinutes = 0
	}
	return dto
}

// FromJob converts a job for operator tooling.
func FromJob(job *queue.Job) JobItem {
	if job == nil {
		return JobItem{}
	}
	return JobItem{
		ID:               job.ID,
		Kind:             string(job.Kind),
		Token:            job.Token,
		TemplateID:       job.TemplateID,
		ChildName:        job.ChildName,
		Status:           string(job.Status),
		Percent:          job.Percent(),
		ImagesCompleted:  job.ImagesCompleted,
		ImagesTotal:      job.ImagesTotal,
		EstimatedMinutes: job.EstimatedMinutes,
		ErrorMessage:     job.ErrorMessage,
		Swapped:          job.Outputs.SwappedKeys(),
		PageImages:       job.Outputs.PageImages,
		DeckPath:         job.Outputs.DeckPath,
		PDFPath:          job.Outputs.PDFPath,
		CreatedAt:        formatTime(&job.CreatedAt),
		StartedAt:        formatTime(job.StartedAt),
		CompletedAt:      formatTime(job.CompletedAt),
		ExpiresAt:        formatTime(job.ExpiresAt),
	}
}

// FromJobs converts a job list.
func FromJobs(jobs []*queue.Job) []JobItem {
	out := make([]JobItem, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// FromStatusSummary converts workflow diagnostics.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	return WorkflowStatus{
		Running:    summary.Running,
		ActiveJobs: summary.ActiveJobs,
		Processed:  summary.Processed,
		Failed:     summary.Failed,
		LastError:  summary.LastError,
		QueueStats: MergeQueueStats(summary.QueueStats),
	}
}

// FromChecks converts preflight results.
func FromChecks(results []preflight.Result) []CheckResult {
	out := make([]CheckResult, 0, len(results))
	for _, r := range results {
		out = append(out, CheckResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
	}
	return out
}

// MergeQueueStats keys stats by status string, reporting every status even
// when it has no jobs.
func MergeQueueStats(stats map[queue.Status]int) map[string]int {
	out := map[string]int{
		string(queue.StatusQueued):     0,
		string(queue.StatusProcessing): 0,
		string(queue.StatusCompleted):  0,
		string(queue.StatusFailed):     0,
	}
	for status, count := range stats {
		out[string(status)] += count
	}
	return out
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
