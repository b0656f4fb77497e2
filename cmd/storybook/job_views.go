package main

import (
	"fmt"
	"strings"
	"time"

	"storybook/internal/queue"
)

func buildJobRows(jobs []*queue.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			fmt.Sprint(job.ID),
			string(job.Kind),
			job.Token,
			job.TemplateID,
			job.ChildName,
			string(job.Status),
			formatProgress(job),
			job.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return rows
}

func formatProgress(job *queue.Job) string {
	if job.ImagesTotal == 0 {
		return fmt.Sprintf("%.0f%%", job.Percent())
	}
	return fmt.Sprintf("%d/%d", job.ImagesCompleted, job.ImagesTotal)
}

func renderJobDetail(job *queue.Job, timings []queue.Timing) string {
	var b strings.Builder
	field := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "%-14s %s\n", label+":", value)
	}
	field("ID", fmt.Sprint(job.ID))
	field("Kind", string(job.Kind))
	field("Token", job.Token)
	field("Template", job.TemplateID)
	field("Child", job.ChildName)
	field("Status", string(job.Status))
	field("Progress", formatProgress(job))
	field("Error", job.ErrorMessage)
	field("Photo", job.PhotoPath)
	field("Stylized", job.StylizedPhotoPath)
	if job.SourcePreviewID != 0 {
		field("Preview", fmt.Sprint(job.SourcePreviewID))
	}
	field("Created", formatTimestamp(&job.CreatedAt))
	field("Started", formatTimestamp(job.StartedAt))
	field("Completed", formatTimestamp(job.CompletedAt))
	field("Expires", formatTimestamp(job.ExpiresAt))
	field("Deck", job.Outputs.DeckPath)
	field("PDF", job.Outputs.PDFPath)
	for i, page := range job.Outputs.PageImages {
		field(fmt.Sprintf("Page %d", i+1), page)
	}
	if keys := job.Outputs.SwappedKeys(); len(keys) > 0 {
		field("Swapped", strings.Join(keys, ", "))
	}

	if len(timings) > 0 {
		rows := make([][]string, 0, len(timings))
		var total time.Duration
		for _, timing := range timings {
			total += timing.Duration
			rows = append(rows, []string{timing.Stage, timing.Duration.Round(time.Millisecond).String()})
		}
		rows = append(rows, []string{"total", total.Round(time.Millisecond).String()})
		b.WriteString("\n")
		b.WriteString(renderTable([]string{"Stage", "Duration"}, rows, []columnAlignment{alignLeft, alignRight}))
	}
	return b.String()
}

func formatTimestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Local().Format(time.RFC3339)
}
