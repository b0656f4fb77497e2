package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"storybook/internal/api"
	"storybook/internal/config"
	"storybook/internal/queue"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage generation jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var kind string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := make([]queue.Status, 0, len(statuses))
			for _, value := range statuses {
				status := queue.Status(strings.ToLower(strings.TrimSpace(value)))
				if !validStatus(status) {
					return fmt.Errorf("unknown status %q", value)
				}
				filter = append(filter, status)
			}
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				jobs, err := store.List(cmd.Context(), filter...)
				if err != nil {
					return err
				}
				if kind != "" {
					jobs = filterKind(jobs, queue.Kind(kind))
				}
				if asJSON {
					return writeJSON(cmd, api.FromJobs(jobs))
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Kind", "Token", "Template", "Child", "Status", "Progress", "Created"},
					buildJobRows(jobs),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().StringVar(&kind, "kind", "", "Filter by kind (preview or full_book)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id|token>",
		Short: "Show one job with its stage timings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				job, err := resolveJob(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				timings, err := store.Timings(cmd.Context(), job.ID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, struct {
						Job     api.JobItem    `json:"job"`
						Timings []queue.Timing `json:"timings,omitempty"`
					}{api.FromJob(job), timings})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderJobDetail(job, timings))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id|token>",
		Short: "Move a failed job back to queued",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				job, err := resolveJob(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				if err := store.Retry(cmd.Context(), job.ID); err != nil {
					if errors.Is(err, queue.ErrInvalidTransition) {
						return fmt.Errorf("job %d is %s; only failed jobs can be retried", job.ID, job.Status)
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d queued for retry; the daemon dispatches queued jobs when it starts\n", job.ID)
				return nil
			})
		},
	}
}

func resolveJob(ctx context.Context, store *queue.Store, ref string) (*queue.Job, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("job id or token is required")
	}
	var job *queue.Job
	var err error
	if id, convErr := strconv.ParseInt(ref, 10, 64); convErr == nil {
		job, err = store.GetByID(ctx, id)
	} else {
		job, err = store.GetByToken(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s not found", ref)
	}
	return job, nil
}

func validStatus(status queue.Status) bool {
	switch status {
	case queue.StatusQueued, queue.StatusProcessing, queue.StatusCompleted, queue.StatusFailed:
		return true
	}
	return false
}

func filterKind(jobs []*queue.Job, kind queue.Kind) []*queue.Job {
	out := jobs[:0]
	for _, job := range jobs {
		if job.Kind == kind {
			out = append(out, job)
		}
	}
	return out
}
