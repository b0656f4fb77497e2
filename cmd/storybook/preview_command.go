package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"storybook/internal/config"
	"storybook/internal/fileutil"
	"storybook/internal/photo"
	"storybook/internal/pipeline"
	"storybook/internal/queue"
)

type previewOptions struct {
	templateID string
	childName  string
	photoPath  string
	book       bool
	email      string
	skipChecks bool
}

func newPreviewCommand(ctx *commandContext) *cobra.Command {
	var opts previewOptions
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Generate a preview from local files in the foreground",
		Long: "Generate a preview from a local photo without the daemon. With --book the\n" +
			"full book is generated afterwards from the finished preview.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(opts.templateID) == "" || strings.TrimSpace(opts.childName) == "" || strings.TrimSpace(opts.photoPath) == "" {
				return fmt.Errorf("--template, --name and --photo are required")
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				components := pipeline.Build(cfg, store, logger)
				return runPreview(runCtx, cmd.OutOrStdout(), cfg, store, components, opts)
			})
		},
	}
	cmd.Flags().StringVarP(&opts.templateID, "template", "t", "", "Template id")
	cmd.Flags().StringVarP(&opts.childName, "name", "n", "", "Child's name")
	cmd.Flags().StringVarP(&opts.photoPath, "photo", "p", "", "Path to the child's photo")
	cmd.Flags().BoolVar(&opts.book, "book", false, "Also generate the full book PDF")
	cmd.Flags().StringVar(&opts.email, "email", "operator@localhost", "Customer email recorded on the --book order")
	cmd.Flags().BoolVar(&opts.skipChecks, "skip-checks", false, "Skip the photo quality gates")
	return cmd
}

func runPreview(ctx context.Context, out io.Writer, cfg *config.Config, store *queue.Store, components *pipeline.Components, opts previewOptions) error {
	if _, err := components.Templates.Get(opts.templateID); err != nil {
		return err
	}
	source, err := config.ExpandPath(opts.photoPath)
	if err != nil {
		return err
	}

	token := queue.NewToken()
	uploadDir := filepath.Join(cfg.Paths.UploadsDir, token)
	original := filepath.Join(uploadDir, "original"+strings.ToLower(filepath.Ext(source)))
	if err := fileutil.CopyFile(source, original); err != nil {
		return fmt.Errorf("copy photo: %w", err)
	}
	if !opts.skipChecks {
		if _, err := components.Validator.Validate(ctx, original); err != nil {
			os.RemoveAll(uploadDir)
			return fmt.Errorf("photo rejected: %w", err)
		}
	}
	normalized := filepath.Join(uploadDir, "child_photo.jpg")
	if err := photo.Normalize(original, normalized); err != nil {
		os.RemoveAll(uploadDir)
		return err
	}

	job, err := store.CreatePreview(ctx, queue.NewPreview{
		Token:      token,
		TemplateID: opts.templateID,
		ChildName:  opts.childName,
		PhotoPath:  normalized,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Preview %s queued (job %d), generating...\n", job.Token, job.ID)
	preview, err := runJob(ctx, store, components, job)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Preview completed: %d pictures personalized\n", len(preview.Outputs.Swapped))
	for _, page := range preview.Outputs.PageImages {
		fmt.Fprintf(out, "  %s\n", page)
	}
	if !opts.book {
		return nil
	}

	order, book, err := store.CreateOrder(ctx, queue.NewOrder{
		PreviewToken:  preview.Token,
		CustomerName:  "storybook cli",
		CustomerEmail: opts.email,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Order %s created, generating the full book...\n", order.OrderNumber)
	book, err = runJob(ctx, store, components, book)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Book completed: %s\n", book.Outputs.PDFPath)
	return nil
}

// runJob runs job to completion and returns its stored record.
func runJob(ctx context.Context, store *queue.Store, components *pipeline.Components, job *queue.Job) (*queue.Job, error) {
	runErr := components.Orchestrator.Run(ctx, job)
	reloaded, err := store.GetByID(context.WithoutCancel(ctx), job.ID)
	if err != nil {
		return nil, err
	}
	if runErr != nil {
		if reloaded != nil && reloaded.ErrorMessage != "" {
			return nil, fmt.Errorf("job %d failed: %s", job.ID, reloaded.ErrorMessage)
		}
		return nil, runErr
	}
	if reloaded == nil {
		return nil, fmt.Errorf("job %d disappeared", job.ID)
	}
	return reloaded, nil
}
