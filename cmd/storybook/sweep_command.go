package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"storybook/internal/config"
	"storybook/internal/daemon"
	"storybook/internal/queue"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired previews and prune old logs now",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				result, err := daemon.NewSweeper(cfg, store, logger).RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired previews (%d directories) and %d old logs\n",
					result.Previews, len(result.Removed), result.Logs)
				return nil
			})
		},
	}
}
