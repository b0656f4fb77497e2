package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"storybook/internal/api"
	"storybook/internal/templates"
)

func newTemplatesCommand(ctx *commandContext) *cobra.Command {
	templatesCmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect the template catalogue",
	}

	var asJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List installed templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			list, err := templates.NewStore(cfg.Paths.TemplatesDir, nil, nil).List()
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, api.TemplateListResponse{Templates: api.FromTemplates(list)})
			}
			if len(list) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No templates in %s\n", cfg.Paths.TemplatesDir)
				return nil
			}
			rows := make([][]string, 0, len(list))
			for _, tmpl := range list {
				rows = append(rows, []string{tmpl.ID, tmpl.Title, tmpl.AgeRange, strconv.Itoa(len(tmpl.References))})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Title", "Ages", "References"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
	listCmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	templatesCmd.AddCommand(listCmd)
	return templatesCmd
}
