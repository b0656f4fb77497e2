package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"storybook/internal/deck"
	"storybook/internal/logging"
)

type inspectReport struct {
	Deck     string           `json:"deck"`
	Pages    [][]string       `json:"pages"`
	Pictures []inspectPicture `json:"pictures"`
}

type inspectPicture struct {
	Shape  string `json:"shape"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	File   string `json:"file"`
}

func newInspectCommand() *cobra.Command {
	var maxPages int
	var keep bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:         "inspect <deck.pptx>",
		Short:       "List the pictures and text of a deck",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			pages, err := deck.Text(path)
			if err != nil {
				return err
			}
			scratch, err := os.MkdirTemp("", "storybook-inspect-*")
			if err != nil {
				return err
			}
			if !keep {
				defer os.RemoveAll(scratch)
			}
			images, err := deck.Extract(cmd.Context(), path, scratch, maxPages, logging.NewNop())
			if err != nil {
				return err
			}

			report := inspectReport{Deck: path, Pages: pages}
			for _, img := range images {
				report.Pictures = append(report.Pictures, inspectPicture{
					Shape:  img.Key.String(),
					Width:  img.Width,
					Height: img.Height,
					File:   img.Path,
				})
			}
			if asJSON {
				return writeJSON(cmd, report)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d pages, %d pictures\n", filepath.Base(path), len(pages), len(images))
			if len(pages) > 0 {
				rows := make([][]string, 0, len(pages))
				for i, runs := range pages {
					rows = append(rows, []string{strconv.Itoa(i), strings.Join(runs, " ")})
				}
				fmt.Fprint(out, renderTable([]string{"Page", "Text"}, rows, []columnAlignment{alignRight, alignLeft}))
			}
			if len(images) > 0 {
				rows := make([][]string, 0, len(images))
				for _, pic := range report.Pictures {
					rows = append(rows, []string{pic.Shape, fmt.Sprintf("%dx%d", pic.Width, pic.Height), filepath.Base(pic.File)})
				}
				fmt.Fprint(out, renderTable([]string{"Shape", "Size", "File"}, rows, []columnAlignment{alignLeft, alignRight, alignLeft}))
			}
			if keep {
				fmt.Fprintf(out, "Pictures kept in %s\n", scratch)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxPages, "pages", 0, "Only extract pictures from the first N pages (0 means all)")
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep the extracted pictures")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
