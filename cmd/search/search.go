// Package search implements the command that finds photos by bib number.
package search

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/growlabs/bibscan-go/internal/conf"
	"github.com/growlabs/bibscan-go/internal/pipeline"
)

// Command creates the search command for finding photos by bib number.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "search [bib number]",
		Short: "Find processed photos showing a bib number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			processor, err := pipeline.NewFromSettings(settings)
			if err != nil {
				return err
			}
			defer func() { _ = processor.Store.Close() }()

			matches, err := processor.SearchByBibNumber(args[0])
			if err != nil {
				return err
			}

			if len(matches) == 0 {
				fmt.Printf("no photos found for bib %s\n", args[0])
				return nil
			}

			for _, m := range matches {
				line := fmt.Sprintf("%s  %s", m.Photo.ID, m.Photo.URL)
				if m.Runner != nil {
					line += fmt.Sprintf("  (%s %s)", m.Runner.FirstName, m.Runner.LastName)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}
