// Package runners implements the command that lists runners of a race.
package runners

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/growlabs/bibscan-go/internal/conf"
	"github.com/growlabs/bibscan-go/internal/pipeline"
)

// Command creates the runners command for listing runners of a race.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "runners [race id]",
		Short: "List registered runners of a race",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			processor, err := pipeline.NewFromSettings(settings)
			if err != nil {
				return err
			}
			defer func() { _ = processor.Store.Close() }()

			list, err := processor.Store.RunnersByRace(args[0])
			if err != nil {
				return err
			}

			if len(list) == 0 {
				fmt.Printf("no runners registered for race %s\n", args[0])
				return nil
			}
			for _, r := range list {
				fmt.Printf("bib %-6s  %s %s\n", r.BibNumber, r.FirstName, r.LastName)
			}
			return nil
		},
	}
}
