// Package stats implements the command that prints detection statistics.
package stats

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/growlabs/bibscan-go/internal/conf"
	"github.com/growlabs/bibscan-go/internal/pipeline"
)

// Command creates the stats command for printing detection statistics.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show detection statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			processor, err := pipeline.NewFromSettings(settings)
			if err != nil {
				return err
			}
			defer func() { _ = processor.Store.Close() }()

			stats, err := processor.Statistics()
			if err != nil {
				return err
			}

			fmt.Printf("total detections: %d\n", stats.TotalDetections)
			for _, bib := range stats.ByBibNumber {
				fmt.Printf("  bib %-6s  count %-4d  avg confidence %.2f\n",
					bib.BibNumber, bib.Count, bib.AvgConfidence)
			}
			return nil
		},
	}
}
