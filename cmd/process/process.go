// Package process implements the command that runs the detection pipeline
// on local image files.
package process

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/growlabs/bibscan-go/internal/conf"
	"github.com/growlabs/bibscan-go/internal/pipeline"
)

// Command creates the process command for running the pipeline on image files.
func Command(settings *conf.Settings) *cobra.Command {
	var raceID, uploaderID string

	cmd := &cobra.Command{
		Use:   "process [image...]",
		Short: "Detect and recognize bib numbers in photos",
		Long:  `Register local image files as photos and run the full detection pipeline on each.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			processor, err := pipeline.NewFromSettings(settings)
			if err != nil {
				return err
			}
			defer func() { _ = processor.Store.Close() }()

			for _, path := range args {
				photo, err := processor.CreatePhoto(path, pipeline.CreatePhotoOptions{
					RaceID:     raceID,
					UploaderID: uploaderID,
				})
				if err != nil {
					return err
				}

				if err := processor.ProcessPhoto(cmd.Context(), photo.ID); err != nil {
					fmt.Printf("%s: processing failed: %v\n", path, err)
					continue
				}

				detections, err := processor.Store.DetectionsByPhoto(photo.ID)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %d bib(s) found\n", path, len(detections))
				for _, d := range detections {
					fmt.Printf("  bib %s  confidence %.2f  method %s\n",
						d.BibNumber, d.Confidence, d.Method)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&raceID, "race", "", "Race ID to associate photos with")
	cmd.Flags().StringVar(&uploaderID, "uploader", "", "Uploader user ID")

	return cmd
}
