package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/growlabs/bibscan-go/cmd/process"
	"github.com/growlabs/bibscan-go/cmd/runners"
	"github.com/growlabs/bibscan-go/cmd/search"
	"github.com/growlabs/bibscan-go/cmd/stats"
	"github.com/growlabs/bibscan-go/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bibscan",
		Short: "Race bib number detection and recognition",
	}

	// Set up the global flags for the root command.
	setupFlags(rootCmd, settings)

	subcommands := []*cobra.Command{
		process.Command(settings),
		search.Command(settings),
		stats.Command(settings),
		runners.Command(settings),
	}
	rootCmd.AddCommand(subcommands...)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().Float64VarP(&settings.Detector.ConfidenceThreshold, "threshold", "t",
		viper.GetFloat64("detector.confidencethreshold"), "Confidence threshold for detected regions, value between 0.0 and 1.0")
	rootCmd.PersistentFlags().StringVar(&settings.Recognizer.Engine, "engine",
		viper.GetString("recognizer.engine"), "Recognition engine: ocr or matching")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
