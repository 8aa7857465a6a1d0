package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarry-ai/quarry/internal/config"
)

// Version information, injected at build time via ldflags.
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and configuration",
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Quarry %s\n", AppVersion)
	fmt.Fprintf(out, "Build Time: %s\n", BuildTime)
	fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)

	cfg, err := config.Load()
	if err != nil {
		// Version output stays useful on a broken config.
		fmt.Fprintf(out, "\nConfiguration error: %v\n", err)
		return nil
	}

	modelID, err := cfg.ModelID()
	if err != nil {
		modelID = fmt.Sprintf("(%v)", err)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Region:      %s\n", cfg.Region)
	fmt.Fprintf(out, "  Model:       %s (%s)\n", cfg.Model, modelID)
	fmt.Fprintf(out, "  Temperature: %.2f\n", cfg.Temperature)
	return nil
}
