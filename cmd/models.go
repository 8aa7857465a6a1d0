package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quarry-ai/quarry/internal/config"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the supported foundation models",
	RunE:  runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMODEL ID\tFAMILY")
	for _, name := range cfg.ModelNames() {
		id := cfg.Catalog()[name]
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, id, config.DetectFamily(id))
	}
	return w.Flush()
}
