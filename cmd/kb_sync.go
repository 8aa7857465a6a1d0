package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarry-ai/quarry/internal/kb"
)

var kbSyncDataDir string

var kbSyncCmd = &cobra.Command{
	Use:   "sync [name]",
	Short: "Upload documents and re-run ingestion",
	Long: `Sync uploads the data directory to the knowledge base bucket and
starts an ingestion job, waiting for it to complete. Use it after
adding or changing documents.`,
	Args: cobra.ExactArgs(1),
	RunE: runKBSync,
}

func init() {
	kbSyncCmd.Flags().StringVar(&kbSyncDataDir, "data-dir", "", "directory of documents to upload (default from config)")
	kbCmd.AddCommand(kbSyncCmd)
}

func runKBSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	runtime, prov, stateDir, err := kbRuntime(ctx)
	if err != nil {
		return err
	}

	info, err := kb.LoadInfo(stateDir, args[0])
	if err != nil {
		return err
	}

	dataDir := kbSyncDataDir
	if dataDir == "" {
		dataDir = runtime.Config.KB.DataDir
	}

	if err := prov.Sync(ctx, info, dataDir); err != nil {
		return fmt.Errorf("sync knowledge base: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Knowledge base %q is up to date.\n", args[0])
	return nil
}
