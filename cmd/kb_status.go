package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quarry-ai/quarry/internal/kb"
)

var kbStatusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Show a knowledge base and its recent ingestion jobs",
	Args:  cobra.ExactArgs(1),
	RunE:  runKBStatus,
}

func init() {
	kbCmd.AddCommand(kbStatusCmd)
}

func runKBStatus(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	_, prov, stateDir, err := kbRuntime(ctx)
	if err != nil {
		return err
	}

	info, err := kb.LoadInfo(stateDir, args[0])
	if err != nil {
		return err
	}

	status, err := prov.Status(ctx, info)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Knowledge base: %s (ID %s)\n", info.Name, info.KnowledgeBaseID)
	fmt.Fprintf(out, "Status:         %s\n", status.KnowledgeBaseStatus)
	fmt.Fprintf(out, "Bucket:         %s\n", info.BucketName)
	fmt.Fprintf(out, "Collection:     %s\n", info.VectorStoreName)

	if len(status.Ingestions) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSTATUS\tSTARTED")
	for _, job := range status.Ingestions {
		fmt.Fprintf(w, "%s\t%s\t%s\n", job.ID, job.Status, job.Started.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
