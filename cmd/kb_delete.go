package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarry-ai/quarry/internal/kb"
)

var (
	kbDeleteForce      bool
	kbDeleteKeepBucket bool
)

var kbDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Tear down a knowledge base and its resources",
	Long: `Delete removes everything a create run provisioned, in reverse
order: data source, knowledge base, vector index, collection, security
policies, execution role and the data bucket. Resources that are
already gone are skipped, so deleting a partially created knowledge
base works.

With --force, individual failures are collected instead of aborting
the teardown.`,
	Args: cobra.ExactArgs(1),
	RunE: runKBDelete,
}

func init() {
	kbDeleteCmd.Flags().BoolVar(&kbDeleteForce, "force", false, "continue past individual deletion failures")
	kbDeleteCmd.Flags().BoolVar(&kbDeleteKeepBucket, "keep-bucket", false, "leave the data bucket and its documents in place")
	kbCmd.AddCommand(kbDeleteCmd)
}

func runKBDelete(cmd *cobra.Command, args []string) error {
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

	err = prov.Teardown(ctx, info, kb.TeardownOptions{
		Force:      kbDeleteForce,
		KeepBucket: kbDeleteKeepBucket,
	})
	if err != nil {
		return fmt.Errorf("tear down knowledge base: %w", err)
	}

	if err := kb.RemoveInfo(stateDir, args[0]); err != nil {
		return fmt.Errorf("remove state: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Knowledge base %q deleted.\n", args[0])
	return nil
}
