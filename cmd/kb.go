package cmd

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quarry-ai/quarry/internal/app"
	"github.com/quarry-ai/quarry/internal/kb"
	"github.com/quarry-ai/quarry/internal/retrieval"
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage knowledge bases",
	Long: `Manage Bedrock knowledge bases backed by OpenSearch Serverless.

Created resources (bucket, IAM role, collection, index, knowledge
base) are tracked in a local state file so they can be synced and
torn down later.`,
}

var kbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List knowledge bases",
	RunE:  runKBList,
}

func init() {
	kbCmd.AddCommand(kbListCmd)
	rootCmd.AddCommand(kbCmd)
}

// kbRuntime builds the runtime plus a provisioner and the state
// directory, the common setup of every kb subcommand.
func kbRuntime(ctx context.Context) (*app.Runtime, *kb.Provisioner, string, error) {
	runtime, err := app.NewRuntime(ctx)
	if err != nil {
		return nil, nil, "", err
	}
	prov, err := runtime.Clients.Provisioner(runtime.Config.KB, runtime.Config.Region, runtime.Logger)
	if err != nil {
		return nil, nil, "", err
	}
	stateDir, err := runtime.StateDir()
	if err != nil {
		return nil, nil, "", err
	}
	return runtime, prov, stateDir, nil
}

func runKBList(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	runtime, err := app.NewRuntime(ctx)
	if err != nil {
		return err
	}
	remote, err := retrieval.ListKnowledgeBases(ctx, runtime.Clients.Agent)
	if err != nil {
		return err
	}
	stateDir, err := runtime.StateDir()
	if err != nil {
		return err
	}
	local, err := kb.ListInfo(stateDir)
	if err != nil {
		return err
	}
	managed := make(map[string]bool, len(local))
	for _, name := range local {
		managed[name] = true
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tMANAGED")
	for _, name := range sortedKeys(remote) {
		fmt.Fprintf(w, "%s\t%s\t%v\n", name, remote[name], managed[name])
	}
	return w.Flush()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
