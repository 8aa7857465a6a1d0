package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quarry-ai/quarry/internal/config"
	"github.com/quarry-ai/quarry/internal/kb"
)

var (
	kbCreateDataDir    string
	kbCreateBucket     string
	kbCreateChunking   string
	kbCreateSkipUpload bool
)

var kbCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Provision a knowledge base",
	Long: `Create provisions a complete knowledge base: the S3 data bucket,
the Bedrock execution role, an OpenSearch Serverless collection with
its security policies and vector index, the knowledge base and its
data source. Documents from --data-dir are uploaded and ingested
unless --skip-upload is set.

Provisioning takes several minutes; most of the time is spent waiting
for the collection to become active.`,
	Args: cobra.ExactArgs(1),
	RunE: runKBCreate,
}

func init() {
	kbCreateCmd.Flags().StringVar(&kbCreateDataDir, "data-dir", "", "directory of documents to upload (default from config)")
	kbCreateCmd.Flags().StringVar(&kbCreateBucket, "bucket", "", "data bucket name (default quarry-kb-<region>-<account>)")
	kbCreateCmd.Flags().StringVar(&kbCreateChunking, "chunking", "",
		fmt.Sprintf("chunking strategy: %s", strings.Join(config.ChunkingStrategies, ", ")))
	kbCreateCmd.Flags().BoolVar(&kbCreateSkipUpload, "skip-upload", false, "provision infrastructure only, skip upload and ingestion")
	kbCmd.AddCommand(kbCreateCmd)
}

func runKBCreate(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	runtime, prov, stateDir, err := kbRuntime(ctx)
	if err != nil {
		return err
	}

	dataDir := kbCreateDataDir
	if dataDir == "" {
		dataDir = runtime.Config.KB.DataDir
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Provisioning knowledge base %q (this takes a few minutes)...\n", args[0])

	info, err := prov.Create(ctx, kb.CreateParams{
		Name:       args[0],
		BucketName: kbCreateBucket,
		DataDir:    dataDir,
		Chunking:   kbCreateChunking,
		SkipUpload: kbCreateSkipUpload,
	})
	// Save whatever was provisioned, even on failure, so a partial
	// run can be torn down with `quarry kb delete --force`.
	if info != nil {
		if saveErr := kb.SaveInfo(stateDir, info); saveErr != nil {
			return fmt.Errorf("save state: %w", saveErr)
		}
	}
	if err != nil {
		return fmt.Errorf("provision knowledge base: %w", err)
	}

	fmt.Fprintf(out, "Knowledge base %q is ready (ID %s).\n", info.Name, info.KnowledgeBaseID)
	fmt.Fprintf(out, "Chat with it: quarry --kb %s\n", info.Name)
	return nil
}
