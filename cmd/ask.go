package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/quarry-ai/quarry/internal/app"
	"github.com/quarry-ai/quarry/internal/bedrock"
	"github.com/quarry-ai/quarry/internal/config"
	"github.com/quarry-ai/quarry/internal/retrieval"
)

var (
	askKB       string
	askNoStream bool
	askSources  bool
	askAttach   []string
)

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Ask a single question and print the answer",
	Long: `Ask sends one prompt to the configured model and prints the result.

Text models answer directly; with --kb the answer is grounded on a
knowledge base. Image models write a PNG and print its path. Video
models start an async job, wait for it, and print the S3 location.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askKB, "kb", "", "knowledge base name or ID to ground the answer on")
	askCmd.Flags().BoolVar(&askNoStream, "no-stream", false, "wait for the complete answer instead of streaming")
	askCmd.Flags().BoolVar(&askSources, "sources", false, "print the retrieved passages after the answer")
	askCmd.Flags().StringArrayVar(&askAttach, "attach", nil, "file to attach to the prompt (repeatable)")
	rootCmd.AddCommand(askCmd)
}

// loadAttachments reads attachment files into memory.
func loadAttachments(paths []string) ([]bedrock.Attachment, error) {
	var attachments []bedrock.Attachment
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read attachment: %w", err)
		}
		attachments = append(attachments, bedrock.Attachment{
			Name: filepath.Base(path),
			Data: data,
		})
	}
	return attachments, nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	runtime, err := app.NewRuntime(ctx)
	if err != nil {
		return err
	}

	session, err := runtime.NewSession(ctx, askKB)
	if err != nil {
		return err
	}

	prompt := strings.Join(args, " ")
	out := cmd.OutOrStdout()

	switch session.Family() {
	case config.FamilyImage:
		data, err := session.GenerateImage(ctx, prompt)
		if err != nil {
			return err
		}
		imageDir, err := runtime.ImageDir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(imageDir, 0o750); err != nil {
			return fmt.Errorf("create image directory: %w", err)
		}
		path := filepath.Join(imageDir, uuid.NewString()+".png")
		if err := os.WriteFile(path, data, 0o640); err != nil {
			return fmt.Errorf("save image: %w", err)
		}
		fmt.Fprintln(out, path)
		return nil

	case config.FamilyVideo:
		location, err := session.GenerateVideo(ctx, prompt, nil, func(status string) {
			fmt.Fprintln(cmd.ErrOrStderr(), status)
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(out, location)
		return nil
	}

	attachments, err := loadAttachments(askAttach)
	if err != nil {
		return err
	}

	var onText bedrock.StreamFunc
	if runtime.Config.Streaming && !askNoStream {
		onText = func(text string) error {
			_, err := fmt.Fprint(out, text)
			return err
		}
	}

	turn, err := session.Ask(ctx, prompt, attachments, onText)
	if err != nil {
		return err
	}
	if onText == nil {
		fmt.Fprintln(out, turn.Response)
	} else {
		fmt.Fprintln(out)
	}

	if askSources && len(turn.Documents) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Sources:")
		fmt.Fprintln(out, retrieval.FormatReferences(turn.Documents))
	}
	return nil
}
