package cmd

import (
	"fmt"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"

	"github.com/quarry-ai/quarry/internal/app"
	"github.com/quarry-ai/quarry/internal/tui"
)

var chatKB string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive chat interface",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatKB, "kb", "", "knowledge base name or ID to ground answers on")
	rootCmd.AddCommand(chatCmd)

	// The root command runs chat directly, so it carries the same flag.
	rootCmd.Flags().StringVar(&chatKB, "kb", "", "knowledge base name or ID to ground answers on")
}

func runChat(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	runtime, err := app.NewRuntime(ctx)
	if err != nil {
		return err
	}

	session, err := runtime.NewSession(ctx, chatKB)
	if err != nil {
		return err
	}

	imageDir, err := runtime.ImageDir()
	if err != nil {
		return err
	}

	ui, err := tui.New(ctx, session, imageDir)
	if err != nil {
		return err
	}
	ui.SetStartMessage(runtime.Config.StartMessage)

	program := tea.NewProgram(ui,
		tea.WithContext(ctx),
	)
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run chat interface: %w", err)
	}
	return nil
}
