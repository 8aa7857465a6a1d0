// Package cmd implements the quarry command line interface.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "quarry",
	Short: "Quarry - conversational AI over Amazon Bedrock",
	Long: `Quarry is a terminal assistant for Amazon Bedrock models.

It streams chat with text models, generates images and video with the
Nova family, and can ground answers on a Bedrock knowledge base that
quarry provisions for you.

Running quarry without arguments starts the interactive chat.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, args)
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
