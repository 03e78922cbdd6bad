// Package cmd implements the quill command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "quill",
	Short: "Quill - streaming session orchestrator for agent-backed chat",
	Long: `Quill drives an external agent server: it spawns local instances,
runs chat sessions against them and streams the assembled answer to
connected clients as ordered chunk updates.

Run "quill serve" to start the HTTP API server.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
