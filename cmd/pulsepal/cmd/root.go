package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pulsepal/pulsepal/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "pulsepal",
	Short: "PulsePal realtime client",
	Long: `PulsePal is the terminal client for the PulsePal platform.

Available commands:
  login      Store the API bearer token
  logout     Forget the stored bearer token
  chat       Join a chat room and talk
  monitor    Stream live blood-pressure readings
  devserver  Run a local stub backend for development

Use "pulsepal [command] --help" for more information about a specific command.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.New()
	},
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
