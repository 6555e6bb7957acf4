package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/systmms/credops/cmd/credops/commands"
	"github.com/systmms/credops/internal/config"
	"github.com/systmms/credops/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile     string
		noColor        bool
		debug          bool
		nonInteractive bool
	)

	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "credops",
		Short: "Local cloud credential broker - manage sessions and rotation",
		Long: `credops keeps long-lived cloud secrets in the OS keyring and materializes
short-lived credentials into the files your cloud tooling already reads.

Define sessions once, start and stop them on demand, and let the daemon
rotate expiring credentials before consumers notice.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(debug, noColor)

			if configFile == "" {
				path, err := config.DefaultPath()
				if err != nil {
					return err
				}
				configFile = path
			}
			cfg.Path = configFile
			cfg.Logger = logger
			cfg.NonInteractive = nonInteractive
			return cfg.Load()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default ~/.credops/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&nonInteractive, "non-interactive", false, "Fail instead of prompting")

	rootCmd.AddCommand(
		commands.NewSessionCommand(cfg),
		commands.NewProfileCommand(cfg),
		commands.NewIdpURLCommand(cfg),
		commands.NewDaemonCommand(cfg),
		commands.NewCompletionCommand(cfg),
	)

	return rootCmd.Execute()
}
