package commands

import (
	"github.com/spf13/cobra"
	"github.com/systmms/credops/internal/config"
)

// NewSessionCommand creates the parent 'session' command.
func NewSessionCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage cloud credential sessions",
		Long: `Manage the lifecycle of cloud credential sessions.

A session describes one way of obtaining cloud credentials (an IAM user
key pair, a federated or chained role, an SSO role, an Azure tenant).
Starting a session resolves credentials and writes them to the credential
file; stopping it removes them again.

Examples:
  credops session add --type aws-iam-user --name dev --region eu-west-1 --access-key-id AKIA... --secret-access-key ...
  credops session start dev
  credops session list
  credops session stop dev
  credops session delete dev --cascade`,
	}

	cmd.AddCommand(
		NewSessionAddCommand(cfg),
		NewSessionListCommand(cfg),
		NewSessionStartCommand(cfg),
		NewSessionStopCommand(cfg),
		NewSessionRotateCommand(cfg),
		NewSessionDeleteCommand(cfg),
		NewSessionPinCommand(cfg),
		NewSessionUnpinCommand(cfg),
	)

	return cmd
}
