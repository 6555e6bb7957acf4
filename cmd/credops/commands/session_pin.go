package commands

import (
	"github.com/spf13/cobra"

	"github.com/systmms/credops/internal/config"
)

func NewSessionPinCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "pin <session>",
		Short: "Pin a session to the top of listings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(cfg)
			if err != nil {
				return err
			}
			id, err := resolveSessionArg(repo, args[0])
			if err != nil {
				return err
			}
			return repo.PinSession(id)
		},
	}
}

func NewSessionUnpinCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "unpin <session>",
		Short: "Clear a session's pinned mark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(cfg)
			if err != nil {
				return err
			}
			id, err := resolveSessionArg(repo, args[0])
			if err != nil {
				return err
			}
			return repo.UnpinSession(id)
		},
	}
}
