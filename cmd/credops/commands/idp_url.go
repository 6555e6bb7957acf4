package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/credops/internal/config"
	crederrors "github.com/systmms/credops/internal/errors"
)

// NewIdpURLCommand creates the parent 'idp-url' command.
func NewIdpURLCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "idp-url",
		Short: "Manage identity provider URLs for federated sessions",
	}

	cmd.AddCommand(
		newIdpURLAddCommand(cfg),
		newIdpURLListCommand(cfg),
		newIdpURLRemoveCommand(cfg),
	)

	return cmd
}

func newIdpURLAddCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "add <url>",
		Short: "Register an identity provider URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(cfg)
			if err != nil {
				return err
			}
			idp, err := repo.AddIdpURL(args[0])
			if err != nil {
				return err
			}
			cfg.Logger.Info("identity provider URL registered with id %s", idp.ID)
			return nil
		},
	}
}

func newIdpURLListCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List identity provider URLs",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(cfg)
			if err != nil {
				return err
			}
			ws, err := repo.Load()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "ID\tURL\n")
			_, _ = fmt.Fprintf(w, "--\t---\n")
			for _, u := range ws.IdpURLs {
				_, _ = fmt.Fprintf(w, "%s\t%s\n", u.ID, u.URL)
			}
			return w.Flush()
		},
	}
}

func newIdpURLRemoveCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id-or-url>",
		Short: "Remove an unreferenced identity provider URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(cfg)
			if err != nil {
				return err
			}
			ws, err := repo.Load()
			if err != nil {
				return err
			}
			for _, u := range ws.IdpURLs {
				if u.ID == args[0] || u.URL == args[0] {
					if err := repo.RemoveIdpURL(u.ID); err != nil {
						return err
					}
					cfg.Logger.Info("identity provider URL removed")
					return nil
				}
			}
			return crederrors.UserError{
				Message:    fmt.Sprintf("No identity provider URL matching '%s'", args[0]),
				Suggestion: "Run 'credops idp-url list' to see registered URLs",
			}
		},
	}
}
