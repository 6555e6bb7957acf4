package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/credops/internal/config"
	crederrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/workspace"
)

// NewProfileCommand creates the parent 'profile' command.
func NewProfileCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage named credential-file profiles",
		Long: `Manage the named profiles sessions materialize under.

Every AWS session writes its credential block under a named profile;
sessions without an explicit profile share the 'default' one.`,
	}

	cmd.AddCommand(
		newProfileAddCommand(cfg),
		newProfileListCommand(cfg),
		newProfileRemoveCommand(cfg),
	)

	return cmd
}

func openRepository(cfg *config.Config) (*workspace.Repository, error) {
	workspacePath := cfg.Settings.WorkspacePath
	if workspacePath == "" {
		path, err := workspace.DefaultPath()
		if err != nil {
			return nil, err
		}
		workspacePath = path
	}
	return workspace.NewRepository(workspacePath, cfg.Logger), nil
}

func newProfileAddCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>",
		Short: "Add a named profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(cfg)
			if err != nil {
				return err
			}
			if _, err := repo.AddProfile(args[0]); err != nil {
				return err
			}
			cfg.Logger.Info("profile '%s' added", args[0])
			return nil
		},
	}
}

func newProfileListCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List named profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(cfg)
			if err != nil {
				return err
			}
			ws, err := repo.Load()
			if err != nil {
				return err
			}

			inUse := make(map[string]int)
			for _, s := range ws.Sessions {
				if id := s.ProfileID(); id != "" {
					inUse[id]++
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "NAME\tSESSIONS\n")
			_, _ = fmt.Fprintf(w, "----\t--------\n")
			for _, p := range ws.Profiles {
				_, _ = fmt.Fprintf(w, "%s\t%d\n", p.Name, inUse[p.ID])
			}
			return w.Flush()
		},
	}
}

func newProfileRemoveCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an unreferenced named profile",
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
			for _, p := range ws.Profiles {
				if p.Name == args[0] {
					if err := repo.RemoveProfile(p.ID); err != nil {
						return err
					}
					cfg.Logger.Info("profile '%s' removed", args[0])
					return nil
				}
			}
			return crederrors.UserError{
				Message:    fmt.Sprintf("No profile named '%s'", args[0]),
				Suggestion: "Run 'credops profile list' to see configured profiles",
			}
		},
	}
}
