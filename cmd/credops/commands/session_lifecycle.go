package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/credops/internal/config"
	crederrors "github.com/systmms/credops/internal/errors"
)

func NewSessionStartCommand(cfg *config.Config) *cobra.Command {
	var samlAssertionPath string

	cmd := &cobra.Command{
		Use:   "start <session>",
		Short: "Resolve credentials and materialize them",
		Long: `Resolve a session's credentials and write them to the credential file.

Starting an active session is a no-op. Starting a chained session starts
its parent chain first. Interactive flows (MFA codes, SSO device
approval, Azure device login) prompt on the terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), cfg, appOptions{samlAssertionPath: samlAssertionPath})
			if err != nil {
				return err
			}
			id, err := resolveSessionArg(app.repo, args[0])
			if err != nil {
				return err
			}
			svc, _, err := app.factory.ServiceForSession(id)
			if err != nil {
				return err
			}
			return svc.Start(cmd.Context(), id)
		},
	}

	cmd.Flags().StringVar(&samlAssertionPath, "saml-assertion", "", "File holding a base64 SAML assertion (federated sessions)")

	return cmd
}

func NewSessionStopCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <session>",
		Short: "Remove a session's credentials from the credential file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			id, err := resolveSessionArg(app.repo, args[0])
			if err != nil {
				return err
			}
			svc, _, err := app.factory.ServiceForSession(id)
			if err != nil {
				return err
			}
			return svc.Stop(cmd.Context(), id)
		},
	}
}

func NewSessionRotateCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate <session>",
		Short: "Re-resolve an active session's credentials in place",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			id, err := resolveSessionArg(app.repo, args[0])
			if err != nil {
				return err
			}
			svc, _, err := app.factory.ServiceForSession(id)
			if err != nil {
				return err
			}
			return svc.Rotate(cmd.Context(), id)
		},
		Args: cobra.ExactArgs(1),
	}
}

func NewSessionDeleteCommand(cfg *config.Config) *cobra.Command {
	var cascade bool

	cmd := &cobra.Command{
		Use:   "delete <session>",
		Short: "Delete a session, its secrets and its credentials",
		Long: `Delete a session from the workspace.

An active session is stopped first and its secrets are removed from the
OS keyring. Deleting a session that other chained sessions depend on is
refused unless --cascade confirms deleting the dependents too.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			id, err := resolveSessionArg(app.repo, args[0])
			if err != nil {
				return err
			}
			svc, _, err := app.factory.ServiceForSession(id)
			if err != nil {
				return err
			}

			err = svc.Delete(cmd.Context(), id, cascade)
			var dependent crederrors.DependentSessionsError
			if errors.As(err, &dependent) {
				return crederrors.UserError{
					Message:    fmt.Sprintf("Session '%s' has %d dependent chained session(s)", args[0], len(dependent.DependentIDs)),
					Suggestion: "Re-run with --cascade to delete the dependents as well",
					Err:        err,
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&cascade, "cascade", false, "Also delete chained sessions depending on this one")

	return cmd
}
