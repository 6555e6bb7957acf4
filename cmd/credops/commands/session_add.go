package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/credops/internal/config"
	crederrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/keystore"
	"github.com/systmms/credops/internal/session"
	"github.com/systmms/credops/internal/workspace"
)

// sessionTypeFlags maps the CLI spelling of a session type to its model
// value.
var sessionTypeFlags = map[string]session.Type{
	"aws-iam-user":           session.TypeAwsIamUser,
	"aws-iam-role-federated": session.TypeAwsIamRoleFederated,
	"aws-iam-role-chained":   session.TypeAwsIamRoleChained,
	"aws-sso-role":           session.TypeAwsSsoRole,
	"azure":                  session.TypeAzure,
}

func NewSessionAddCommand(cfg *config.Config) *cobra.Command {
	var (
		sessionType string
		name        string
		region      string
		profileName string

		accessKeyID     string
		secretAccessKey string
		mfaDevice       string

		roleArn  string
		idpArn   string
		idpURLID string

		parent          string
		roleSessionName string

		accountID string
		roleName  string
		portalURL string
		ssoRegion string

		subscriptionID string
		tenantID       string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a session to the workspace",
		Long: `Add a session to the workspace.

The session starts out inactive; use 'credops session start' to resolve
credentials. Long-lived secrets (IAM user key pairs) go straight into the
OS keyring and never touch the workspace document.

Without --type the command runs interactively, walking through the
available access methods and prompting for each field. SSO sessions given
a --portal-url but no --account-id/--role-name open the portal and let
you pick from the roles it lists.

Examples:
  # Static IAM user key pair
  credops session add --type aws-iam-user --name dev --region eu-west-1 \
    --access-key-id AKIA... --secret-access-key wJal...

  # Role assumed with another session's credentials
  credops session add --type aws-iam-role-chained --name admin --region eu-west-1 \
    --role-arn arn:aws:iam::111122223333:role/admin --parent dev

  # SSO role
  credops session add --type aws-sso-role --name sso-dev --region eu-west-1 \
    --account-id 111122223333 --role-name Developer \
    --portal-url https://acme.awsapps.com/start --sso-region eu-west-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionType == "" {
				if cfg.NonInteractive {
					return crederrors.UserError{
						Message:    "Session type is required",
						Suggestion: "Specify a type with --type, or run interactively to be guided",
					}
				}
				app, err := newApp(cmd.Context(), cfg, appOptions{})
				if err != nil {
					return err
				}
				return runAddWizard(cmd, cfg, app)
			}

			t, ok := sessionTypeFlags[sessionType]
			if !ok {
				return crederrors.UserError{
					Message:    fmt.Sprintf("Unknown session type '%s'", sessionType),
					Suggestion: "Valid types: aws-iam-user, aws-iam-role-federated, aws-iam-role-chained, aws-sso-role, azure",
				}
			}
			if name == "" {
				return crederrors.UserError{
					Message:    "Session name is required",
					Suggestion: "Specify a name with --name",
				}
			}

			app, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}

			profileID, err := resolveProfile(app.repo, profileName)
			if err != nil {
				return err
			}

			var s session.Session
			switch t {
			case session.TypeAwsIamUser:
				if accessKeyID == "" || secretAccessKey == "" {
					return crederrors.UserError{
						Message:    "IAM user sessions need a key pair",
						Suggestion: "Provide --access-key-id and --secret-access-key",
					}
				}
				s = session.NewIamUser(name, region, session.IamUserConfig{
					ProfileID: profileID,
					MfaDevice: mfaDevice,
				})
			case session.TypeAwsIamRoleFederated:
				s = session.NewFederated(name, region, session.FederatedConfig{
					RoleArn:   roleArn,
					IdpArn:    idpArn,
					IdpURLID:  idpURLID,
					ProfileID: profileID,
				})
			case session.TypeAwsIamRoleChained:
				parentID, err := resolveSessionArg(app.repo, parent)
				if err != nil {
					return err
				}
				s = session.NewChained(name, region, session.ChainedConfig{
					RoleArn:         roleArn,
					RoleSessionName: roleSessionName,
					ParentSessionID: parentID,
					ProfileID:       profileID,
				})
			case session.TypeAwsSsoRole:
				if ssoRegion == "" {
					ssoRegion = cfg.Settings.DefaultSSORegion
				}
				if accountID == "" || roleName == "" {
					if portalURL == "" {
						return crederrors.UserError{
							Message:    "SSO sessions need a portal to browse roles from",
							Suggestion: "Provide --portal-url, or both --account-id and --role-name",
						}
					}
					if cfg.NonInteractive {
						return crederrors.UserError{
							Message:    "Account and role are required when running non-interactively",
							Suggestion: "Provide --account-id and --role-name",
						}
					}
					accountID, roleName, err = pickSsoRole(cmd.Context(), app.portal, portalURL,
						cmd.InOrStdin(), cmd.OutOrStdout())
					if err != nil {
						return err
					}
				}
				s = session.NewSsoRole(name, region, session.SsoRoleConfig{
					AccountID: accountID,
					RoleName:  roleName,
					PortalURL: portalURL,
					SsoRegion: ssoRegion,
					ProfileID: profileID,
				})
			case session.TypeAzure:
				s = session.NewAzure(name, region, session.AzureConfig{
					SubscriptionID: subscriptionID,
					TenantID:       tenantID,
				})
			}

			if err := app.repo.AddSession(s); err != nil {
				return err
			}

			if t == session.TypeAwsIamUser {
				if err := storeKeyPair(app, s.ID, accessKeyID, secretAccessKey); err != nil {
					// Do not leave a session that can never start.
					if rmErr := app.repo.RemoveSession(s.ID); rmErr != nil {
						cfg.Logger.Error("could not roll back session '%s': %v", s.Name, rmErr)
					}
					return err
				}
			}

			cfg.Logger.Info("session '%s' added", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionType, "type", "", "Session type (required)")
	cmd.Flags().StringVar(&name, "name", "", "Session alias (required)")
	cmd.Flags().StringVar(&region, "region", "", "AWS region or Azure location")
	cmd.Flags().StringVar(&profileName, "profile", "", "Named profile (created if missing)")

	cmd.Flags().StringVar(&accessKeyID, "access-key-id", "", "IAM user access key id")
	cmd.Flags().StringVar(&secretAccessKey, "secret-access-key", "", "IAM user secret access key")
	cmd.Flags().StringVar(&mfaDevice, "mfa-device", "", "MFA device ARN (optional)")

	cmd.Flags().StringVar(&roleArn, "role-arn", "", "Role ARN for role sessions")
	cmd.Flags().StringVar(&idpArn, "idp-arn", "", "Identity provider ARN (federated)")
	cmd.Flags().StringVar(&idpURLID, "idp-url-id", "", "Identity provider URL id (federated)")

	cmd.Flags().StringVar(&parent, "parent", "", "Parent session name or id (chained)")
	cmd.Flags().StringVar(&roleSessionName, "role-session-name", "", "Assumed role session name (chained)")

	cmd.Flags().StringVar(&accountID, "account-id", "", "AWS account id (SSO)")
	cmd.Flags().StringVar(&roleName, "role-name", "", "Role name (SSO)")
	cmd.Flags().StringVar(&portalURL, "portal-url", "", "SSO portal start URL")
	cmd.Flags().StringVar(&ssoRegion, "sso-region", "", "Region the SSO portal lives in")

	cmd.Flags().StringVar(&subscriptionID, "subscription-id", "", "Azure subscription id")
	cmd.Flags().StringVar(&tenantID, "tenant-id", "", "Azure tenant id")

	return cmd
}

// resolveProfile returns the id for a profile name, creating the profile
// when it does not exist yet. An empty name means the default profile.
func resolveProfile(repo *workspace.Repository, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	ws, err := repo.Load()
	if err != nil {
		return "", err
	}
	for _, p := range ws.Profiles {
		if p.Name == name {
			return p.ID, nil
		}
	}
	p, err := repo.AddProfile(name)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

func storeKeyPair(app *app, sessionID, accessKeyID, secretAccessKey string) error {
	secrets := app.factory.Secrets()
	if err := secrets.Set(keystore.Key(sessionID, keystore.RoleAccessKeyID), accessKeyID); err != nil {
		return err
	}
	return secrets.Set(keystore.Key(sessionID, keystore.RoleSecretAccessKey), secretAccessKey)
}
