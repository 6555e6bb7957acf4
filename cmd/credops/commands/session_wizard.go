package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/systmms/credops/internal/config"
	crederrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/session"
	"github.com/systmms/credops/internal/ssoflow"
)

// runAddWizard creates a session interactively. The questions come from the
// access-method catalog, so the choice lists (named profiles, identity
// provider URLs, assumable sessions) always reflect the current workspace.
func runAddWizard(cmd *cobra.Command, cfg *config.Config, app *app) error {
	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	provider, err := promptChoice(in, out, "Select cloud provider", []session.FieldChoice{
		{Label: "AWS", Value: string(session.CloudProviderAWS)},
		{Label: "Azure", Value: string(session.CloudProviderAzure)},
	})
	if err != nil {
		return err
	}

	ws, err := app.repo.Load()
	if err != nil {
		return err
	}

	var creatable []session.AccessMethod
	var methodChoices []session.FieldChoice
	for _, m := range session.AccessMethods(session.CloudProvider(provider), ws) {
		if !m.Creatable {
			continue
		}
		creatable = append(creatable, m)
		methodChoices = append(methodChoices, session.FieldChoice{Label: m.Label, Value: string(m.SessionType)})
	}
	if len(creatable) == 0 {
		return crederrors.UserError{
			Message:    fmt.Sprintf("No access method available for provider '%s'", provider),
			Suggestion: "Valid providers: aws, azure",
		}
	}

	picked, err := promptChoice(in, out, "Select access method", methodChoices)
	if err != nil {
		return err
	}
	var method session.AccessMethod
	for _, m := range creatable {
		if string(m.SessionType) == picked {
			method = m
		}
	}
	if method.SessionType == "" {
		return crederrors.UserError{
			Message:    fmt.Sprintf("Unknown access method '%s'", picked),
			Suggestion: "Pick one of the listed methods by number",
		}
	}

	values := make(map[string]string, len(method.Fields))
	for _, field := range method.Fields {
		var v string
		switch field.Kind {
		case session.FieldKindList:
			v, err = promptChoice(in, out, field.Prompt, field.Choices)
			if err != nil {
				return err
			}
			if v == session.CreateNewIdpURLChoice {
				url, promptErr := promptLine(in, out, "Insert the new SAML 2.0 Url")
				if promptErr != nil {
					return promptErr
				}
				idp, addErr := app.repo.AddIdpURL(url)
				if addErr != nil {
					return addErr
				}
				v = idp.ID
			}
		default:
			v, err = promptLine(in, out, field.Prompt)
			if err != nil {
				return err
			}
		}
		values[field.Name] = v
	}

	return createFromWizard(cfg, app, method.SessionType, values)
}

// createFromWizard turns the collected field values into a session record,
// filing IAM user key material in the keystore the same way the flag-driven
// path does.
func createFromWizard(cfg *config.Config, app *app, t session.Type, values map[string]string) error {
	name := values["sessionName"]
	if name == "" {
		return crederrors.UserError{
			Message:    "Session name is required",
			Suggestion: "Enter a non-empty session alias",
		}
	}
	region := values["region"]

	var s session.Session
	switch t {
	case session.TypeAwsIamUser:
		if values["accessKey"] == "" || values["secretKey"] == "" {
			return crederrors.UserError{
				Message:    "IAM user sessions need a key pair",
				Suggestion: "Enter both the Access Key ID and the Secret Access Key",
			}
		}
		s = session.NewIamUser(name, region, session.IamUserConfig{
			ProfileID: values["profileId"],
			MfaDevice: values["mfaDevice"],
		})
	case session.TypeAwsIamRoleFederated:
		s = session.NewFederated(name, region, session.FederatedConfig{
			RoleArn:   values["roleArn"],
			IdpArn:    values["idpArn"],
			IdpURLID:  values["idpUrl"],
			ProfileID: values["profileId"],
		})
	case session.TypeAwsIamRoleChained:
		s = session.NewChained(name, region, session.ChainedConfig{
			RoleArn:         values["roleArn"],
			RoleSessionName: values["roleSessionName"],
			ParentSessionID: values["parentSessionId"],
			ProfileID:       values["profileId"],
		})
	case session.TypeAzure:
		s = session.NewAzure(name, region, session.AzureConfig{
			SubscriptionID: values["subscriptionId"],
			TenantID:       values["tenantId"],
		})
	default:
		return crederrors.UnsupportedSessionTypeError{Type: string(t)}
	}

	if err := app.repo.AddSession(s); err != nil {
		return err
	}

	if t == session.TypeAwsIamUser {
		if err := storeKeyPair(app, s.ID, values["accessKey"], values["secretKey"]); err != nil {
			if rmErr := app.repo.RemoveSession(s.ID); rmErr != nil {
				cfg.Logger.Error("could not roll back session '%s': %v", s.Name, rmErr)
			}
			return err
		}
	}

	cfg.Logger.Info("session '%s' added", name)
	return nil
}

// ssoDirectory is the portal surface the role picker needs. *ssoflow.Client
// satisfies it.
type ssoDirectory interface {
	Login(ctx context.Context, portalURL string) (ssoflow.Token, error)
	ListAccountsAndRoles(ctx context.Context, token ssoflow.Token) ([]ssoflow.AccountRole, error)
}

// pickSsoRole authenticates against the portal, lists every visible account
// and role, and lets the user pick one by number.
func pickSsoRole(ctx context.Context, portal ssoDirectory, portalURL string, in io.Reader, out io.Writer) (string, string, error) {
	token, err := portal.Login(ctx, portalURL)
	if err != nil {
		return "", "", err
	}

	roles, err := portal.ListAccountsAndRoles(ctx, token)
	if err != nil {
		return "", "", err
	}
	if len(roles) == 0 {
		return "", "", crederrors.UserError{
			Message:    "The portal lists no roles for this user",
			Suggestion: "Check the role assignments in IAM Identity Center",
		}
	}

	choices := make([]session.FieldChoice, 0, len(roles))
	for _, r := range roles {
		choices = append(choices, session.FieldChoice{
			Label: fmt.Sprintf("%s (%s) / %s", r.AccountName, r.AccountID, r.RoleName),
			Value: r.AccountID + "/" + r.RoleName,
		})
	}

	picked, err := promptChoice(bufio.NewReader(in), out, "Select a role", choices)
	if err != nil {
		return "", "", err
	}
	accountID, roleName, ok := strings.Cut(picked, "/")
	if !ok {
		return "", "", crederrors.UserError{
			Message:    fmt.Sprintf("'%s' is not one of the listed roles", picked),
			Suggestion: "Pick a role by its number",
		}
	}
	return accountID, roleName, nil
}

// promptLine asks for free-form input and returns the trimmed line.
func promptLine(in *bufio.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprintf(out, "%s: ", prompt)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// promptChoice renders numbered choices and reads a selection. A number
// picks the corresponding choice; anything else is taken literally, so a
// value outside the list (a region not shown, an id pasted in) still works.
// An empty line skips the field.
func promptChoice(in *bufio.Reader, out io.Writer, prompt string, choices []session.FieldChoice) (string, error) {
	fmt.Fprintln(out, prompt)
	for i, c := range choices {
		fmt.Fprintf(out, "  %d) %s\n", i+1, c.Label)
	}
	fmt.Fprint(out, "> ")

	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	answer := strings.TrimSpace(line)
	if answer == "" {
		return "", nil
	}
	if n, convErr := strconv.Atoi(answer); convErr == nil && n >= 1 && n <= len(choices) {
		return choices[n-1].Value, nil
	}
	return answer, nil
}
