package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/systmms/credops/internal/config"
	"github.com/systmms/credops/internal/credfile"
	crederrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/keystore"
	"github.com/systmms/credops/internal/service"
	"github.com/systmms/credops/internal/ssoflow"
	"github.com/systmms/credops/internal/workspace"
)

// app bundles the wired collaborators behind every command.
type app struct {
	cfg     *config.Config
	repo    *workspace.Repository
	factory *service.Factory
	portal  *ssoflow.Client
}

// appOptions carries per-invocation wiring choices.
type appOptions struct {
	// samlAssertionPath points at a file holding a base64 SAML assertion
	// for federated session starts.
	samlAssertionPath string
}

// newApp wires the repository, keystore, credential writers and provider
// clients into a service factory.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	repo, err := openRepository(cfg)
	if err != nil {
		return nil, err
	}

	awsPath := cfg.Settings.AWSCredentialsPath
	if awsPath == "" {
		path, err := credfile.DefaultAWSPath()
		if err != nil {
			return nil, err
		}
		awsPath = path
	}

	azurePath := cfg.Settings.AzureTokensPath
	if azurePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		azurePath = home + "/.credops/azure-tokens"
	}

	portal, err := ssoflow.New(ctx, cfg.Settings.DefaultSSORegion, cfg.Logger, func(verificationURI, userCode string) {
		cfg.Logger.Info("To approve this session, open %s and enter code %s", verificationURI, userCode)
	})
	if err != nil {
		return nil, err
	}

	deps := service.Deps{
		Repo:        repo,
		Secrets:     keystore.New(),
		AWSWriter:   credfile.NewWriter(awsPath, cfg.Logger),
		AzureWriter: credfile.NewWriter(azurePath, cfg.Logger),
		Portal:      portal,
		STS:         service.NewSTSClientFactory(),
		MFAPrompt:   stdinMFAPrompt(cfg),
		AzureCreds:  service.NewAzureCredentialFactory(cfg.Logger),
		Logger:      cfg.Logger,
	}
	if opts.samlAssertionPath != "" {
		deps.Assertions = fileAssertionProvider{path: opts.samlAssertionPath}
	}

	factory, err := service.NewFactory(deps)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, repo: repo, factory: factory, portal: portal}, nil
}

// stdinMFAPrompt reads a one-time code from the terminal.
func stdinMFAPrompt(cfg *config.Config) service.MFATokenPrompt {
	return func(_ context.Context, mfaDevice string) (string, error) {
		if cfg.NonInteractive {
			return "", crederrors.UserError{
				Message:    "MFA code required but running non-interactively",
				Suggestion: "Run without --non-interactive to be prompted",
				Details:    fmt.Sprintf("Session requires a code from device %s", mfaDevice),
			}
		}
		fmt.Fprintf(os.Stderr, "MFA code for %s: ", mfaDevice)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read MFA code: %w", err)
		}
		return strings.TrimSpace(line), nil
	}
}

// fileAssertionProvider serves a pre-obtained SAML assertion from disk.
type fileAssertionProvider struct {
	path string
}

func (p fileAssertionProvider) Assertion(_ context.Context, _ string) (string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return "", crederrors.UserError{
			Message:    fmt.Sprintf("Could not read SAML assertion from %s", p.path),
			Suggestion: "Authenticate against your identity provider and save the base64 assertion to a file",
			Err:        err,
		}
	}
	return strings.TrimSpace(string(data)), nil
}

// resolveSessionArg turns a name or id argument into a session id. Names
// take precedence for usability; ids always work.
func resolveSessionArg(repo *workspace.Repository, arg string) (string, error) {
	sessions, err := repo.Sessions()
	if err != nil {
		return "", err
	}
	for _, s := range sessions {
		if s.Name == arg {
			return s.ID, nil
		}
	}
	for _, s := range sessions {
		if s.ID == arg {
			return s.ID, nil
		}
	}
	return "", crederrors.UserError{
		Message:    fmt.Sprintf("No session named '%s'", arg),
		Suggestion: "Run 'credops session list' to see configured sessions",
	}
}
