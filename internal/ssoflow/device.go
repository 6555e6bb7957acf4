// Package ssoflow implements the OAuth2 device-authorization grant against
// AWS IAM Identity Center: register a client, start device authorization,
// poll the token endpoint until the user approves in a browser, then use
// the portal token to list accounts, roles and role credentials.
package ssoflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sso"
	ssotypes "github.com/aws/aws-sdk-go-v2/service/sso/types"
	"github.com/aws/aws-sdk-go-v2/service/ssooidc"
	oidctypes "github.com/aws/aws-sdk-go-v2/service/ssooidc/types"

	crederrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/logging"
)

const (
	clientName      = "credops"
	clientType      = "public"
	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"
)

// Token is a portal access token obtained through the device flow.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Valid reports whether the token is usable at instant now.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt)
}

// AccountRole is one assumable role discovered through the portal.
type AccountRole struct {
	AccountID   string
	AccountName string
	Email       string
	RoleName    string
}

// RoleCredentials are the temporary credentials issued for one SSO role.
type RoleCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
}

// Notifier receives the verification URI and user code the user must enter
// in a browser. Front ends print it or open the browser.
type Notifier func(verificationURI, userCode string)

// oidcAPI mirrors the ssooidc operations the flow needs. Injectable for tests.
type oidcAPI interface {
	RegisterClient(ctx context.Context, params *ssooidc.RegisterClientInput, optFns ...func(*ssooidc.Options)) (*ssooidc.RegisterClientOutput, error)
	StartDeviceAuthorization(ctx context.Context, params *ssooidc.StartDeviceAuthorizationInput, optFns ...func(*ssooidc.Options)) (*ssooidc.StartDeviceAuthorizationOutput, error)
	CreateToken(ctx context.Context, params *ssooidc.CreateTokenInput, optFns ...func(*ssooidc.Options)) (*ssooidc.CreateTokenOutput, error)
}

// portalAPI mirrors the sso portal operations the flow needs.
type portalAPI interface {
	ListAccounts(ctx context.Context, params *sso.ListAccountsInput, optFns ...func(*sso.Options)) (*sso.ListAccountsOutput, error)
	ListAccountRoles(ctx context.Context, params *sso.ListAccountRolesInput, optFns ...func(*sso.Options)) (*sso.ListAccountRolesOutput, error)
	GetRoleCredentials(ctx context.Context, params *sso.GetRoleCredentialsInput, optFns ...func(*sso.Options)) (*sso.GetRoleCredentialsOutput, error)
}

// Client drives the device-authorization grant and caches portal tokens
// per start URL for the lifetime of the process.
type Client struct {
	oidc     oidcAPI
	portal   portalAPI
	logger   *logging.Logger
	notifier Notifier
	sleep    func(context.Context, time.Duration) error

	mu    sync.Mutex
	cache map[string]Token
}

// New creates a client talking to the real SSO endpoints in region. The
// OIDC and portal endpoints are unauthenticated; the portal token is the
// only credential involved.
func New(ctx context.Context, region string, logger *logging.Logger, notifier Notifier) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewWithAPIs(ssooidc.NewFromConfig(cfg), sso.NewFromConfig(cfg), logger, notifier), nil
}

// NewWithAPIs creates a client over explicit API implementations. For tests.
func NewWithAPIs(oidc oidcAPI, portal portalAPI, logger *logging.Logger, notifier Notifier) *Client {
	if notifier == nil {
		notifier = func(string, string) {}
	}
	return &Client{
		oidc:     oidc,
		portal:   portal,
		logger:   logger,
		notifier: notifier,
		sleep:    sleepCtx,
		cache:    make(map[string]Token),
	}
}

// CachedToken returns the process-cached token for a portal URL, if still valid.
func (c *Client) CachedToken(portalURL string) (Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.cache[portalURL]
	if !ok || !t.Valid(time.Now()) {
		return Token{}, false
	}
	return t, true
}

// InvalidateToken drops the cached token for a portal URL.
func (c *Client) InvalidateToken(portalURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, portalURL)
}

// Login runs the device-authorization grant for the portal at portalURL.
// It returns the cached token when one is still valid. Polling follows the
// interval returned by the authorization endpoint, backs off on slow_down,
// and is bounded by the device code's own expiration and by ctx.
func (c *Client) Login(ctx context.Context, portalURL string) (Token, error) {
	if t, ok := c.CachedToken(portalURL); ok {
		return t, nil
	}

	reg, err := c.oidc.RegisterClient(ctx, &ssooidc.RegisterClientInput{
		ClientName: aws.String(clientName),
		ClientType: aws.String(clientType),
	})
	if err != nil {
		return Token{}, crederrors.ProviderCallError{Provider: "sso-oidc", Operation: "RegisterClient", Transient: true, Err: err}
	}

	auth, err := c.oidc.StartDeviceAuthorization(ctx, &ssooidc.StartDeviceAuthorizationInput{
		ClientId:     reg.ClientId,
		ClientSecret: reg.ClientSecret,
		StartUrl:     aws.String(portalURL),
	})
	if err != nil {
		return Token{}, crederrors.ProviderCallError{Provider: "sso-oidc", Operation: "StartDeviceAuthorization", Transient: true, Err: err}
	}

	c.notifier(aws.ToString(auth.VerificationUriComplete), aws.ToString(auth.UserCode))
	c.logger.Info("complete sign-in at %s (code %s)", aws.ToString(auth.VerificationUriComplete), aws.ToString(auth.UserCode))

	interval := time.Duration(auth.Interval) * time.Second
	deadline := time.Now().Add(time.Duration(auth.ExpiresIn) * time.Second)

	for {
		if time.Now().After(deadline) {
			return Token{}, crederrors.DeviceAuthorizationFailedError{PortalURL: portalURL, Reason: "device code expired before approval"}
		}

		out, err := c.oidc.CreateToken(ctx, &ssooidc.CreateTokenInput{
			ClientId:     reg.ClientId,
			ClientSecret: reg.ClientSecret,
			DeviceCode:   auth.DeviceCode,
			GrantType:    aws.String(deviceGrantType),
		})
		if err == nil {
			token := Token{
				AccessToken: aws.ToString(out.AccessToken),
				ExpiresAt:   time.Now().Add(time.Duration(out.ExpiresIn) * time.Second),
			}
			c.mu.Lock()
			c.cache[portalURL] = token
			c.mu.Unlock()
			c.logger.Debug("portal token obtained, expires %s", token.ExpiresAt.Format(time.RFC3339))
			return token, nil
		}

		var pending *oidctypes.AuthorizationPendingException
		var slowDown *oidctypes.SlowDownException
		var expired *oidctypes.ExpiredTokenException
		var denied *oidctypes.AccessDeniedException
		switch {
		case errors.As(err, &pending):
			// keep polling
		case errors.As(err, &slowDown):
			interval += 5 * time.Second
		case errors.As(err, &expired):
			return Token{}, crederrors.DeviceAuthorizationFailedError{PortalURL: portalURL, Reason: "device code expired"}
		case errors.As(err, &denied):
			return Token{}, crederrors.DeviceAuthorizationFailedError{PortalURL: portalURL, Reason: "access denied by user"}
		default:
			return Token{}, crederrors.ProviderCallError{Provider: "sso-oidc", Operation: "CreateToken", Transient: true, Err: err}
		}

		if err := c.sleep(ctx, interval); err != nil {
			return Token{}, err
		}
	}
}

// ListAccountsAndRoles enumerates every account and role the token can see.
func (c *Client) ListAccountsAndRoles(ctx context.Context, token Token) ([]AccountRole, error) {
	var roles []AccountRole

	var nextToken *string
	for {
		accounts, err := c.portal.ListAccounts(ctx, &sso.ListAccountsInput{
			AccessToken: aws.String(token.AccessToken),
			NextToken:   nextToken,
		})
		if err != nil {
			return nil, crederrors.ProviderCallError{Provider: "sso", Operation: "ListAccounts", Transient: true, Err: err}
		}

		for _, account := range accounts.AccountList {
			accountRoles, err := c.listRolesForAccount(ctx, token, account)
			if err != nil {
				return nil, err
			}
			roles = append(roles, accountRoles...)
		}

		nextToken = accounts.NextToken
		if nextToken == nil {
			break
		}
	}
	return roles, nil
}

func (c *Client) listRolesForAccount(ctx context.Context, token Token, account ssotypes.AccountInfo) ([]AccountRole, error) {
	var roles []AccountRole

	var nextToken *string
	for {
		out, err := c.portal.ListAccountRoles(ctx, &sso.ListAccountRolesInput{
			AccessToken: aws.String(token.AccessToken),
			AccountId:   account.AccountId,
			NextToken:   nextToken,
		})
		if err != nil {
			return nil, crederrors.ProviderCallError{Provider: "sso", Operation: "ListAccountRoles", Transient: true, Err: err}
		}

		for _, role := range out.RoleList {
			roles = append(roles, AccountRole{
				AccountID:   aws.ToString(account.AccountId),
				AccountName: aws.ToString(account.AccountName),
				Email:       aws.ToString(account.EmailAddress),
				RoleName:    aws.ToString(role.RoleName),
			})
		}

		nextToken = out.NextToken
		if nextToken == nil {
			return roles, nil
		}
	}
}

// RoleCredentials exchanges the portal token for temporary role credentials.
func (c *Client) RoleCredentials(ctx context.Context, token Token, accountID, roleName string) (RoleCredentials, error) {
	out, err := c.portal.GetRoleCredentials(ctx, &sso.GetRoleCredentialsInput{
		AccessToken: aws.String(token.AccessToken),
		AccountId:   aws.String(accountID),
		RoleName:    aws.String(roleName),
	})
	if err != nil {
		return RoleCredentials{}, crederrors.ProviderCallError{Provider: "sso", Operation: "GetRoleCredentials", Err: err}
	}
	creds := out.RoleCredentials
	if creds == nil {
		return RoleCredentials{}, crederrors.ProviderCallError{Provider: "sso", Operation: "GetRoleCredentials", Err: errors.New("empty credentials in response")}
	}

	return RoleCredentials{
		AccessKeyID:     aws.ToString(creds.AccessKeyId),
		SecretAccessKey: aws.ToString(creds.SecretAccessKey),
		SessionToken:    aws.ToString(creds.SessionToken),
		Expiration:      time.UnixMilli(creds.Expiration),
	}, nil
}

// sleepCtx waits d without leaking the timer when ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// Still honor cancellation between immediate polls.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
