package ssoflow

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sso"
	ssotypes "github.com/aws/aws-sdk-go-v2/service/sso/types"
	"github.com/aws/aws-sdk-go-v2/service/ssooidc"
	oidctypes "github.com/aws/aws-sdk-go-v2/service/ssooidc/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	crederrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/logging"
)

// fakeOIDC scripts the token endpoint: it returns the queued errors in
// order, then succeeds.
type fakeOIDC struct {
	expiresIn   int32
	interval    int32
	tokenErrs   []error
	createCalls int
}

func (f *fakeOIDC) RegisterClient(ctx context.Context, params *ssooidc.RegisterClientInput, optFns ...func(*ssooidc.Options)) (*ssooidc.RegisterClientOutput, error) {
	return &ssooidc.RegisterClientOutput{
		ClientId:     aws.String("client-id"),
		ClientSecret: aws.String("client-secret"),
	}, nil
}

func (f *fakeOIDC) StartDeviceAuthorization(ctx context.Context, params *ssooidc.StartDeviceAuthorizationInput, optFns ...func(*ssooidc.Options)) (*ssooidc.StartDeviceAuthorizationOutput, error) {
	return &ssooidc.StartDeviceAuthorizationOutput{
		DeviceCode:              aws.String("device-code"),
		UserCode:                aws.String("ABCD-EFGH"),
		VerificationUriComplete: aws.String("https://device.sso.example.com/?user_code=ABCD-EFGH"),
		ExpiresIn:               f.expiresIn,
		Interval:                f.interval,
	}, nil
}

func (f *fakeOIDC) CreateToken(ctx context.Context, params *ssooidc.CreateTokenInput, optFns ...func(*ssooidc.Options)) (*ssooidc.CreateTokenOutput, error) {
	f.createCalls++
	if len(f.tokenErrs) > 0 {
		err := f.tokenErrs[0]
		f.tokenErrs = f.tokenErrs[1:]
		return nil, err
	}
	return &ssooidc.CreateTokenOutput{
		AccessToken: aws.String("portal-token"),
		ExpiresIn:   3600,
	}, nil
}

type fakePortal struct {
	accounts map[string][]string // accountID -> roles
	credsErr error
}

func (f *fakePortal) ListAccounts(ctx context.Context, params *sso.ListAccountsInput, optFns ...func(*sso.Options)) (*sso.ListAccountsOutput, error) {
	out := &sso.ListAccountsOutput{}
	for id := range f.accounts {
		out.AccountList = append(out.AccountList, ssotypes.AccountInfo{
			AccountId:    aws.String(id),
			AccountName:  aws.String("account-" + id),
			EmailAddress: aws.String(id + "@example.com"),
		})
	}
	return out, nil
}

func (f *fakePortal) ListAccountRoles(ctx context.Context, params *sso.ListAccountRolesInput, optFns ...func(*sso.Options)) (*sso.ListAccountRolesOutput, error) {
	out := &sso.ListAccountRolesOutput{}
	for _, role := range f.accounts[aws.ToString(params.AccountId)] {
		out.RoleList = append(out.RoleList, ssotypes.RoleInfo{
			AccountId: params.AccountId,
			RoleName:  aws.String(role),
		})
	}
	return out, nil
}

func (f *fakePortal) GetRoleCredentials(ctx context.Context, params *sso.GetRoleCredentialsInput, optFns ...func(*sso.Options)) (*sso.GetRoleCredentialsOutput, error) {
	if f.credsErr != nil {
		return nil, f.credsErr
	}
	return &sso.GetRoleCredentialsOutput{
		RoleCredentials: &ssotypes.RoleCredentials{
			AccessKeyId:     aws.String("ASIATEMP"),
			SecretAccessKey: aws.String("tempsecret"),
			SessionToken:    aws.String("token"),
			Expiration:      time.Now().Add(time.Hour).UnixMilli(),
		},
	}, nil
}

func newTestClient(oidc *fakeOIDC, portal *fakePortal) *Client {
	return NewWithAPIs(oidc, portal, logging.New(false, true), nil)
}

func TestLoginPollsUntilApproved(t *testing.T) {
	oidc := &fakeOIDC{
		expiresIn: 60,
		tokenErrs: []error{
			&oidctypes.AuthorizationPendingException{},
			&oidctypes.AuthorizationPendingException{},
		},
	}
	client := newTestClient(oidc, &fakePortal{})

	token, err := client.Login(context.Background(), "https://acme.awsapps.com/start")
	require.NoError(t, err)
	assert.Equal(t, "portal-token", token.AccessToken)
	assert.Equal(t, 3, oidc.createCalls)

	// The token is cached; a second login makes no further calls.
	_, err = client.Login(context.Background(), "https://acme.awsapps.com/start")
	require.NoError(t, err)
	assert.Equal(t, 3, oidc.createCalls)
}

func TestLoginSlowDownIncreasesInterval(t *testing.T) {
	oidc := &fakeOIDC{
		expiresIn: 60,
		interval:  2,
		tokenErrs: []error{
			&oidctypes.SlowDownException{},
			&oidctypes.AuthorizationPendingException{},
		},
	}
	client := newTestClient(oidc, &fakePortal{})

	var sleeps []time.Duration
	client.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	_, err := client.Login(context.Background(), "https://acme.awsapps.com/start")
	require.NoError(t, err)
	require.Len(t, sleeps, 2)
	assert.Equal(t, 7*time.Second, sleeps[0])
	assert.Equal(t, 7*time.Second, sleeps[1])
	assert.Equal(t, 3, oidc.createCalls)
}

func TestLoginPendingUntilDeviceCodeExpiry(t *testing.T) {
	// Device code already expired: the first deadline check fails after the
	// initial pending response.
	oidc := &fakeOIDC{
		expiresIn: 0,
		tokenErrs: []error{
			&oidctypes.AuthorizationPendingException{},
			&oidctypes.AuthorizationPendingException{},
		},
	}
	client := newTestClient(oidc, &fakePortal{})

	_, err := client.Login(context.Background(), "https://acme.awsapps.com/start")
	require.Error(t, err)
	assert.True(t, crederrors.IsDeviceAuthorizationFailed(err))
}

func TestLoginAccessDenied(t *testing.T) {
	oidc := &fakeOIDC{
		expiresIn: 60,
		tokenErrs: []error{&oidctypes.AccessDeniedException{}},
	}
	client := newTestClient(oidc, &fakePortal{})

	_, err := client.Login(context.Background(), "https://acme.awsapps.com/start")
	require.Error(t, err)
	assert.True(t, crederrors.IsDeviceAuthorizationFailed(err))
}

func TestLoginExpiredToken(t *testing.T) {
	oidc := &fakeOIDC{
		expiresIn: 60,
		tokenErrs: []error{&oidctypes.ExpiredTokenException{}},
	}
	client := newTestClient(oidc, &fakePortal{})

	_, err := client.Login(context.Background(), "https://acme.awsapps.com/start")
	require.Error(t, err)
	assert.True(t, crederrors.IsDeviceAuthorizationFailed(err))
}

func TestLoginCancellation(t *testing.T) {
	oidc := &fakeOIDC{
		expiresIn: 600,
		interval:  1,
		tokenErrs: []error{
			&oidctypes.AuthorizationPendingException{},
			&oidctypes.AuthorizationPendingException{},
			&oidctypes.AuthorizationPendingException{},
		},
	}
	client := newTestClient(oidc, &fakePortal{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Login(ctx, "https://acme.awsapps.com/start")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListAccountsAndRoles(t *testing.T) {
	portal := &fakePortal{accounts: map[string][]string{
		"111111111111": {"AdministratorAccess", "ViewOnly"},
	}}
	client := newTestClient(&fakeOIDC{expiresIn: 60}, portal)

	roles, err := client.ListAccountsAndRoles(context.Background(), Token{AccessToken: "t"})
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "111111111111", roles[0].AccountID)
}

func TestRoleCredentials(t *testing.T) {
	client := newTestClient(&fakeOIDC{expiresIn: 60}, &fakePortal{})

	creds, err := client.RoleCredentials(context.Background(), Token{AccessToken: "t"}, "111111111111", "ViewOnly")
	require.NoError(t, err)
	assert.Equal(t, "ASIATEMP", creds.AccessKeyID)
	assert.True(t, creds.Expiration.After(time.Now()))
}

func TestInvalidateToken(t *testing.T) {
	oidc := &fakeOIDC{expiresIn: 60}
	client := newTestClient(oidc, &fakePortal{})

	_, err := client.Login(context.Background(), "https://acme.awsapps.com/start")
	require.NoError(t, err)

	client.InvalidateToken("https://acme.awsapps.com/start")
	_, ok := client.CachedToken("https://acme.awsapps.com/start")
	assert.False(t, ok)
}
