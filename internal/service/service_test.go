package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/credops/internal/credfile"
	crederrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/keystore"
	"github.com/systmms/credops/internal/logging"
	"github.com/systmms/credops/internal/session"
	"github.com/systmms/credops/internal/ssoflow"
	"github.com/systmms/credops/internal/workspace"
)

type fakeSTS struct {
	mu            sync.Mutex
	sessionTokens int
	assumes       int
	samls         int
	err           error
	lastSerial    string
	lastTokenCode string
	lastRoleArn   string
}

func cannedCreds(accessKeyID string) *ststypes.Credentials {
	exp := time.Now().Add(time.Hour)
	secret := "secret-" + accessKeyID
	token := "token-" + accessKeyID
	return &ststypes.Credentials{
		AccessKeyId:     &accessKeyID,
		SecretAccessKey: &secret,
		SessionToken:    &token,
		Expiration:      &exp,
	}
}

func (f *fakeSTS) GetSessionToken(_ context.Context, in *sts.GetSessionTokenInput, _ ...func(*sts.Options)) (*sts.GetSessionTokenOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionTokens++
	if in.SerialNumber != nil {
		f.lastSerial = *in.SerialNumber
	}
	if in.TokenCode != nil {
		f.lastTokenCode = *in.TokenCode
	}
	if f.err != nil {
		return nil, f.err
	}
	return &sts.GetSessionTokenOutput{Credentials: cannedCreds("AKIATEMP")}, nil
}

func (f *fakeSTS) AssumeRole(_ context.Context, in *sts.AssumeRoleInput, _ ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assumes++
	if in.RoleArn != nil {
		f.lastRoleArn = *in.RoleArn
	}
	if f.err != nil {
		return nil, f.err
	}
	return &sts.AssumeRoleOutput{Credentials: cannedCreds("AKIACHAINED")}, nil
}

func (f *fakeSTS) AssumeRoleWithSAML(_ context.Context, in *sts.AssumeRoleWithSAMLInput, _ ...func(*sts.Options)) (*sts.AssumeRoleWithSAMLOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samls++
	if in.RoleArn != nil {
		f.lastRoleArn = *in.RoleArn
	}
	if f.err != nil {
		return nil, f.err
	}
	return &sts.AssumeRoleWithSAMLOutput{Credentials: cannedCreds("AKIASAML")}, nil
}

type fakeSTSFactory struct {
	sts         *fakeSTS
	staticCreds []string // access key ids the Static constructor saw
}

func (f *fakeSTSFactory) Static(_ context.Context, _, accessKeyID, _, _ string) (STSAPI, error) {
	f.staticCreds = append(f.staticCreds, accessKeyID)
	return f.sts, nil
}

func (f *fakeSTSFactory) Anonymous(_ context.Context, _ string) (STSAPI, error) {
	return f.sts, nil
}

type fakePortal struct {
	logins       int
	roleCalls    int
	invalidated  int
	roleErrs     []error
	loginToken   ssoflow.Token
	lastToken    ssoflow.Token
	lastAccount  string
	lastRoleName string
}

func (f *fakePortal) Login(context.Context, string) (ssoflow.Token, error) {
	f.logins++
	return f.loginToken, nil
}

func (f *fakePortal) RoleCredentials(_ context.Context, token ssoflow.Token, accountID, roleName string) (ssoflow.RoleCredentials, error) {
	f.roleCalls++
	f.lastToken = token
	f.lastAccount = accountID
	f.lastRoleName = roleName
	if len(f.roleErrs) > 0 {
		err := f.roleErrs[0]
		f.roleErrs = f.roleErrs[1:]
		if err != nil {
			return ssoflow.RoleCredentials{}, err
		}
	}
	return ssoflow.RoleCredentials{
		AccessKeyID:     "AKIASSO",
		SecretAccessKey: "sso-secret",
		SessionToken:    "sso-token",
		Expiration:      time.Now().Add(time.Hour),
	}, nil
}

func (f *fakePortal) InvalidateToken(string) { f.invalidated++ }

type harness struct {
	repo      *workspace.Repository
	secrets   *keystore.MemoryStore
	stsf      *fakeSTSFactory
	portal    *fakePortal
	factory   *Factory
	awsPath   string
	azurePath string
	mfaCodes  []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	logger := logging.NewWithWriter(true, true, io.Discard)

	h := &harness{
		repo:      workspace.NewRepository(filepath.Join(dir, "workspace.yaml"), logger),
		secrets:   keystore.NewMemory(),
		stsf:      &fakeSTSFactory{sts: &fakeSTS{}},
		portal:    &fakePortal{loginToken: ssoflow.Token{AccessToken: "fresh-token", ExpiresAt: time.Now().Add(8 * time.Hour)}},
		awsPath:   filepath.Join(dir, "credentials"),
		azurePath: filepath.Join(dir, "azure-tokens"),
	}

	deps := Deps{
		Repo:        h.repo,
		Secrets:     h.secrets,
		AWSWriter:   credfile.NewWriter(h.awsPath, logger),
		AzureWriter: credfile.NewWriter(h.azurePath, logger),
		Portal:      h.portal,
		STS:         h.stsf,
		MFAPrompt: func(context.Context, string) (string, error) {
			if len(h.mfaCodes) == 0 {
				return "000000", nil
			}
			code := h.mfaCodes[0]
			h.mfaCodes = h.mfaCodes[1:]
			return code, nil
		},
		Logger: logger,
	}
	factory, err := NewFactory(deps)
	require.NoError(t, err)
	h.factory = factory
	return h
}

func (h *harness) awsFile(t *testing.T) string {
	t.Helper()
	raw, err := os.ReadFile(h.awsPath)
	if errors.Is(err, os.ErrNotExist) {
		return ""
	}
	require.NoError(t, err)
	return string(raw)
}

func (h *harness) addIamUser(t *testing.T, name, mfaDevice string) session.Session {
	t.Helper()
	s := session.NewIamUser(name, "eu-west-1", session.IamUserConfig{MfaDevice: mfaDevice})
	require.NoError(t, h.repo.AddSession(s))
	require.NoError(t, h.secrets.Set(keystore.Key(s.ID, keystore.RoleAccessKeyID), "AKIASTATIC"+name))
	require.NoError(t, h.secrets.Set(keystore.Key(s.ID, keystore.RoleSecretAccessKey), "static-secret-"+name))
	return s
}

// anotherProcess builds a second factory over the same workspace, keystore
// and credential files, standing in for a separate CLI invocation or a
// restarted daemon. Its in-memory credential table starts empty.
func (h *harness) anotherProcess(t *testing.T) *Factory {
	t.Helper()
	logger := logging.NewWithWriter(true, true, io.Discard)
	factory, err := NewFactory(Deps{
		Repo:        h.repo,
		Secrets:     h.secrets,
		AWSWriter:   credfile.NewWriter(h.awsPath, logger),
		AzureWriter: credfile.NewWriter(h.azurePath, logger),
		Portal:      h.portal,
		STS:         h.stsf,
		MFAPrompt:   func(context.Context, string) (string, error) { return "654321", nil },
		Logger:      logger,
	})
	require.NoError(t, err)
	return factory
}

func (h *harness) status(t *testing.T, id string) session.Status {
	t.Helper()
	s, err := h.repo.Session(id)
	require.NoError(t, err)
	return s.Status
}

func TestServiceForUnknownType(t *testing.T) {
	h := newHarness(t)

	_, err := h.factory.ServiceFor(session.Type("gcp"))
	var unsupported crederrors.UnsupportedSessionTypeError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "gcp", unsupported.Type)
}

func TestServiceForZeroValueFactory(t *testing.T) {
	var f *Factory
	_, err := f.ServiceFor(session.TypeAwsIamUser)
	var notInit crederrors.NotInitializedError
	require.ErrorAs(t, err, &notInit)

	_, err = (&Factory{}).ServiceFor(session.TypeAwsIamUser)
	require.ErrorAs(t, err, &notInit)
}

func TestNewFactoryRequiresDeps(t *testing.T) {
	_, err := NewFactory(Deps{})
	var notInit crederrors.NotInitializedError
	require.ErrorAs(t, err, &notInit)
}

func TestStartIamUserStatic(t *testing.T) {
	h := newHarness(t)
	s := h.addIamUser(t, "dev", "")

	svc, err := h.factory.ServiceFor(session.TypeAwsIamUser)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background(), s.ID))

	assert.Equal(t, session.StatusActive, h.status(t, s.ID))
	content := h.awsFile(t)
	assert.Contains(t, content, "[default]")
	assert.Contains(t, content, "AKIASTATICdev")
	assert.NotContains(t, content, "aws_session_token")

	// Static keys never expire, so nothing should be scheduled.
	_, ok := h.factory.Expiration(s.ID)
	assert.False(t, ok)
}

func TestStartActiveSessionIsNoop(t *testing.T) {
	h := newHarness(t)
	s := h.addIamUser(t, "dev", "")
	svc, _ := h.factory.ServiceFor(session.TypeAwsIamUser)
	require.NoError(t, svc.Start(context.Background(), s.ID))

	// A second start must not touch the keystore at all.
	h.secrets.FailAll(true)
	require.NoError(t, svc.Start(context.Background(), s.ID))
	assert.Equal(t, session.StatusActive, h.status(t, s.ID))
}

func TestStartIamUserWithMfa(t *testing.T) {
	h := newHarness(t)
	h.mfaCodes = []string{"123456"}
	s := h.addIamUser(t, "ops", "arn:aws:iam::111122223333:mfa/ops")

	svc, _ := h.factory.ServiceFor(session.TypeAwsIamUser)
	require.NoError(t, svc.Start(context.Background(), s.ID))

	assert.Equal(t, 1, h.stsf.sts.sessionTokens)
	assert.Equal(t, "arn:aws:iam::111122223333:mfa/ops", h.stsf.sts.lastSerial)
	assert.Equal(t, "123456", h.stsf.sts.lastTokenCode)

	content := h.awsFile(t)
	assert.Contains(t, content, "AKIATEMP")
	assert.Contains(t, content, "aws_session_token")

	exp, ok := h.factory.Expiration(s.ID)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)
}

func TestStartFailureLeavesSessionInactive(t *testing.T) {
	h := newHarness(t)
	s := session.NewIamUser("no-keys", "eu-west-1", session.IamUserConfig{})
	require.NoError(t, h.repo.AddSession(s))

	svc, _ := h.factory.ServiceFor(session.TypeAwsIamUser)
	err := svc.Start(context.Background(), s.ID)
	require.True(t, crederrors.IsSecretNotFound(err))

	assert.Equal(t, session.StatusInactive, h.status(t, s.ID))
	assert.NotContains(t, h.awsFile(t), "no-keys")
}

func TestChainedStartsParentFirst(t *testing.T) {
	h := newHarness(t)
	parent := h.addIamUser(t, "root", "")
	profile, err := h.repo.AddProfile("child-profile")
	require.NoError(t, err)

	child := session.NewChained("child", "eu-west-1", session.ChainedConfig{
		RoleArn:         "arn:aws:iam::111122223333:role/child",
		ParentSessionID: parent.ID,
		ProfileID:       profile.ID,
	})
	require.NoError(t, h.repo.AddSession(child))

	svc, _ := h.factory.ServiceFor(session.TypeAwsIamRoleChained)
	require.NoError(t, svc.Start(context.Background(), child.ID))

	assert.Equal(t, session.StatusActive, h.status(t, parent.ID))
	assert.Equal(t, session.StatusActive, h.status(t, child.ID))
	assert.Equal(t, 1, h.stsf.sts.assumes)
	assert.Equal(t, "arn:aws:iam::111122223333:role/child", h.stsf.sts.lastRoleArn)

	// The assume call must be signed with the parent's key material.
	require.NotEmpty(t, h.stsf.staticCreds)
	assert.Equal(t, "AKIASTATICroot", h.stsf.staticCreds[len(h.stsf.staticCreds)-1])

	content := h.awsFile(t)
	assert.Contains(t, content, "[default]")
	assert.Contains(t, content, "[child-profile]")
	assert.Contains(t, content, "AKIACHAINED")
}

func TestChainedParentFailurePropagates(t *testing.T) {
	h := newHarness(t)
	parent := session.NewIamUser("broken-parent", "eu-west-1", session.IamUserConfig{})
	require.NoError(t, h.repo.AddSession(parent))
	child := session.NewChained("child", "eu-west-1", session.ChainedConfig{
		RoleArn:         "arn:aws:iam::111122223333:role/child",
		ParentSessionID: parent.ID,
	})
	require.NoError(t, h.repo.AddSession(child))

	svc, _ := h.factory.ServiceFor(session.TypeAwsIamRoleChained)
	err := svc.Start(context.Background(), child.ID)
	require.True(t, crederrors.IsSecretNotFound(err))

	assert.Equal(t, session.StatusInactive, h.status(t, parent.ID))
	assert.Equal(t, session.StatusInactive, h.status(t, child.ID))
	assert.Zero(t, h.stsf.sts.assumes)
}

func TestChainedCycleDetected(t *testing.T) {
	h := newHarness(t)
	ws, err := h.repo.Load()
	require.NoError(t, err)

	// Build the cycle directly in the document, bypassing the reference
	// checks a normal add would run.
	a := session.NewChained("a", "eu-west-1", session.ChainedConfig{RoleArn: "arn:aws:iam::1:role/a"})
	b := session.NewChained("b", "eu-west-1", session.ChainedConfig{RoleArn: "arn:aws:iam::1:role/b", ParentSessionID: a.ID})
	a.Chained.ParentSessionID = b.ID
	ws.Sessions = append(ws.Sessions, a, b)
	require.NoError(t, h.repo.Save(ws))

	svc, _ := h.factory.ServiceFor(session.TypeAwsIamRoleChained)
	err = svc.Start(context.Background(), a.ID)
	var cyclic crederrors.CyclicSessionDependencyError
	require.ErrorAs(t, err, &cyclic)
	assert.Zero(t, h.stsf.sts.assumes)
	assert.Equal(t, session.StatusInactive, h.status(t, a.ID))
}

func TestRotateFailureDeactivates(t *testing.T) {
	h := newHarness(t)
	s := h.addIamUser(t, "ops", "arn:aws:iam::111122223333:mfa/ops")
	svc, _ := h.factory.ServiceFor(session.TypeAwsIamUser)
	require.NoError(t, svc.Start(context.Background(), s.ID))

	h.stsf.sts.err = errors.New("AccessDenied: MFA token invalid")
	err := svc.Rotate(context.Background(), s.ID)
	var provider crederrors.ProviderCallError
	require.ErrorAs(t, err, &provider)
	assert.False(t, provider.Transient)

	assert.Equal(t, session.StatusInactive, h.status(t, s.ID))
	assert.NotContains(t, h.awsFile(t), "AKIATEMP")
	_, ok := h.factory.Expiration(s.ID)
	assert.False(t, ok)
}

func TestRotateInactiveSessionIsNoop(t *testing.T) {
	h := newHarness(t)
	s := h.addIamUser(t, "dev", "")
	svc, _ := h.factory.ServiceFor(session.TypeAwsIamUser)

	require.NoError(t, svc.Rotate(context.Background(), s.ID))
	assert.Equal(t, session.StatusInactive, h.status(t, s.ID))
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	s := h.addIamUser(t, "dev", "")
	svc, _ := h.factory.ServiceFor(session.TypeAwsIamUser)
	require.NoError(t, svc.Start(context.Background(), s.ID))
	require.Contains(t, h.awsFile(t), "AKIASTATICdev")

	require.NoError(t, svc.Stop(context.Background(), s.ID))
	assert.Equal(t, session.StatusInactive, h.status(t, s.ID))
	assert.NotContains(t, h.awsFile(t), "AKIASTATICdev")

	require.NoError(t, svc.Stop(context.Background(), s.ID))
	assert.Equal(t, session.StatusInactive, h.status(t, s.ID))
}

func TestDeleteRefusesDependentsWithoutCascade(t *testing.T) {
	h := newHarness(t)
	parent := h.addIamUser(t, "root", "")
	child := session.NewChained("child", "eu-west-1", session.ChainedConfig{
		RoleArn:         "arn:aws:iam::1:role/child",
		ParentSessionID: parent.ID,
	})
	require.NoError(t, h.repo.AddSession(child))

	svc, _ := h.factory.ServiceFor(session.TypeAwsIamUser)
	err := svc.Delete(context.Background(), parent.ID, false)
	var dependent crederrors.DependentSessionsError
	require.ErrorAs(t, err, &dependent)
	assert.Equal(t, []string{child.ID}, dependent.DependentIDs)

	_, err = h.repo.Session(parent.ID)
	assert.NoError(t, err)
}

func TestDeleteCascadesDeepestFirst(t *testing.T) {
	h := newHarness(t)
	parent := h.addIamUser(t, "root", "")
	child := session.NewChained("child", "eu-west-1", session.ChainedConfig{
		RoleArn:         "arn:aws:iam::1:role/child",
		ParentSessionID: parent.ID,
	})
	require.NoError(t, h.repo.AddSession(child))
	grandchild := session.NewChained("grandchild", "eu-west-1", session.ChainedConfig{
		RoleArn:         "arn:aws:iam::1:role/grandchild",
		ParentSessionID: child.ID,
	})
	require.NoError(t, h.repo.AddSession(grandchild))

	svc, _ := h.factory.ServiceFor(session.TypeAwsIamUser)
	require.NoError(t, svc.Delete(context.Background(), parent.ID, true))

	for _, id := range []string{parent.ID, child.ID, grandchild.ID} {
		_, err := h.repo.Session(id)
		assert.Error(t, err)
	}
	_, err := h.secrets.Get(keystore.Key(parent.ID, keystore.RoleAccessKeyID))
	assert.True(t, crederrors.IsSecretNotFound(err))
}

func TestDeleteProceedsWhenSecretStoreFails(t *testing.T) {
	h := newHarness(t)
	s := h.addIamUser(t, "dev", "")
	h.secrets.FailAll(true)

	svc, _ := h.factory.ServiceFor(session.TypeAwsIamUser)
	require.NoError(t, svc.Delete(context.Background(), s.ID, false))

	_, err := h.repo.Session(s.ID)
	assert.Error(t, err)
}

func newSsoSession(t *testing.T, h *harness) session.Session {
	t.Helper()
	s := session.NewSsoRole("sso-dev", "eu-west-1", session.SsoRoleConfig{
		AccountID: "111122223333",
		RoleName:  "Developer",
		PortalURL: "https://acme.awsapps.com/start",
		SsoRegion: "eu-west-1",
	})
	require.NoError(t, h.repo.AddSession(s))
	return s
}

func TestSsoRoleReusesStoredToken(t *testing.T) {
	h := newHarness(t)
	s := newSsoSession(t, h)

	raw, err := json.Marshal(storedToken{AccessToken: "stored-token", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	require.NoError(t, h.secrets.Set(keystore.Key(s.ID, keystore.RoleSsoAccessToken), string(raw)))

	svc, _ := h.factory.ServiceFor(session.TypeAwsSsoRole)
	require.NoError(t, svc.Start(context.Background(), s.ID))

	assert.Zero(t, h.portal.logins)
	assert.Equal(t, "stored-token", h.portal.lastToken.AccessToken)
	assert.Equal(t, "111122223333", h.portal.lastAccount)
	assert.Equal(t, "Developer", h.portal.lastRoleName)
	assert.Contains(t, h.awsFile(t), "AKIASSO")
}

func TestSsoRoleLogsInWhenTokenMissing(t *testing.T) {
	h := newHarness(t)
	s := newSsoSession(t, h)

	svc, _ := h.factory.ServiceFor(session.TypeAwsSsoRole)
	require.NoError(t, svc.Start(context.Background(), s.ID))

	assert.Equal(t, 1, h.portal.logins)
	assert.Equal(t, "fresh-token", h.portal.lastToken.AccessToken)

	// The new token must be persisted for the next session on this portal.
	raw, err := h.secrets.Get(keystore.Key(s.ID, keystore.RoleSsoAccessToken))
	require.NoError(t, err)
	var st storedToken
	require.NoError(t, json.Unmarshal([]byte(raw), &st))
	assert.Equal(t, "fresh-token", st.AccessToken)
}

func TestSsoRoleReauthenticatesOnRejectedToken(t *testing.T) {
	h := newHarness(t)
	s := newSsoSession(t, h)

	raw, err := json.Marshal(storedToken{AccessToken: "revoked-token", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	require.NoError(t, h.secrets.Set(keystore.Key(s.ID, keystore.RoleSsoAccessToken), string(raw)))
	h.portal.roleErrs = []error{crederrors.ProviderCallError{Provider: "sso", Operation: "get-role-credentials", Err: errors.New("UnauthorizedException")}}

	svc, _ := h.factory.ServiceFor(session.TypeAwsSsoRole)
	require.NoError(t, svc.Start(context.Background(), s.ID))

	assert.Equal(t, 1, h.portal.logins)
	assert.Equal(t, 1, h.portal.invalidated)
	assert.Equal(t, 2, h.portal.roleCalls)
	assert.Equal(t, "fresh-token", h.portal.lastToken.AccessToken)
	assert.Equal(t, session.StatusActive, h.status(t, s.ID))
}

type fakeAzureCred struct {
	token azcore.AccessToken
}

func (f *fakeAzureCred) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return f.token, nil
}

func staticAzureFactory(token string, expiresOn time.Time) AzureCredentialFactory {
	return func(string) (AzureTokenGetter, error) {
		return &fakeAzureCred{token: azcore.AccessToken{Token: token, ExpiresOn: expiresOn}}, nil
	}
}

func TestAzureStart(t *testing.T) {
	h := newHarness(t)
	s := session.NewAzure("az-dev", "westeurope", session.AzureConfig{
		SubscriptionID: "sub-1",
		TenantID:       "tenant-1",
	})
	require.NoError(t, h.repo.AddSession(s))

	exp := time.Now().Add(time.Hour)
	h.factory.core.deps.AzureCreds = staticAzureFactory("azure-token", exp)

	svc, _ := h.factory.ServiceFor(session.TypeAzure)
	require.NoError(t, svc.Start(context.Background(), s.ID))

	assert.Equal(t, session.StatusActive, h.status(t, s.ID))

	raw, err := os.ReadFile(h.azurePath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "[az-dev]")
	assert.Contains(t, string(raw), "subscription_id = sub-1")
	assert.Contains(t, string(raw), "azure-token")
	assert.NotContains(t, h.awsFile(t), "azure-token")

	stored, err := h.secrets.Get(keystore.Key(s.ID, keystore.RoleAzureToken))
	require.NoError(t, err)
	assert.Equal(t, "azure-token", stored)

	gotExp, ok := h.factory.Expiration(s.ID)
	require.True(t, ok)
	assert.WithinDuration(t, exp, gotExp, time.Second)
}

func TestWithRetryRecoversFromTransient(t *testing.T) {
	logger := logging.NewWithWriter(true, true, io.Discard)
	calls := 0
	err := withRetry(context.Background(), logger, func() error {
		calls++
		if calls == 1 {
			return crederrors.ProviderCallError{Provider: "sts", Operation: "op", Transient: true, Err: errors.New("timeout")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	logger := logging.NewWithWriter(true, true, io.Discard)
	calls := 0
	err := withRetry(context.Background(), logger, func() error {
		calls++
		return crederrors.ProviderCallError{Provider: "sts", Operation: "op", Err: errors.New("AccessDenied")}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestClassifyMarksNetworkErrorsTransient(t *testing.T) {
	err := classify("sts", "assume-role", errors.New("dial tcp: i/o timeout"))
	assert.True(t, crederrors.IsTransient(err))

	err = classify("sts", "assume-role", errors.New("AccessDenied: not authorized"))
	assert.False(t, crederrors.IsTransient(err))

	var provider crederrors.ProviderCallError
	require.ErrorAs(t, err, &provider)
	assert.Equal(t, "sts", provider.Provider)
	assert.Equal(t, "assume-role", provider.Operation)
}

func TestMaterializeRebuildsWholeFile(t *testing.T) {
	h := newHarness(t)
	first := h.addIamUser(t, "one", "")
	profile, err := h.repo.AddProfile("two-profile")
	require.NoError(t, err)
	second := session.NewIamUser("two", "eu-west-1", session.IamUserConfig{ProfileID: profile.ID})
	require.NoError(t, h.repo.AddSession(second))
	require.NoError(t, h.secrets.Set(keystore.Key(second.ID, keystore.RoleAccessKeyID), "AKIASTATICtwo"))
	require.NoError(t, h.secrets.Set(keystore.Key(second.ID, keystore.RoleSecretAccessKey), "static-secret-two"))

	svc, _ := h.factory.ServiceFor(session.TypeAwsIamUser)
	require.NoError(t, svc.Start(context.Background(), first.ID))
	require.NoError(t, svc.Start(context.Background(), second.ID))

	content := h.awsFile(t)
	assert.Equal(t, 1, strings.Count(content, "AKIASTATICone"))
	assert.Equal(t, 1, strings.Count(content, "AKIASTATICtwo"))

	require.NoError(t, svc.Stop(context.Background(), first.ID))
	content = h.awsFile(t)
	assert.NotContains(t, content, "AKIASTATICone")
	assert.Contains(t, content, "AKIASTATICtwo")
}

func TestMaterializePreservesBlocksFromOtherProcesses(t *testing.T) {
	h := newHarness(t)
	first := h.addIamUser(t, "one", "")
	svc, _ := h.factory.ServiceFor(session.TypeAwsIamUser)
	require.NoError(t, svc.Start(context.Background(), first.ID))
	require.Contains(t, h.awsFile(t), "AKIASTATICone")

	profile, err := h.repo.AddProfile("two-profile")
	require.NoError(t, err)
	second := session.NewIamUser("two", "eu-west-1", session.IamUserConfig{ProfileID: profile.ID})
	require.NoError(t, h.repo.AddSession(second))
	require.NoError(t, h.secrets.Set(keystore.Key(second.ID, keystore.RoleAccessKeyID), "AKIASTATICtwo"))
	require.NoError(t, h.secrets.Set(keystore.Key(second.ID, keystore.RoleSecretAccessKey), "static-secret-two"))

	other := h.anotherProcess(t)
	otherSvc, err := other.ServiceFor(session.TypeAwsIamUser)
	require.NoError(t, err)
	require.NoError(t, otherSvc.Start(context.Background(), second.ID))

	// The second invocation holds no credentials for "one" but must not
	// erase the block the first invocation materialized.
	content := h.awsFile(t)
	assert.Contains(t, content, "AKIASTATICone")
	assert.Contains(t, content, "AKIASTATICtwo")

	require.NoError(t, otherSvc.Stop(context.Background(), second.ID))
	content = h.awsFile(t)
	assert.Contains(t, content, "AKIASTATICone")
	assert.NotContains(t, content, "AKIASTATICtwo")
}

func TestStartPersistsExpirationMetadata(t *testing.T) {
	h := newHarness(t)
	h.mfaCodes = []string{"123456"}
	s := h.addIamUser(t, "ops", "arn:aws:iam::1:mfa/ops")

	svc, _ := h.factory.ServiceFor(session.TypeAwsIamUser)
	require.NoError(t, svc.Start(context.Background(), s.ID))

	got, err := h.repo.Session(s.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.StartDateTime)
	exp, ok := got.Expiration()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	// Static keys record no expiration and are never rotation candidates.
	static := h.addIamUser(t, "dev", "")
	require.NoError(t, svc.Start(context.Background(), static.ID))
	gotStatic, err := h.repo.Session(static.ID)
	require.NoError(t, err)
	assert.Empty(t, gotStatic.ExpirationTime)
	assert.True(t, gotStatic.NeverExpires())

	require.NoError(t, svc.Stop(context.Background(), s.ID))
	got, err = h.repo.Session(s.ID)
	require.NoError(t, err)
	assert.Empty(t, got.StartDateTime)
	assert.Empty(t, got.ExpirationTime)
}

func TestStartMaterializeFailureDeactivates(t *testing.T) {
	h := newHarness(t)
	h.mfaCodes = []string{"123456"}
	s := h.addIamUser(t, "ops", "arn:aws:iam::1:mfa/ops")

	blocked := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocked, nil, 0600))
	logger := logging.NewWithWriter(true, true, io.Discard)
	h.factory.core.deps.AWSWriter = credfile.NewWriter(filepath.Join(blocked, "credentials"), logger)

	svc, _ := h.factory.ServiceFor(session.TypeAwsIamUser)
	err := svc.Start(context.Background(), s.ID)
	require.Error(t, err)

	// An active session without a credential block would advertise
	// credentials that do not exist.
	assert.Equal(t, session.StatusInactive, h.status(t, s.ID))
	_, ok := h.factory.Expiration(s.ID)
	assert.False(t, ok)
}

func TestChainedReresolvesParentFromOtherProcess(t *testing.T) {
	h := newHarness(t)
	parent := h.addIamUser(t, "root", "")
	svc, _ := h.factory.ServiceFor(session.TypeAwsIamUser)
	require.NoError(t, svc.Start(context.Background(), parent.ID))

	child := session.NewChained("child", "eu-west-1", session.ChainedConfig{
		RoleArn:         "arn:aws:iam::1:role/child",
		ParentSessionID: parent.ID,
	})
	require.NoError(t, h.repo.AddSession(child))

	// A fresh process sees the parent active but holds none of its key
	// material; it must re-resolve the parent instead of failing.
	other := h.anotherProcess(t)
	otherSvc, err := other.ServiceFor(session.TypeAwsIamRoleChained)
	require.NoError(t, err)
	require.NoError(t, otherSvc.Start(context.Background(), child.ID))

	assert.Equal(t, session.StatusActive, h.status(t, child.ID))
	assert.Equal(t, 1, h.stsf.sts.assumes)
	require.NotEmpty(t, h.stsf.staticCreds)
	assert.Equal(t, "AKIASTATICroot", h.stsf.staticCreds[len(h.stsf.staticCreds)-1])
}
