package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	crederrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/keystore"
	"github.com/systmms/credops/internal/logging"
	"github.com/systmms/credops/internal/session"
)

var (
	errNoParentCreds    = errors.New("parent session activated but produced no credentials")
	errEmptyCredentials = errors.New("empty credential set in response")
)

// STSAPI is the STS surface the strategies call. Satisfied by *sts.Client.
type STSAPI interface {
	GetSessionToken(ctx context.Context, params *sts.GetSessionTokenInput, optFns ...func(*sts.Options)) (*sts.GetSessionTokenOutput, error)
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
	AssumeRoleWithSAML(ctx context.Context, params *sts.AssumeRoleWithSAMLInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleWithSAMLOutput, error)
}

// STSClientFactory builds STS clients for a region. Static is used when a
// call must be signed with explicit key material (IAM user session tokens,
// chained role assumption); Anonymous covers the unsigned SAML call.
type STSClientFactory interface {
	Static(ctx context.Context, region, accessKeyID, secretAccessKey, sessionToken string) (STSAPI, error)
	Anonymous(ctx context.Context, region string) (STSAPI, error)
}

type sdkSTSFactory struct{}

// NewSTSClientFactory returns the AWS SDK backed factory.
func NewSTSClientFactory() STSClientFactory {
	return sdkSTSFactory{}
}

func (sdkSTSFactory) Static(ctx context.Context, region, accessKeyID, secretAccessKey, sessionToken string) (STSAPI, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken)),
	)
	if err != nil {
		return nil, classify("sts", "load-config", err)
	}
	return sts.NewFromConfig(cfg), nil
}

func (sdkSTSFactory) Anonymous(ctx context.Context, region string) (STSAPI, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		return nil, classify("sts", "load-config", err)
	}
	return sts.NewFromConfig(cfg), nil
}

// AzureTokenGetter is the token surface of an Azure credential. Satisfied
// by *azidentity.DeviceCodeCredential.
type AzureTokenGetter interface {
	GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error)
}

// AzureCredentialFactory builds a device-code credential for a tenant.
type AzureCredentialFactory func(tenantID string) (AzureTokenGetter, error)

// NewAzureCredentialFactory returns the azidentity backed factory. The
// device-code message (verification URL plus user code) goes through the
// logger so the user sees it on any surface.
func NewAzureCredentialFactory(logger *logging.Logger) AzureCredentialFactory {
	return func(tenantID string) (AzureTokenGetter, error) {
		cred, err := azidentity.NewDeviceCodeCredential(&azidentity.DeviceCodeCredentialOptions{
			TenantID: tenantID,
			UserPrompt: func(_ context.Context, dc azidentity.DeviceCodeMessage) error {
				logger.Info("%s", dc.Message)
				return nil
			},
		})
		if err != nil {
			return nil, classify("azure", "new-device-code-credential", err)
		}
		return cred, nil
	}
}

// Factory dispatches to the strategy for a session type. The zero value is
// unusable; construct it with NewFactory.
type Factory struct {
	core     *core
	services map[session.Type]SessionService
}

// NewFactory wires the strategies around shared Deps. All listed
// collaborators are required.
func NewFactory(deps Deps) (*Factory, error) {
	switch {
	case deps.Repo == nil:
		return nil, crederrors.NotInitializedError{Component: "workspace repository"}
	case deps.Secrets == nil:
		return nil, crederrors.NotInitializedError{Component: "keystore"}
	case deps.AWSWriter == nil || deps.AzureWriter == nil:
		return nil, crederrors.NotInitializedError{Component: "credential file writer"}
	case deps.Logger == nil:
		return nil, crederrors.NotInitializedError{Component: "logger"}
	}

	c := newCore(&deps)
	resolvers := map[session.Type]resolver{
		session.TypeAwsIamUser:          &iamUserResolver{core: c},
		session.TypeAwsIamRoleFederated: &federatedResolver{core: c},
		session.TypeAwsIamRoleChained:   &chainedResolver{core: c},
		session.TypeAwsSsoRole:          &ssoRoleResolver{core: c},
		session.TypeAzure:               &azureResolver{core: c},
	}
	c.resolverFor = func(t session.Type) (resolver, error) {
		r, ok := resolvers[t]
		if !ok {
			return nil, crederrors.UnsupportedSessionTypeError{Type: string(t)}
		}
		return r, nil
	}

	services := make(map[session.Type]SessionService, len(resolvers))
	for t := range resolvers {
		services[t] = &strategy{core: c}
	}
	return &Factory{core: c, services: services}, nil
}

// ServiceFor returns the strategy for a session type. A nil or zero-value
// factory reports NotInitializedError instead of panicking.
func (f *Factory) ServiceFor(t session.Type) (SessionService, error) {
	if f == nil || f.services == nil {
		return nil, crederrors.NotInitializedError{Component: "session service factory"}
	}
	svc, ok := f.services[t]
	if !ok {
		return nil, crederrors.UnsupportedSessionTypeError{Type: string(t)}
	}
	return svc, nil
}

// ServiceForSession looks the session up and dispatches on its type.
func (f *Factory) ServiceForSession(id string) (SessionService, session.Session, error) {
	if f == nil || f.core == nil {
		return nil, session.Session{}, crederrors.NotInitializedError{Component: "session service factory"}
	}
	s, err := f.core.deps.Repo.Session(id)
	if err != nil {
		return nil, session.Session{}, err
	}
	svc, err := f.ServiceFor(s.Type)
	if err != nil {
		return nil, session.Session{}, err
	}
	return svc, s, nil
}

// Secrets exposes the wired secret store so callers managing session
// records (the CLI's add command) can file key material alongside them.
func (f *Factory) Secrets() keystore.Store {
	if f == nil || f.core == nil {
		return nil
	}
	return f.core.deps.Secrets
}

// Expiration reports when a session's resolved credentials lapse. ok is
// false when the session holds no live credentials or they never expire.
func (f *Factory) Expiration(id string) (time.Time, bool) {
	if f == nil || f.core == nil {
		return time.Time{}, false
	}
	res, ok := f.core.getCreds(id)
	if !ok || res.expiresAt.IsZero() {
		return time.Time{}, false
	}
	return res.expiresAt, true
}

func durationSeconds(d time.Duration) *int32 {
	secs := int32(d / time.Second)
	return &secs
}

func requireString(p *string, provider, operation, field string) (string, error) {
	if p == nil || *p == "" {
		return "", crederrors.ProviderCallError{
			Provider:  provider,
			Operation: operation,
			Err:       fmt.Errorf("response missing %s", field),
		}
	}
	return *p, nil
}
