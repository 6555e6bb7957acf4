package service

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	crederrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/session"
)

// federatedResolver materializes a SAML-federated role session. The
// assertion comes from the configured identity provider URL through the
// pluggable AssertionProvider; the exchange itself is an unsigned
// sts:AssumeRoleWithSAML call.
type federatedResolver struct {
	core *core
}

func (r *federatedResolver) Resolve(ctx context.Context, s session.Session, _ map[string]bool) (resolved, error) {
	if r.core.deps.Assertions == nil {
		return resolved{}, crederrors.NotInitializedError{Component: "saml assertion provider"}
	}
	if r.core.deps.STS == nil {
		return resolved{}, crederrors.NotInitializedError{Component: "sts client factory"}
	}

	ws, err := r.core.deps.Repo.Load()
	if err != nil {
		return resolved{}, err
	}
	profile := ws.ProfileName(s)

	idp, ok := ws.IdpURL(s.Federated.IdpURLID)
	if !ok {
		return resolved{}, fmt.Errorf("session '%s' references unknown identity provider url '%s'", s.Name, s.Federated.IdpURLID)
	}

	assertion, err := r.core.deps.Assertions.Assertion(ctx, idp.URL)
	if err != nil {
		return resolved{}, classify("saml-idp", "assertion", err)
	}

	client, err := r.core.deps.STS.Anonymous(ctx, s.Region)
	if err != nil {
		return resolved{}, err
	}

	var out *sts.AssumeRoleWithSAMLOutput
	err = withRetry(ctx, r.core.deps.Logger, func() error {
		var callErr error
		out, callErr = client.AssumeRoleWithSAML(ctx, &sts.AssumeRoleWithSAMLInput{
			RoleArn:         aws.String(s.Federated.RoleArn),
			PrincipalArn:    aws.String(s.Federated.IdpArn),
			SAMLAssertion:   aws.String(assertion),
			DurationSeconds: durationSeconds(sessionTokenDuration),
		})
		if callErr != nil {
			return classify("sts", "assume-role-with-saml", callErr)
		}
		return nil
	})
	if err != nil {
		return resolved{}, err
	}

	return credentialsToResolved(profile, s.Region, out.Credentials)
}
