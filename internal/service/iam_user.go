package service

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"

	"github.com/systmms/credops/internal/credfile"
	crederrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/keystore"
	"github.com/systmms/credops/internal/secure"
	"github.com/systmms/credops/internal/session"
)

// sessionTokenDuration is the validity requested for temporary AWS
// credentials across all variants.
const sessionTokenDuration = time.Hour

// iamUserResolver materializes an IAM User session from the long-lived key
// pair held in the keystore. With an MFA device configured it trades the
// pair for temporary credentials through sts:GetSessionToken; without one
// the static pair is written as-is and never expires.
type iamUserResolver struct {
	core *core
}

func (r *iamUserResolver) Resolve(ctx context.Context, s session.Session, _ map[string]bool) (resolved, error) {
	ws, err := r.core.deps.Repo.Load()
	if err != nil {
		return resolved{}, err
	}
	profile := ws.ProfileName(s)

	accessKeyID, err := r.core.deps.Secrets.Get(keystore.Key(s.ID, keystore.RoleAccessKeyID))
	if err != nil {
		return resolved{}, err
	}
	secretValue, err := r.core.deps.Secrets.Get(keystore.Key(s.ID, keystore.RoleSecretAccessKey))
	if err != nil {
		return resolved{}, err
	}
	sealed := secure.Seal(secretValue)
	defer sealed.Wipe()

	if s.IamUser.MfaDevice == "" {
		secretAccessKey, err := sealed.String()
		if err != nil {
			return resolved{}, err
		}
		return resolved{
			entry:           credfile.AWSEntry(profile, accessKeyID, secretAccessKey, "", s.Region),
			accessKeyID:     accessKeyID,
			secretAccessKey: secretAccessKey,
		}, nil
	}

	if r.core.deps.MFAPrompt == nil {
		return resolved{}, crederrors.NotInitializedError{Component: "mfa token prompt"}
	}
	if r.core.deps.STS == nil {
		return resolved{}, crederrors.NotInitializedError{Component: "sts client factory"}
	}

	tokenCode, err := r.core.deps.MFAPrompt(ctx, s.IamUser.MfaDevice)
	if err != nil {
		return resolved{}, err
	}

	secretAccessKey, err := sealed.String()
	if err != nil {
		return resolved{}, err
	}
	client, err := r.core.deps.STS.Static(ctx, s.Region, accessKeyID, secretAccessKey, "")
	if err != nil {
		return resolved{}, err
	}

	var out *sts.GetSessionTokenOutput
	err = withRetry(ctx, r.core.deps.Logger, func() error {
		var callErr error
		out, callErr = client.GetSessionToken(ctx, &sts.GetSessionTokenInput{
			SerialNumber:    aws.String(s.IamUser.MfaDevice),
			TokenCode:       aws.String(tokenCode),
			DurationSeconds: durationSeconds(sessionTokenDuration),
		})
		if callErr != nil {
			return classify("sts", "get-session-token", callErr)
		}
		return nil
	})
	if err != nil {
		return resolved{}, err
	}

	return credentialsToResolved(profile, s.Region, out.Credentials)
}

// credentialsToResolved converts an STS credential set into the internal
// resolved form shared by the AWS strategies.
func credentialsToResolved(profile, region string, c *ststypes.Credentials) (resolved, error) {
	if c == nil {
		return resolved{}, crederrors.ProviderCallError{Provider: "sts", Operation: "credentials", Err: errEmptyCredentials}
	}
	accessKeyID, err := requireString(c.AccessKeyId, "sts", "credentials", "access key id")
	if err != nil {
		return resolved{}, err
	}
	secretAccessKey, err := requireString(c.SecretAccessKey, "sts", "credentials", "secret access key")
	if err != nil {
		return resolved{}, err
	}
	sessionToken, err := requireString(c.SessionToken, "sts", "credentials", "session token")
	if err != nil {
		return resolved{}, err
	}
	var expiresAt time.Time
	if c.Expiration != nil {
		expiresAt = *c.Expiration
	}
	return resolved{
		entry:           credfile.AWSEntry(profile, accessKeyID, secretAccessKey, sessionToken, region),
		accessKeyID:     accessKeyID,
		secretAccessKey: secretAccessKey,
		sessionToken:    sessionToken,
		expiresAt:       expiresAt,
	}, nil
}
