package service

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"

	"github.com/systmms/credops/internal/credfile"
	crederrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/keystore"
	"github.com/systmms/credops/internal/session"
)

// azureScope is the resource scope requested for Azure management tokens.
const azureScope = "https://management.azure.com/.default"

// azureResolver materializes an Azure session with a device-code login
// against the session's tenant. The issued token is kept in the keystore so
// other tooling on the machine can pick it up without a second login.
type azureResolver struct {
	core *core
}

func (r *azureResolver) Resolve(ctx context.Context, s session.Session, _ map[string]bool) (resolved, error) {
	if r.core.deps.AzureCreds == nil {
		return resolved{}, crederrors.NotInitializedError{Component: "azure credential factory"}
	}

	cred, err := r.core.deps.AzureCreds(s.Azure.TenantID)
	if err != nil {
		return resolved{}, err
	}

	token, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{azureScope}})
	if err != nil {
		return resolved{}, classify("azure", "get-token", err)
	}

	key := keystore.Key(s.ID, keystore.RoleAzureToken)
	if err := r.core.deps.Secrets.Set(key, token.Token); err != nil {
		r.core.deps.Logger.Warn("could not persist azure token: %v", err)
	}

	return resolved{
		entry: credfile.AzureEntry(s.Name, s.Azure.SubscriptionID, s.Azure.TenantID,
			token.Token, token.ExpiresOn.Format(time.RFC3339)),
		azure:     true,
		expiresAt: token.ExpiresOn,
	}, nil
}
