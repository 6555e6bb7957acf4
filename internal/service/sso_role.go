package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/systmms/credops/internal/credfile"
	crederrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/keystore"
	"github.com/systmms/credops/internal/session"
	"github.com/systmms/credops/internal/ssoflow"
)

// storedToken is the keystore form of a portal access token.
type storedToken struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ssoRoleResolver materializes an SSO Role session through the portal. A
// still-valid portal token is reused from the keystore; otherwise the
// device-authorization flow runs and its token is persisted for the next
// session sharing the portal.
type ssoRoleResolver struct {
	core *core
}

func (r *ssoRoleResolver) Resolve(ctx context.Context, s session.Session, _ map[string]bool) (resolved, error) {
	if r.core.deps.Portal == nil {
		return resolved{}, crederrors.NotInitializedError{Component: "sso portal client"}
	}

	ws, err := r.core.deps.Repo.Load()
	if err != nil {
		return resolved{}, err
	}
	profile := ws.ProfileName(s)

	token, fromStore := r.loadToken(s.ID)
	if !token.Valid(time.Now()) {
		token, err = r.login(ctx, s)
		if err != nil {
			return resolved{}, err
		}
		fromStore = false
	}

	creds, err := r.core.deps.Portal.RoleCredentials(ctx, token, s.SsoRole.AccountID, s.SsoRole.RoleName)
	if err != nil && fromStore && !crederrors.IsTransient(err) {
		// The persisted token may have been revoked portal-side. Discard
		// it and run the device flow once before giving up.
		r.core.deps.Logger.Warn("stored portal token rejected, re-authenticating: %v", err)
		r.core.deps.Portal.InvalidateToken(s.SsoRole.PortalURL)
		r.dropToken(s.ID)
		token, err = r.login(ctx, s)
		if err != nil {
			return resolved{}, err
		}
		creds, err = r.core.deps.Portal.RoleCredentials(ctx, token, s.SsoRole.AccountID, s.SsoRole.RoleName)
	}
	if err != nil {
		return resolved{}, err
	}

	return resolved{
		entry:           credfile.AWSEntry(profile, creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken, s.Region),
		accessKeyID:     creds.AccessKeyID,
		secretAccessKey: creds.SecretAccessKey,
		sessionToken:    creds.SessionToken,
		expiresAt:       creds.Expiration,
	}, nil
}

func (r *ssoRoleResolver) login(ctx context.Context, s session.Session) (ssoflow.Token, error) {
	token, err := r.core.deps.Portal.Login(ctx, s.SsoRole.PortalURL)
	if err != nil {
		return ssoflow.Token{}, err
	}
	r.saveToken(s.ID, token)
	return token, nil
}

func (r *ssoRoleResolver) loadToken(sessionID string) (ssoflow.Token, bool) {
	raw, err := r.core.deps.Secrets.Get(keystore.Key(sessionID, keystore.RoleSsoAccessToken))
	if err != nil {
		return ssoflow.Token{}, false
	}
	var st storedToken
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		r.core.deps.Logger.Warn("discarding unreadable stored portal token: %v", err)
		return ssoflow.Token{}, false
	}
	return ssoflow.Token{AccessToken: st.AccessToken, ExpiresAt: st.ExpiresAt}, true
}

func (r *ssoRoleResolver) saveToken(sessionID string, token ssoflow.Token) {
	raw, err := json.Marshal(storedToken{AccessToken: token.AccessToken, ExpiresAt: token.ExpiresAt})
	if err != nil {
		return
	}
	if err := r.core.deps.Secrets.Set(keystore.Key(sessionID, keystore.RoleSsoAccessToken), string(raw)); err != nil {
		r.core.deps.Logger.Warn("could not persist portal token: %v", err)
	}
}

func (r *ssoRoleResolver) dropToken(sessionID string) {
	err := r.core.deps.Secrets.Delete(keystore.Key(sessionID, keystore.RoleSsoAccessToken))
	if err != nil && !crederrors.IsSecretNotFound(err) {
		r.core.deps.Logger.Warn("could not delete stored portal token: %v", err)
	}
}
