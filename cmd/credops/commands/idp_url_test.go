package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/credops/internal/session"
)

func TestIdpURLAddAndRemove(t *testing.T) {
	cfg := newTestConfig(t)

	add := newIdpURLAddCommand(cfg)
	add.SetArgs([]string{"https://idp.example.com/saml"})
	require.NoError(t, add.Execute())

	repo, err := openRepository(cfg)
	require.NoError(t, err)
	ws, err := repo.Load()
	require.NoError(t, err)
	require.Len(t, ws.IdpURLs, 1)

	remove := newIdpURLRemoveCommand(cfg)
	remove.SetArgs([]string{"https://idp.example.com/saml"})
	require.NoError(t, remove.Execute())

	ws, err = repo.Load()
	require.NoError(t, err)
	assert.Empty(t, ws.IdpURLs)
}

func TestIdpURLRemoveReferencedFails(t *testing.T) {
	cfg := newTestConfig(t)
	repo, err := openRepository(cfg)
	require.NoError(t, err)

	idp, err := repo.AddIdpURL("https://idp.example.com/saml")
	require.NoError(t, err)
	s := session.NewFederated("fed", "eu-west-1", session.FederatedConfig{
		RoleArn:  "arn:aws:iam::1:role/fed",
		IdpArn:   "arn:aws:iam::1:saml-provider/corp",
		IdpURLID: idp.ID,
	})
	require.NoError(t, repo.AddSession(s))

	remove := newIdpURLRemoveCommand(cfg)
	remove.SetArgs([]string{idp.ID})
	assert.Error(t, remove.Execute())
}
