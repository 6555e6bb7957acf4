// Package keystore stores session secrets (static access keys, SSO portal
// tokens, device-login artifacts) in the OS keyring, outside the plaintext
// workspace document. Keys follow the {sessionId}-{role} convention so
// deleting one session's secrets never touches another's.
package keystore

import (
	"errors"

	"github.com/zalando/go-keyring"

	crederrors "github.com/systmms/credops/internal/errors"
)

// ServiceName is the keyring service every secret is filed under. External
// tools interoperate by using the same service and key convention.
const ServiceName = "credops"

// Secret key roles appended to the session id.
const (
	RoleAccessKeyID     = "aws-iam-user-access-key-id"
	RoleSecretAccessKey = "aws-iam-user-secret-access-key"
	RoleSsoAccessToken  = "sso-access-token"
	RoleAzureToken      = "azure-refresh-token"
)

// Key builds the store key for a session secret.
func Key(sessionID, role string) string {
	return sessionID + "-" + role
}

// Store is the secret store contract used by session services.
type Store interface {
	Set(key, value string) error
	Get(key string) (string, error)
	Delete(key string) error
}

// client mirrors the go-keyring operations the store needs. Injectable so
// tests run without an OS keyring.
type client interface {
	Set(service, user, password string) error
	Get(service, user string) (string, error)
	Delete(service, user string) error
}

type systemClient struct{}

func (systemClient) Set(service, user, password string) error { return keyring.Set(service, user, password) }
func (systemClient) Get(service, user string) (string, error) { return keyring.Get(service, user) }
func (systemClient) Delete(service, user string) error        { return keyring.Delete(service, user) }

// KeyringStore stores secrets in the OS keyring (macOS Keychain, Linux
// Secret Service, Windows Credential Manager).
type KeyringStore struct {
	service string
	client  client
}

// New creates a store backed by the OS keyring.
func New() *KeyringStore {
	return &KeyringStore{service: ServiceName, client: systemClient{}}
}

// NewWithClient creates a store with a custom keyring client. For tests.
func NewWithClient(c client) *KeyringStore {
	return &KeyringStore{service: ServiceName, client: c}
}

// Set stores a secret value.
func (s *KeyringStore) Set(key, value string) error {
	if err := s.client.Set(s.service, key, value); err != nil {
		return crederrors.SecretStoreUnavailableError{Op: "set", Err: err}
	}
	return nil
}

// Get retrieves a secret value. A missing key yields SecretNotFoundError;
// any other failure yields SecretStoreUnavailableError.
func (s *KeyringStore) Get(key string) (string, error) {
	value, err := s.client.Get(s.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", crederrors.SecretNotFoundError{Key: key}
		}
		return "", crederrors.SecretStoreUnavailableError{Op: "get", Err: err}
	}
	return value, nil
}

// Delete removes a secret. Deleting an absent key yields SecretNotFoundError
// so callers can treat it as already done.
func (s *KeyringStore) Delete(key string) error {
	if err := s.client.Delete(s.service, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return crederrors.SecretNotFoundError{Key: key}
		}
		return crederrors.SecretStoreUnavailableError{Op: "delete", Err: err}
	}
	return nil
}
