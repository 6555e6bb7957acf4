package errors

import (
	"errors"
	"fmt"
	"strings"
)

// UserError carries a message meant for the terminal, with an optional
// suggestion and details block. CLI commands return it for misuse that the
// user can fix themselves.
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  Suggestion: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error { return e.Err }

// WorkspaceParseError indicates the persisted workspace document could not
// be parsed. The document is never silently dropped or recreated; callers
// are expected to offer a repair or migration path.
type WorkspaceParseError struct {
	Path    string
	Message string
	Err     error
}

func (e WorkspaceParseError) Error() string {
	msg := "failed to parse workspace document"
	if e.Path != "" {
		msg += fmt.Sprintf(" '%s'", e.Path)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e WorkspaceParseError) Unwrap() error {
	return e.Err
}

// SecretNotFoundError indicates a secret is absent from the store. The user
// should be asked to re-enter it; the store itself is healthy.
type SecretNotFoundError struct {
	Key string
}

func (e SecretNotFoundError) Error() string {
	return fmt.Sprintf("secret '%s' not found", e.Key)
}

// SecretStoreUnavailableError indicates the secret store itself failed.
// Distinct from SecretNotFoundError so callers can tell "ask the user again"
// apart from "storage broken".
type SecretStoreUnavailableError struct {
	Op  string
	Err error
}

func (e SecretStoreUnavailableError) Error() string {
	msg := "secret store unavailable"
	if e.Op != "" {
		msg += " during " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e SecretStoreUnavailableError) Unwrap() error {
	return e.Err
}

// ProviderCallError wraps a failure talking to an identity provider
// (STS, SSO OIDC, Azure device login). Transient marks network-class
// failures that are safe to retry with bounded backoff; credential
// rejections are never transient.
type ProviderCallError struct {
	Provider  string
	Operation string
	Transient bool
	Err       error
}

func (e ProviderCallError) Error() string {
	msg := fmt.Sprintf("%s call '%s' failed", e.Provider, e.Operation)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e ProviderCallError) Unwrap() error {
	return e.Err
}

// CyclicSessionDependencyError indicates a chained session's parent chain
// loops back on itself.
type CyclicSessionDependencyError struct {
	SessionID string
	Chain     []string
}

func (e CyclicSessionDependencyError) Error() string {
	msg := fmt.Sprintf("cyclic dependency detected for session '%s'", e.SessionID)
	if len(e.Chain) > 0 {
		msg += ": " + strings.Join(e.Chain, " -> ")
	}
	return msg
}

// DeviceAuthorizationFailedError indicates the device-authorization grant
// ended without a token: the user denied the request or the device code
// expired before approval. The scheduler never retries this automatically.
type DeviceAuthorizationFailedError struct {
	PortalURL string
	Reason    string
}

func (e DeviceAuthorizationFailedError) Error() string {
	msg := "device authorization failed"
	if e.PortalURL != "" {
		msg += " for " + e.PortalURL
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// UnsupportedSessionTypeError indicates a session type with no registered
// service. This is a programming or configuration error.
type UnsupportedSessionTypeError struct {
	Type string
}

func (e UnsupportedSessionTypeError) Error() string {
	return fmt.Sprintf("unsupported session type '%s'", e.Type)
}

// NotInitializedError indicates a component was used before its dependencies
// were wired. This is a programming error.
type NotInitializedError struct {
	Component string
}

func (e NotInitializedError) Error() string {
	if e.Component == "" {
		return "component used before initialization"
	}
	return fmt.Sprintf("%s used before initialization", e.Component)
}

// DependentSessionsError indicates a delete was attempted on a session that
// chained sessions still depend on, without confirming the cascade.
type DependentSessionsError struct {
	SessionID    string
	DependentIDs []string
}

func (e DependentSessionsError) Error() string {
	return fmt.Sprintf("session '%s' has %d dependent chained session(s): %s (confirm cascade to delete them)",
		e.SessionID, len(e.DependentIDs), strings.Join(e.DependentIDs, ", "))
}

// IsSecretNotFound reports whether err is a SecretNotFoundError.
func IsSecretNotFound(err error) bool {
	var target SecretNotFoundError
	return errors.As(err, &target)
}

// IsTransient reports whether err is a provider call failure worth retrying.
func IsTransient(err error) bool {
	var target ProviderCallError
	if errors.As(err, &target) {
		return target.Transient
	}
	return false
}

// IsDeviceAuthorizationFailed reports whether err is a terminal device-flow failure.
func IsDeviceAuthorizationFailed(err error) bool {
	var target DeviceAuthorizationFailedError
	return errors.As(err, &target)
}
