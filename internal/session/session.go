// Package session defines the session data model: a named way of obtaining
// cloud credentials. A session carries a variant tag plus exactly one
// variant-specific payload; behavior for each variant lives in the service
// package and is resolved through the session factory.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type tags the acquisition variant of a session.
type Type string

const (
	TypeAwsIamUser          Type = "awsIamUser"
	TypeAwsIamRoleFederated Type = "awsIamRoleFederated"
	TypeAwsIamRoleChained   Type = "awsIamRoleChained"
	TypeAwsSsoRole          Type = "awsSsoRole"
	TypeAzure               Type = "azure"
)

// Types lists every known session type in display order.
func Types() []Type {
	return []Type{
		TypeAwsIamUser,
		TypeAwsIamRoleFederated,
		TypeAwsIamRoleChained,
		TypeAwsSsoRole,
		TypeAzure,
	}
}

// AssumableTypes lists the variants whose credentials can serve as the
// parent of a chained session.
func AssumableTypes() []Type {
	return []Type{
		TypeAwsIamUser,
		TypeAwsIamRoleFederated,
		TypeAwsIamRoleChained,
		TypeAwsSsoRole,
	}
}

// IsAssumable reports whether sessions of type t can be a chained parent.
func IsAssumable(t Type) bool {
	for _, a := range AssumableTypes() {
		if a == t {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a session. Transitions follow
// inactive -> pending -> active; any failure drops back to inactive.
type Status int

const (
	StatusInactive Status = iota
	StatusPending
	StatusActive
)

func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalYAML stores statuses as their names so the workspace document
// stays readable and stable across releases.
func (s Status) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// UnmarshalYAML accepts the status names written by MarshalYAML.
func (s *Status) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	switch name {
	case "inactive", "":
		*s = StatusInactive
	case "pending":
		*s = StatusPending
	case "active":
		*s = StatusActive
	default:
		return fmt.Errorf("unknown session status '%s'", name)
	}
	return nil
}

// IamUserConfig configures a static-key IAM User session. The key pair
// itself lives in the secret store, never in the workspace document.
type IamUserConfig struct {
	ProfileID string `yaml:"profileId,omitempty"`
	MfaDevice string `yaml:"mfaDevice,omitempty"`
}

// FederatedConfig configures a SAML-federated role session.
type FederatedConfig struct {
	RoleArn   string `yaml:"roleArn"`
	IdpArn    string `yaml:"idpArn"`
	IdpURLID  string `yaml:"idpUrlId"`
	ProfileID string `yaml:"profileId,omitempty"`
}

// ChainedConfig configures a role session assumed with another
// session's credentials.
type ChainedConfig struct {
	RoleArn         string `yaml:"roleArn"`
	RoleSessionName string `yaml:"roleSessionName,omitempty"`
	ParentSessionID string `yaml:"parentSessionId"`
	ProfileID       string `yaml:"profileId,omitempty"`
}

// SsoRoleConfig configures a session resolved through the SSO portal.
type SsoRoleConfig struct {
	AccountID string `yaml:"accountId"`
	RoleName  string `yaml:"roleName"`
	PortalURL string `yaml:"portalUrl"`
	SsoRegion string `yaml:"ssoRegion"`
	ProfileID string `yaml:"profileId,omitempty"`
}

// AzureConfig configures an Azure session.
type AzureConfig struct {
	SubscriptionID string `yaml:"subscriptionId"`
	TenantID       string `yaml:"tenantId"`
}

// Session is the polymorphic session record. Exactly one variant payload
// matching Type must be set; Validate enforces this before the record is
// accepted into the workspace.
type Session struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Type   Type   `yaml:"type"`
	Status Status `yaml:"status"`
	Region string `yaml:"region,omitempty"`

	// StartDateTime and ExpirationTime record when the session was last
	// activated and when its resolved credentials lapse, as RFC 3339.
	// Only metadata lives here; the credentials themselves never touch
	// the workspace document. Empty ExpirationTime on an active session
	// means the credentials do not expire.
	StartDateTime  string `yaml:"startDateTime,omitempty"`
	ExpirationTime string `yaml:"expirationTime,omitempty"`

	IamUser   *IamUserConfig   `yaml:"iamUser,omitempty"`
	Federated *FederatedConfig `yaml:"federated,omitempty"`
	Chained   *ChainedConfig   `yaml:"chained,omitempty"`
	SsoRole   *SsoRoleConfig   `yaml:"ssoRole,omitempty"`
	Azure     *AzureConfig     `yaml:"azure,omitempty"`
}

// NewIamUser creates an inactive IAM User session.
func NewIamUser(name, region string, cfg IamUserConfig) Session {
	return Session{ID: uuid.NewString(), Name: name, Type: TypeAwsIamUser, Region: region, IamUser: &cfg}
}

// NewFederated creates an inactive IAM Role Federated session.
func NewFederated(name, region string, cfg FederatedConfig) Session {
	return Session{ID: uuid.NewString(), Name: name, Type: TypeAwsIamRoleFederated, Region: region, Federated: &cfg}
}

// NewChained creates an inactive IAM Role Chained session.
func NewChained(name, region string, cfg ChainedConfig) Session {
	return Session{ID: uuid.NewString(), Name: name, Type: TypeAwsIamRoleChained, Region: region, Chained: &cfg}
}

// NewSsoRole creates an inactive SSO Role session.
func NewSsoRole(name, region string, cfg SsoRoleConfig) Session {
	return Session{ID: uuid.NewString(), Name: name, Type: TypeAwsSsoRole, Region: region, SsoRole: &cfg}
}

// NewAzure creates an inactive Azure session. Region holds the location.
func NewAzure(name, location string, cfg AzureConfig) Session {
	return Session{ID: uuid.NewString(), Name: name, Type: TypeAzure, Region: location, Azure: &cfg}
}

// Expiration parses the recorded credential expiration. ok is false when
// no expiration is recorded or the recorded value does not parse.
func (s Session) Expiration() (time.Time, bool) {
	if s.ExpirationTime == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s.ExpirationTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// NeverExpires reports whether the session's materialized credentials stay
// valid until revoked, so there is nothing to rotate. Only static IAM user
// keys without an MFA binding qualify; every other variant holds
// short-lived tokens.
func (s Session) NeverExpires() bool {
	return s.Type == TypeAwsIamUser && s.IamUser != nil && s.IamUser.MfaDevice == ""
}

// ProfileID returns the named profile reference for AWS variants, or ""
// for sessions materialized under the default profile.
func (s Session) ProfileID() string {
	switch s.Type {
	case TypeAwsIamUser:
		if s.IamUser != nil {
			return s.IamUser.ProfileID
		}
	case TypeAwsIamRoleFederated:
		if s.Federated != nil {
			return s.Federated.ProfileID
		}
	case TypeAwsIamRoleChained:
		if s.Chained != nil {
			return s.Chained.ProfileID
		}
	case TypeAwsSsoRole:
		if s.SsoRole != nil {
			return s.SsoRole.ProfileID
		}
	}
	return ""
}

// Validate checks the variant payload matches the type tag and carries
// the fields that variant requires.
func (s Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session has no id")
	}
	if s.Name == "" {
		return fmt.Errorf("session '%s' has no name", s.ID)
	}

	payloads := 0
	for _, set := range []bool{s.IamUser != nil, s.Federated != nil, s.Chained != nil, s.SsoRole != nil, s.Azure != nil} {
		if set {
			payloads++
		}
	}
	if payloads != 1 {
		return fmt.Errorf("session '%s' must have exactly one variant payload, has %d", s.ID, payloads)
	}

	switch s.Type {
	case TypeAwsIamUser:
		if s.IamUser == nil {
			return fmt.Errorf("session '%s' typed %s is missing its payload", s.ID, s.Type)
		}
	case TypeAwsIamRoleFederated:
		if s.Federated == nil {
			return fmt.Errorf("session '%s' typed %s is missing its payload", s.ID, s.Type)
		}
		if s.Federated.RoleArn == "" || s.Federated.IdpArn == "" || s.Federated.IdpURLID == "" {
			return fmt.Errorf("session '%s' requires roleArn, idpArn and idpUrlId", s.ID)
		}
	case TypeAwsIamRoleChained:
		if s.Chained == nil {
			return fmt.Errorf("session '%s' typed %s is missing its payload", s.ID, s.Type)
		}
		if s.Chained.RoleArn == "" || s.Chained.ParentSessionID == "" {
			return fmt.Errorf("session '%s' requires roleArn and parentSessionId", s.ID)
		}
		if s.Chained.ParentSessionID == s.ID {
			return fmt.Errorf("session '%s' cannot be its own parent", s.ID)
		}
	case TypeAwsSsoRole:
		if s.SsoRole == nil {
			return fmt.Errorf("session '%s' typed %s is missing its payload", s.ID, s.Type)
		}
		if s.SsoRole.AccountID == "" || s.SsoRole.RoleName == "" || s.SsoRole.PortalURL == "" {
			return fmt.Errorf("session '%s' requires accountId, roleName and portalUrl", s.ID)
		}
	case TypeAzure:
		if s.Azure == nil {
			return fmt.Errorf("session '%s' typed %s is missing its payload", s.ID, s.Type)
		}
		if s.Azure.SubscriptionID == "" || s.Azure.TenantID == "" {
			return fmt.Errorf("session '%s' requires subscriptionId and tenantId", s.ID)
		}
	default:
		return fmt.Errorf("session '%s' has unknown type '%s'", s.ID, s.Type)
	}
	return nil
}

// TypeLabel returns the human-readable label used in listings.
func TypeLabel(t Type) string {
	switch t {
	case TypeAwsIamUser:
		return "IAM User"
	case TypeAwsIamRoleFederated:
		return "IAM Role Federated"
	case TypeAwsIamRoleChained:
		return "IAM Role Chained"
	case TypeAwsSsoRole:
		return "AWS Single Sign-On"
	case TypeAzure:
		return "Azure"
	default:
		return string(t)
	}
}
