// Package workspace owns the single persisted document holding every
// session, named profile and identity-provider URL, plus display metadata.
// All mutation goes through the Repository as full-document
// read-modify-write; no partial updates are exposed.
package workspace

import (
	"github.com/google/uuid"

	"github.com/systmms/credops/internal/session"
)

// DefaultProfileName is the profile sessions materialize into when they
// reference no named profile.
const DefaultProfileName = "default"

func newID() string {
	return uuid.NewString()
}

// NamedProfile labels the credential-file block one or more sessions
// materialize into.
type NamedProfile struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// IdpURL is a SAML identity-provider URL referenced by federated sessions.
type IdpURL struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// ProxyConfig configures the outbound proxy for identity-provider calls.
type ProxyConfig struct {
	Protocol string `yaml:"protocol,omitempty"`
	URL      string `yaml:"url,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Username string `yaml:"username,omitempty"`
}

// Segment is a display grouping of sessions. It has no effect on
// correctness; front ends use it to fold listings.
type Segment struct {
	Name       string   `yaml:"name"`
	SessionIDs []string `yaml:"sessionIds,omitempty"`
}

// Workspace is the root aggregate. Exactly one exists per machine.
type Workspace struct {
	Sessions        []session.Session `yaml:"sessions"`
	Profiles        []NamedProfile    `yaml:"profiles"`
	IdpURLs         []IdpURL          `yaml:"idpUrls"`
	Proxy           ProxyConfig       `yaml:"proxy,omitempty"`
	PinnedIDs       []string          `yaml:"pinned,omitempty"`
	Segments        []Segment         `yaml:"segments,omitempty"`
	DefaultRegion   string            `yaml:"defaultRegion,omitempty"`
	DefaultLocation string            `yaml:"defaultLocation,omitempty"`
}

// Default returns the workspace persisted on first run: empty except for
// the default named profile.
func Default() *Workspace {
	return &Workspace{
		Sessions: []session.Session{},
		Profiles: []NamedProfile{
			{ID: uuid.NewString(), Name: DefaultProfileName},
		},
		IdpURLs:         []IdpURL{},
		DefaultRegion:   "us-east-1",
		DefaultLocation: "eastus",
	}
}

// Session returns the session with the given id.
func (w *Workspace) Session(id string) (session.Session, bool) {
	for _, s := range w.Sessions {
		if s.ID == id {
			return s, true
		}
	}
	return session.Session{}, false
}

// Profile returns the named profile with the given id.
func (w *Workspace) Profile(id string) (NamedProfile, bool) {
	for _, p := range w.Profiles {
		if p.ID == id {
			return p, true
		}
	}
	return NamedProfile{}, false
}

// IdpURL returns the identity-provider URL with the given id.
func (w *Workspace) IdpURL(id string) (IdpURL, bool) {
	for _, u := range w.IdpURLs {
		if u.ID == id {
			return u, true
		}
	}
	return IdpURL{}, false
}

// ActiveSessions returns the sessions currently materialized.
func (w *Workspace) ActiveSessions() []session.Session {
	var active []session.Session
	for _, s := range w.Sessions {
		if s.Status == session.StatusActive {
			active = append(active, s)
		}
	}
	return active
}

// ChildrenOf returns the chained sessions whose parent is id.
func (w *Workspace) ChildrenOf(id string) []session.Session {
	var children []session.Session
	for _, s := range w.Sessions {
		if s.Type == session.TypeAwsIamRoleChained && s.Chained != nil && s.Chained.ParentSessionID == id {
			children = append(children, s)
		}
	}
	return children
}

// DescendantsOf returns every chained session transitively depending on id,
// deepest first, so cascade deletion can remove leaves before parents.
func (w *Workspace) DescendantsOf(id string) []session.Session {
	var out []session.Session
	for _, child := range w.ChildrenOf(id) {
		out = append(out, w.DescendantsOf(child.ID)...)
		out = append(out, child)
	}
	return out
}

// ProfileName resolves a session's materialization profile, falling back to
// the default profile name when the session references none.
func (w *Workspace) ProfileName(s session.Session) string {
	if id := s.ProfileID(); id != "" {
		if p, ok := w.Profile(id); ok {
			return p.Name
		}
	}
	return DefaultProfileName
}

// ProfileChoices implements session.CatalogView.
func (w *Workspace) ProfileChoices() []session.FieldChoice {
	choices := make([]session.FieldChoice, 0, len(w.Profiles))
	for _, p := range w.Profiles {
		choices = append(choices, session.FieldChoice{Label: p.Name, Value: p.ID})
	}
	return choices
}

// IdpURLChoices implements session.CatalogView.
func (w *Workspace) IdpURLChoices() []session.FieldChoice {
	choices := make([]session.FieldChoice, 0, len(w.IdpURLs))
	for _, u := range w.IdpURLs {
		choices = append(choices, session.FieldChoice{Label: u.URL, Value: u.ID})
	}
	return choices
}

// AssumableSessionChoices implements session.CatalogView.
func (w *Workspace) AssumableSessionChoices() []session.FieldChoice {
	var choices []session.FieldChoice
	for _, s := range w.Sessions {
		if session.IsAssumable(s.Type) {
			choices = append(choices, session.FieldChoice{Label: s.Name, Value: s.ID})
		}
	}
	return choices
}
