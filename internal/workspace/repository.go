package workspace

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	crederrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/logging"
	"github.com/systmms/credops/internal/session"
)

// DefaultPath returns the workspace document location under the user's home.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".credops", "workspace.yaml"), nil
}

// Repository persists the workspace document. Every mutator loads the
// current document, applies one change and writes the whole document back.
// Writes are atomic (temp file and rename); concurrent processes get
// last-writer-wins, which is accepted for a single-user tool. Within the
// process a mutex serializes the read-modify-write cycles, so concurrent
// rotations cannot drop each other's status updates.
type Repository struct {
	mu     sync.Mutex
	path   string
	logger *logging.Logger
}

// NewRepository creates a repository persisting at path.
func NewRepository(path string, logger *logging.Logger) *Repository {
	return &Repository{path: path, logger: logger}
}

// Load parses the persisted document. A missing file yields a freshly
// persisted default workspace; a malformed file yields WorkspaceParseError
// and is never silently replaced.
func (r *Repository) Load() (*Workspace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

func (r *Repository) load() (*Workspace, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			ws := Default()
			if err := r.save(ws); err != nil {
				return nil, err
			}
			r.logger.Debug("created default workspace at %s", r.path)
			return ws, nil
		}
		return nil, fmt.Errorf("failed to read workspace document: %w", err)
	}

	var ws Workspace
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&ws); err != nil {
		return nil, crederrors.WorkspaceParseError{
			Path:    r.path,
			Message: "document is not valid workspace YAML",
			Err:     err,
		}
	}
	return &ws, nil
}

// Save replaces the persisted document with ws. The write goes to a
// temporary file in the same directory followed by a rename so readers
// never observe a partial document.
func (r *Repository) Save(ws *Workspace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save(ws)
}

func (r *Repository) save(ws *Workspace) error {
	data, err := yaml.Marshal(ws)
	if err != nil {
		return fmt.Errorf("failed to serialize workspace: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".workspace-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp workspace file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write workspace: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to set workspace permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp workspace file: %w", err)
	}

	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace workspace document: %w", err)
	}
	return nil
}

// AddSession validates s and its references and appends it.
func (r *Repository) AddSession(s session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := s.Validate(); err != nil {
		return err
	}

	ws, err := r.load()
	if err != nil {
		return err
	}

	if _, exists := ws.Session(s.ID); exists {
		return fmt.Errorf("session '%s' already exists", s.ID)
	}
	if err := checkReferences(ws, s); err != nil {
		return err
	}

	ws.Sessions = append(ws.Sessions, s)
	return r.save(ws)
}

// UpdateSession replaces the stored session with the same id.
func (r *Repository) UpdateSession(s session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := s.Validate(); err != nil {
		return err
	}

	ws, err := r.load()
	if err != nil {
		return err
	}

	for i := range ws.Sessions {
		if ws.Sessions[i].ID == s.ID {
			if err := checkReferences(ws, s); err != nil {
				return err
			}
			ws.Sessions[i] = s
			return r.save(ws)
		}
	}
	return fmt.Errorf("session '%s' not found", s.ID)
}

// RemoveSession removes the session with the given id. Chained dependents
// are the caller's concern (the session service enforces cascade policy).
func (r *Repository) RemoveSession(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ws, err := r.load()
	if err != nil {
		return err
	}

	for i := range ws.Sessions {
		if ws.Sessions[i].ID == id {
			ws.Sessions = append(ws.Sessions[:i], ws.Sessions[i+1:]...)
			ws.PinnedIDs = removeString(ws.PinnedIDs, id)
			return r.save(ws)
		}
	}
	return fmt.Errorf("session '%s' not found", id)
}

// SetSessionStatus transitions the stored session to status. Leaving the
// active state clears the recorded activation metadata, so a stopped or
// failed session never advertises a stale expiration.
func (r *Repository) SetSessionStatus(id string, status session.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ws, err := r.load()
	if err != nil {
		return err
	}

	for i := range ws.Sessions {
		if ws.Sessions[i].ID == id {
			ws.Sessions[i].Status = status
			if status != session.StatusActive {
				ws.Sessions[i].StartDateTime = ""
				ws.Sessions[i].ExpirationTime = ""
			}
			return r.save(ws)
		}
	}
	return fmt.Errorf("session '%s' not found", id)
}

// ActivateSession marks the session active and records when it started and
// when its resolved credentials lapse. A zero expiresAt records no
// expiration, meaning the credentials stay valid until revoked. The
// timestamps are the only credential metadata persisted; other processes
// (the rotation daemon in particular) read them to decide when a session
// is due.
func (r *Repository) ActivateSession(id string, startedAt, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ws, err := r.load()
	if err != nil {
		return err
	}

	for i := range ws.Sessions {
		if ws.Sessions[i].ID == id {
			ws.Sessions[i].Status = session.StatusActive
			ws.Sessions[i].StartDateTime = startedAt.UTC().Format(time.RFC3339)
			if expiresAt.IsZero() {
				ws.Sessions[i].ExpirationTime = ""
			} else {
				ws.Sessions[i].ExpirationTime = expiresAt.UTC().Format(time.RFC3339)
			}
			return r.save(ws)
		}
	}
	return fmt.Errorf("session '%s' not found", id)
}

// Session returns one session by id.
func (r *Repository) Session(id string) (session.Session, error) {
	ws, err := r.Load()
	if err != nil {
		return session.Session{}, err
	}
	s, ok := ws.Session(id)
	if !ok {
		return session.Session{}, fmt.Errorf("session '%s' not found", id)
	}
	return s, nil
}

// Sessions returns all sessions in display order.
func (r *Repository) Sessions() ([]session.Session, error) {
	ws, err := r.Load()
	if err != nil {
		return nil, err
	}
	return ws.Sessions, nil
}

// ActiveSessions returns the sessions currently materialized.
func (r *Repository) ActiveSessions() ([]session.Session, error) {
	ws, err := r.Load()
	if err != nil {
		return nil, err
	}
	return ws.ActiveSessions(), nil
}

// AddProfile appends a named profile with a fresh id and returns it.
func (r *Repository) AddProfile(name string) (NamedProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ws, err := r.load()
	if err != nil {
		return NamedProfile{}, err
	}

	for _, p := range ws.Profiles {
		if p.Name == name {
			return NamedProfile{}, fmt.Errorf("profile '%s' already exists", name)
		}
	}

	profile := NamedProfile{ID: newID(), Name: name}
	ws.Profiles = append(ws.Profiles, profile)
	if err := r.save(ws); err != nil {
		return NamedProfile{}, err
	}
	return profile, nil
}

// RemoveProfile removes an unreferenced named profile.
func (r *Repository) RemoveProfile(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ws, err := r.load()
	if err != nil {
		return err
	}

	for _, s := range ws.Sessions {
		if s.ProfileID() == id {
			return fmt.Errorf("profile is referenced by session '%s'", s.Name)
		}
	}

	for i := range ws.Profiles {
		if ws.Profiles[i].ID == id {
			ws.Profiles = append(ws.Profiles[:i], ws.Profiles[i+1:]...)
			return r.save(ws)
		}
	}
	return fmt.Errorf("profile '%s' not found", id)
}

// AddIdpURL appends an identity-provider URL with a fresh id and returns it.
func (r *Repository) AddIdpURL(url string) (IdpURL, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ws, err := r.load()
	if err != nil {
		return IdpURL{}, err
	}

	for _, u := range ws.IdpURLs {
		if u.URL == url {
			return IdpURL{}, fmt.Errorf("identity provider URL '%s' already exists", url)
		}
	}

	idp := IdpURL{ID: newID(), URL: url}
	ws.IdpURLs = append(ws.IdpURLs, idp)
	if err := r.save(ws); err != nil {
		return IdpURL{}, err
	}
	return idp, nil
}

// RemoveIdpURL removes an unreferenced identity-provider URL.
func (r *Repository) RemoveIdpURL(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ws, err := r.load()
	if err != nil {
		return err
	}

	for _, s := range ws.Sessions {
		if s.Type == session.TypeAwsIamRoleFederated && s.Federated != nil && s.Federated.IdpURLID == id {
			return fmt.Errorf("identity provider URL is referenced by session '%s'", s.Name)
		}
	}

	for i := range ws.IdpURLs {
		if ws.IdpURLs[i].ID == id {
			ws.IdpURLs = append(ws.IdpURLs[:i], ws.IdpURLs[i+1:]...)
			return r.save(ws)
		}
	}
	return fmt.Errorf("identity provider URL '%s' not found", id)
}

// PinSession marks a session pinned for display.
func (r *Repository) PinSession(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ws, err := r.load()
	if err != nil {
		return err
	}
	if _, ok := ws.Session(id); !ok {
		return fmt.Errorf("session '%s' not found", id)
	}
	for _, pinned := range ws.PinnedIDs {
		if pinned == id {
			return nil
		}
	}
	ws.PinnedIDs = append(ws.PinnedIDs, id)
	return r.save(ws)
}

// UnpinSession clears a session's pinned mark. Idempotent.
func (r *Repository) UnpinSession(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ws, err := r.load()
	if err != nil {
		return err
	}
	ws.PinnedIDs = removeString(ws.PinnedIDs, id)
	return r.save(ws)
}

// checkReferences verifies every entity reference of s resolves, and that a
// chained session does not introduce a parent cycle.
func checkReferences(ws *Workspace, s session.Session) error {
	if id := s.ProfileID(); id != "" {
		if _, ok := ws.Profile(id); !ok {
			return fmt.Errorf("session '%s' references unknown profile '%s'", s.Name, id)
		}
	}

	switch s.Type {
	case session.TypeAwsIamRoleFederated:
		if _, ok := ws.IdpURL(s.Federated.IdpURLID); !ok {
			return fmt.Errorf("session '%s' references unknown identity provider URL '%s'", s.Name, s.Federated.IdpURLID)
		}
	case session.TypeAwsIamRoleChained:
		parent, ok := ws.Session(s.Chained.ParentSessionID)
		if !ok {
			return fmt.Errorf("session '%s' references unknown parent session '%s'", s.Name, s.Chained.ParentSessionID)
		}
		if !session.IsAssumable(parent.Type) {
			return fmt.Errorf("parent session '%s' of type %s cannot be assumed from", parent.Name, parent.Type)
		}
		if err := checkNoCycle(ws, s); err != nil {
			return err
		}
	}
	return nil
}

// checkNoCycle walks the parent chain from s with a visited set. The stored
// chains form a DAG; the walk is bounded by the session count.
func checkNoCycle(ws *Workspace, s session.Session) error {
	visited := map[string]bool{s.ID: true}
	chain := []string{s.ID}

	current := s
	for current.Type == session.TypeAwsIamRoleChained && current.Chained != nil {
		parentID := current.Chained.ParentSessionID
		chain = append(chain, parentID)
		if visited[parentID] {
			return crederrors.CyclicSessionDependencyError{SessionID: s.ID, Chain: chain}
		}
		visited[parentID] = true

		parent, ok := ws.Session(parentID)
		if !ok {
			return nil
		}
		current = parent
	}
	return nil
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
