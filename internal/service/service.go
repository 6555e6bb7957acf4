// Package service implements the per-variant session strategies behind a
// common SessionService contract, and the factory that dispatches on the
// session type. Start, stop, rotate and delete are mutually exclusive per
// session id; unrelated sessions proceed concurrently.
package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/systmms/credops/internal/credfile"
	crederrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/keystore"
	"github.com/systmms/credops/internal/logging"
	"github.com/systmms/credops/internal/session"
	"github.com/systmms/credops/internal/ssoflow"
	"github.com/systmms/credops/internal/workspace"
)

// SessionService is the operation contract every variant implements.
// Consumers (CLI, GUI, scheduler) only ever call these.
type SessionService interface {
	// Start resolves credentials and materializes them. Starting an
	// already-active session is a no-op returning success.
	Start(ctx context.Context, id string) error

	// Stop removes the session's credential block and transitions it to
	// inactive. Idempotent.
	Stop(ctx context.Context, id string) error

	// Rotate re-resolves credentials for an active session without
	// changing its status. A rotation failure drops the session to
	// inactive; it must be started again.
	Rotate(ctx context.Context, id string) error

	// Delete stops the session, removes its secrets and its record.
	// Without cascade, a session with chained dependents is refused with
	// DependentSessionsError; with cascade every descendant goes first.
	Delete(ctx context.Context, id string, cascade bool) error
}

// MFATokenPrompt asks the user for a one-time code for the given MFA device.
type MFATokenPrompt func(ctx context.Context, mfaDevice string) (string, error)

// AssertionProvider obtains a base64 SAML assertion from an identity
// provider URL. The browser/IdP interaction lives outside the core.
type AssertionProvider interface {
	Assertion(ctx context.Context, idpURL string) (string, error)
}

// PortalClient is the SSO device-flow surface the SSO Role strategy needs.
// *ssoflow.Client satisfies it.
type PortalClient interface {
	Login(ctx context.Context, portalURL string) (ssoflow.Token, error)
	RoleCredentials(ctx context.Context, token ssoflow.Token, accountID, roleName string) (ssoflow.RoleCredentials, error)
	InvalidateToken(portalURL string)
}

// Deps are the shared collaborators every strategy is built with.
type Deps struct {
	Repo        *workspace.Repository
	Secrets     keystore.Store
	AWSWriter   *credfile.Writer
	AzureWriter *credfile.Writer
	Portal      PortalClient
	STS         STSClientFactory
	Assertions  AssertionProvider
	MFAPrompt   MFATokenPrompt
	AzureCreds  AzureCredentialFactory
	Logger      *logging.Logger
}

// resolved is one session's live credentials plus the credential-file block
// they materialize as. Raw key material stays here (in memory only) so a
// chained child can assume with its parent's credentials.
type resolved struct {
	entry           credfile.Entry
	azure           bool
	accessKeyID     string
	secretAccessKey string
	sessionToken    string
	expiresAt       time.Time
}

// resolver is the variant-specific credential acquisition step.
type resolver interface {
	Resolve(ctx context.Context, s session.Session, visited map[string]bool) (resolved, error)
}

// core is the machinery shared by all strategies: per-session locks, the
// resolved-credential table and the start/stop/rotate/delete state machine.
type core struct {
	deps        *Deps
	locks       sync.Map // session id -> *sync.Mutex
	mu          sync.Mutex
	creds       map[string]resolved
	resolverFor func(t session.Type) (resolver, error)
}

func newCore(deps *Deps) *core {
	return &core{
		deps:  deps,
		creds: make(map[string]resolved),
	}
}

func (c *core) lockFor(id string) *sync.Mutex {
	mu, _ := c.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (c *core) getCreds(id string) (resolved, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.creds[id]
	return res, ok
}

func (c *core) setCreds(id string, res resolved) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds[id] = res
}

func (c *core) dropCreds(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.creds, id)
}

// startSession runs the start state machine: inactive -> pending ->
// active, dropping back to inactive on any resolution failure. visited
// carries the chained-resolution path for cycle detection.
func (c *core) startSession(ctx context.Context, id string, visited map[string]bool) error {
	mu := c.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	s, err := c.deps.Repo.Session(id)
	if err != nil {
		return err
	}
	if s.Status == session.StatusActive {
		c.deps.Logger.Debug("session '%s' already active", s.Name)
		return nil
	}

	res, err := c.resolvePending(ctx, s, visited)
	if err != nil {
		return err
	}

	c.setCreds(id, res)
	if err := c.deps.Repo.ActivateSession(id, time.Now(), res.expiresAt); err != nil {
		c.dropCreds(id)
		return err
	}
	if err := c.materialize(); err != nil {
		c.deactivateAfterFailure(id, s.Name, err)
		return err
	}
	c.deps.Logger.Info("session '%s' started", s.Name)
	return nil
}

// deactivateAfterFailure drops a session that was already marked active
// back to inactive. Leaving it active without a credential block would
// advertise credentials that do not exist.
func (c *core) deactivateAfterFailure(id, name string, cause error) {
	c.dropCreds(id)
	if err := c.deps.Repo.SetSessionStatus(id, session.StatusInactive); err != nil {
		c.deps.Logger.Error("failed to deactivate session '%s' after %v: %v", name, cause, err)
	}
}

// resolvePending moves the session through pending while the variant
// resolver runs, guaranteeing the session never stays pending after the
// operation returns.
func (c *core) resolvePending(ctx context.Context, s session.Session, visited map[string]bool) (resolved, error) {
	r, err := c.resolverFor(s.Type)
	if err != nil {
		return resolved{}, err
	}

	if err := c.deps.Repo.SetSessionStatus(s.ID, session.StatusPending); err != nil {
		return resolved{}, err
	}

	res, err := r.Resolve(ctx, s, visited)
	if err != nil {
		if stErr := c.deps.Repo.SetSessionStatus(s.ID, session.StatusInactive); stErr != nil {
			c.deps.Logger.Error("failed to reset session '%s' to inactive: %v", s.Name, stErr)
		}
		return resolved{}, err
	}
	return res, nil
}

// stopSession removes the credential block and marks the session inactive.
func (c *core) stopSession(ctx context.Context, id string) error {
	mu := c.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	return c.stopLocked(ctx, id)
}

func (c *core) stopLocked(_ context.Context, id string) error {
	s, err := c.deps.Repo.Session(id)
	if err != nil {
		return err
	}

	c.dropCreds(id)
	if s.Status != session.StatusInactive {
		if err := c.deps.Repo.SetSessionStatus(id, session.StatusInactive); err != nil {
			return err
		}
	}
	if err := c.materialize(); err != nil {
		return err
	}
	c.deps.Logger.Debug("session '%s' stopped", s.Name)
	return nil
}

// rotateSession re-resolves an active session's credentials in place. On
// failure the credentials are presumed invalid: the session drops to
// inactive and its block is removed.
func (c *core) rotateSession(ctx context.Context, id string) error {
	return c.refreshSession(ctx, id, map[string]bool{})
}

// refreshSession is the rotation body. visited carries the chained
// resolution path when a child refreshes its parent, so reference cycles
// fail instead of re-entering a held lock.
func (c *core) refreshSession(ctx context.Context, id string, visited map[string]bool) error {
	mu := c.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	s, err := c.deps.Repo.Session(id)
	if err != nil {
		return err
	}
	if s.Status != session.StatusActive {
		c.deps.Logger.Debug("skipping rotation of session '%s': not active", s.Name)
		return nil
	}

	r, err := c.resolverFor(s.Type)
	if err != nil {
		return err
	}

	res, err := r.Resolve(ctx, s, visited)
	if err != nil {
		c.deactivateAfterFailure(id, s.Name, err)
		if mErr := c.materialize(); mErr != nil {
			c.deps.Logger.Error("failed to rematerialize after rotation failure: %v", mErr)
		}
		return err
	}

	c.setCreds(id, res)
	if err := c.deps.Repo.ActivateSession(id, time.Now(), res.expiresAt); err != nil {
		c.dropCreds(id)
		return err
	}
	if err := c.materialize(); err != nil {
		c.deactivateAfterFailure(id, s.Name, err)
		return err
	}
	c.deps.Logger.Info("session '%s' rotated, valid until %s", s.Name, res.expiresAt.Format(time.RFC3339))
	return nil
}

// deleteSession removes the session, its secrets and, when cascade is
// confirmed, every chained descendant (deepest first).
func (c *core) deleteSession(ctx context.Context, id string, cascade bool) error {
	if _, err := c.deps.Repo.Session(id); err != nil {
		return err
	}
	ws, err := c.deps.Repo.Load()
	if err != nil {
		return err
	}

	children := ws.ChildrenOf(id)
	if len(children) > 0 && !cascade {
		ids := make([]string, 0, len(children))
		for _, child := range children {
			ids = append(ids, child.ID)
		}
		return crederrors.DependentSessionsError{SessionID: id, DependentIDs: ids}
	}

	for _, descendant := range ws.DescendantsOf(id) {
		if err := c.deleteOne(ctx, descendant.ID); err != nil {
			return err
		}
	}
	return c.deleteOne(ctx, id)
}

func (c *core) deleteOne(ctx context.Context, id string) error {
	mu := c.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	s, err := c.deps.Repo.Session(id)
	if err != nil {
		return err
	}

	if s.Status != session.StatusInactive {
		if err := c.stopLocked(ctx, id); err != nil {
			return err
		}
	} else {
		c.dropCreds(id)
	}

	c.deleteSecrets(id)
	if err := c.deps.Repo.RemoveSession(id); err != nil {
		return err
	}
	c.locks.Delete(id)
	c.deps.Logger.Info("session '%s' deleted", s.Name)
	return nil
}

// deleteSecrets removes every keystore entry of a session. A failing store
// is logged and deletion proceeds: blocking the removal of a session on a
// broken keyring would strand the workspace record.
func (c *core) deleteSecrets(id string) {
	for _, role := range []string{
		keystore.RoleAccessKeyID,
		keystore.RoleSecretAccessKey,
		keystore.RoleSsoAccessToken,
		keystore.RoleAzureToken,
	} {
		err := c.deps.Secrets.Delete(keystore.Key(id, role))
		if err != nil && !crederrors.IsSecretNotFound(err) {
			c.deps.Logger.Warn("could not delete secret %s: %v", keystore.Key(id, role), err)
		}
	}
}

// materialize rebuilds both credential files from the currently active
// sessions. Always a full rebuild, never an in-place patch. An active
// session this process holds no credentials for was resolved by another
// process (a previous CLI invocation, or the daemon); its existing block is
// carried forward unchanged instead of being erased.
func (c *core) materialize() error {
	ws, err := c.deps.Repo.Load()
	if err != nil {
		return err
	}

	awsExisting, err := c.deps.AWSWriter.Entries()
	if err != nil {
		return err
	}
	azureExisting, err := c.deps.AzureWriter.Entries()
	if err != nil {
		return err
	}
	awsByProfile := entriesByProfile(awsExisting)
	azureByProfile := entriesByProfile(azureExisting)

	var awsEntries, azureEntries []credfile.Entry
	for _, s := range ws.Sessions {
		if s.Status != session.StatusActive {
			continue
		}
		if res, ok := c.getCreds(s.ID); ok {
			if res.azure {
				azureEntries = append(azureEntries, res.entry)
			} else {
				awsEntries = append(awsEntries, res.entry)
			}
			continue
		}
		if s.Type == session.TypeAzure {
			if e, ok := azureByProfile[s.Name]; ok {
				azureEntries = append(azureEntries, e)
			}
			continue
		}
		if e, ok := awsByProfile[ws.ProfileName(s)]; ok {
			awsEntries = append(awsEntries, e)
		}
	}

	if err := c.deps.AWSWriter.Apply(awsEntries); err != nil {
		return err
	}
	return c.deps.AzureWriter.Apply(azureEntries)
}

func entriesByProfile(entries []credfile.Entry) map[string]credfile.Entry {
	idx := make(map[string]credfile.Entry, len(entries))
	for _, e := range entries {
		idx[e.Profile] = e
	}
	return idx
}

// parentCredentials resolves the credentials of a chained session's parent,
// starting the parent if it is not already active with usable credentials.
// A parent marked active whose credentials this process does not hold (it
// was started by another invocation) is re-resolved in place, since the raw
// key material needed for the assume call never leaves the resolving
// process.
func (c *core) parentCredentials(ctx context.Context, parent session.Session, visited map[string]bool) (resolved, error) {
	if parent.Status == session.StatusActive {
		if res, ok := c.getCreds(parent.ID); ok {
			if res.expiresAt.IsZero() || time.Now().Before(res.expiresAt) {
				return res, nil
			}
		}
		if err := c.refreshSession(ctx, parent.ID, visited); err != nil {
			return resolved{}, err
		}
	} else {
		if err := c.startSession(ctx, parent.ID, visited); err != nil {
			return resolved{}, err
		}
	}

	res, ok := c.getCreds(parent.ID)
	if !ok {
		return resolved{}, crederrors.ProviderCallError{Provider: "sts", Operation: "resolve-parent", Err: errNoParentCreds}
	}
	return res, nil
}

// strategy exposes the core state machine as a SessionService. Variant
// dispatch happens inside the core, so chained resolution can recurse into
// parents of any type.
type strategy struct {
	*core
}

func (s *strategy) Start(ctx context.Context, id string) error {
	return s.startSession(ctx, id, map[string]bool{})
}

func (s *strategy) Stop(ctx context.Context, id string) error {
	return s.stopSession(ctx, id)
}

func (s *strategy) Rotate(ctx context.Context, id string) error {
	return s.rotateSession(ctx, id)
}

func (s *strategy) Delete(ctx context.Context, id string, cascade bool) error {
	return s.deleteSession(ctx, id, cascade)
}

// retryAttempts bounds retries of transient provider failures.
const retryAttempts = 3

// withRetry retries fn with linear backoff while it fails transiently.
func withRetry(ctx context.Context, logger *logging.Logger, fn func() error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = fn()
		if err == nil || !crederrors.IsTransient(err) {
			return err
		}
		if attempt == retryAttempts {
			break
		}
		logger.Warn("transient provider failure (attempt %d/%d): %v", attempt, retryAttempts, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return err
}

// classify wraps a provider error, marking network-class failures as
// transient. Credential rejections are never retried.
func classify(provider, operation string, err error) error {
	msg := strings.ToLower(err.Error())
	transient := false
	for _, pattern := range []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"connection refused",
		"broken pipe",
		"no such host",
		"throttling",
		"too many requests",
	} {
		if strings.Contains(msg, pattern) {
			transient = true
			break
		}
	}
	return crederrors.ProviderCallError{Provider: provider, Operation: operation, Transient: transient, Err: err}
}
