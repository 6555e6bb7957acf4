// Package scheduler drives proactive credential rotation. A single loop
// scans the active sessions every tick and rotates any whose remaining
// validity has fallen under the configured margin, so consumers of the
// credential file never observe an expired block.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/systmms/credops/internal/logging"
	"github.com/systmms/credops/internal/service"
	"github.com/systmms/credops/internal/session"
	"github.com/systmms/credops/internal/workspace"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config holds the scheduler tuning knobs.
type Config struct {
	// Interval is how often active sessions are scanned.
	// Default: 30 seconds
	Interval time.Duration

	// Margin is the remaining validity below which a session is rotated.
	// Default: 5 minutes
	Margin time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Margin:   5 * time.Minute,
	}
}

// Scheduler owns the rotation loop.
type Scheduler struct {
	config  Config
	repo    *workspace.Repository
	factory *service.Factory
	logger  *logging.Logger
	clock   Clock

	mu       sync.Mutex
	inFlight map[string]bool
	wg       sync.WaitGroup
}

// New creates a scheduler over the given repository and service factory.
func New(config Config, repo *workspace.Repository, factory *service.Factory, logger *logging.Logger) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Margin <= 0 {
		config.Margin = DefaultConfig().Margin
	}
	return &Scheduler{
		config:   config,
		repo:     repo,
		factory:  factory,
		logger:   logger,
		clock:    systemClock{},
		inFlight: make(map[string]bool),
	}
}

// WithClock replaces the wall clock. Test hook.
func (s *Scheduler) WithClock(clock Clock) *Scheduler {
	s.clock = clock
	return s
}

// Run scans until the context is cancelled, then waits for rotations
// already in flight to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("rotation scheduler running (interval %s, margin %s)", s.config.Interval, s.config.Margin)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("rotation scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick rotates every active session whose credentials are inside the
// margin. Each rotation runs in its own goroutine so one slow provider
// cannot starve the rest; a session already being rotated is skipped.
func (s *Scheduler) tick(ctx context.Context) {
	active, err := s.repo.ActiveSessions()
	if err != nil {
		s.logger.Error("scheduler could not read workspace: %v", err)
		return
	}
	recordActiveSessions(len(active))

	now := s.clock.Now()
	for _, sess := range active {
		expiresAt, ok := s.factory.Expiration(sess.ID)
		if !ok {
			// The session was resolved by another process; fall back to
			// the expiration recorded in the workspace.
			expiresAt, ok = sess.Expiration()
		}
		if !ok {
			if sess.NeverExpires() {
				continue
			}
			// Active with no known expiration: rotate now to obtain fresh
			// credentials and learn when they lapse.
			s.rotate(ctx, sess)
			continue
		}
		if expiresAt.After(now.Add(s.config.Margin)) {
			continue
		}
		s.rotate(ctx, sess)
	}
}

func (s *Scheduler) rotate(ctx context.Context, sess session.Session) {
	s.mu.Lock()
	if s.inFlight[sess.ID] {
		s.mu.Unlock()
		return
	}
	s.inFlight[sess.ID] = true
	s.mu.Unlock()

	svc, err := s.factory.ServiceFor(sess.Type)
	if err != nil {
		s.clearInFlight(sess.ID)
		s.logger.Error("no service for session '%s': %v", sess.Name, err)
		return
	}

	s.logger.Debug("rotating session '%s'", sess.Name)
	recordRotationStarted(string(sess.Type))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.clearInFlight(sess.ID)

		started := time.Now()
		if err := svc.Rotate(ctx, sess.ID); err != nil {
			recordRotationCompleted(string(sess.Type), "failure", time.Since(started).Seconds())
			s.logger.Error("rotation of session '%s' failed: %v", sess.Name, err)
			return
		}
		recordRotationCompleted(string(sess.Type), "success", time.Since(started).Seconds())
	}()
}

func (s *Scheduler) clearInFlight(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

// Wait blocks until in-flight rotations complete. Test hook.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
