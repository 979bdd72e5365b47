// Package session owns the console's authenticated session: establishing it,
// keeping it fresh, and tearing it down. All portal-facing code reads session
// state through here and never talks to the identity service directly.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rideops/console/internal/console/domain"
	"github.com/rideops/console/internal/console/identity"
	"github.com/rideops/console/internal/console/store"
	"github.com/rideops/console/pkg/retryx"
)

// ErrNotAuthenticated is returned by operations that require a session.
var ErrNotAuthenticated = errors.New("session: not authenticated")

// State is the coordinator's lifecycle position.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "uninitialized"
	}
}

// MarshalText lets snapshots serialize the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config tunes the coordinator. Zero values fall back to defaults.
type Config struct {
	// RetryAttempts bounds the refresh retry loop (default 3).
	RetryAttempts int
	// RetryDelay is the initial refresh backoff (default 1s).
	RetryDelay time.Duration
}

// Coordinator owns the Session/Identity/Profile triple. The triple is always
// either fully populated and mutually consistent or fully absent; every
// transition happens under one mutex so readers never observe a partial
// state.
type Coordinator struct {
	client identity.API
	creds  store.CredentialStore // nil disables persistence
	logger *slog.Logger
	retry  retryx.Config

	mu      sync.RWMutex
	state   State
	session *domain.Session
	ident   *domain.Identity
	profile *domain.Profile

	initialized atomic.Bool
	refreshing  atomic.Bool
	bootstrap   atomic.Bool
	subOnce     sync.Once
	unsubscribe func()
}

// New creates a Coordinator. creds may be nil when credential persistence is
// disabled.
func New(client identity.API, creds store.CredentialStore, logger *slog.Logger, cfg Config) *Coordinator {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	return &Coordinator{
		client: client,
		creds:  creds,
		logger: logger,
		retry: retryx.Config{
			MaxAttempts:  cfg.RetryAttempts,
			InitialDelay: cfg.RetryDelay,
		},
	}
}

// Snapshot is a read-only view of the coordinator's state.
type Snapshot struct {
	State    State            `json:"state"`
	Loading  bool             `json:"loading"`
	Session  *domain.Session  `json:"session,omitempty"`
	Identity *domain.Identity `json:"identity,omitempty"`
	Profile  *domain.Profile  `json:"profile,omitempty"`
}

// Snapshot returns the current state as copies; callers cannot mutate the
// coordinator through it.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		State:   c.state,
		Loading: !c.initialized.Load(),
	}
	if c.session != nil {
		s := *c.session
		snap.Session = &s
	}
	if c.ident != nil {
		i := *c.ident
		snap.Identity = &i
	}
	if c.profile != nil {
		p := *c.profile
		snap.Profile = &p
	}
	return snap
}

// Initialize brings the coordinator out of Uninitialized exactly once at
// startup: URL-token bootstrap first, then resume from the credential cache.
// It always terminates in Authenticated or Unauthenticated; every failure is
// logged and treated as "start unauthenticated", never as fatal.
func (c *Coordinator) Initialize(ctx context.Context, launchURL string) {
	c.mu.Lock()
	c.state = StateInitializing
	c.mu.Unlock()

	if launchURL != "" {
		c.BootstrapFromURL(ctx, launchURL)
	}

	if c.Snapshot().Session == nil {
		c.resumeFromCache(ctx)
	}

	c.subscribeEvents()

	c.mu.Lock()
	if c.session != nil {
		c.state = StateAuthenticated
	} else {
		c.state = StateUnauthenticated
	}
	c.mu.Unlock()
	c.initialized.Store(true)
}

// resumeFromCache adopts a session from the persisted refresh credential, if
// one exists and the service still honours it.
func (c *Coordinator) resumeFromCache(ctx context.Context) {
	if c.creds == nil {
		return
	}

	cached, err := c.creds.Load(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNoCredentials) {
			c.logger.Warn("failed to read credential cache", slog.Any("error", err))
		}
		return
	}

	sess, err := c.client.RefreshGrant(ctx, cached.RefreshToken)
	if err != nil {
		c.logger.Warn("cached session no longer usable, starting unauthenticated",
			slog.Any("error", err),
		)
		c.clearCredentials(ctx)
		return
	}

	if err := c.adoptWithProfile(ctx, sess); err != nil {
		c.logger.Warn("failed to restore cached session", slog.Any("error", err))
	}
}

// SignIn verifies credentials and establishes the session. Verification
// errors are surfaced verbatim with no state change. If the profile carries
// a role and the follow-up role-claim refresh fails fatally, the sign-in as
// a whole fails and the coordinator reverts to Unauthenticated: a session
// the console cannot refresh is not a usable session.
func (c *Coordinator) SignIn(ctx context.Context, email, password string) error {
	sess, err := c.client.PasswordGrant(ctx, email, password)
	if err != nil {
		return err
	}
	return c.adoptWithProfile(ctx, sess)
}

// adoptWithProfile installs sess, fetches the profile, and performs the
// role-claim refresh when the profile carries a role. Only a fatal refresh
// classification is returned as an error.
func (c *Coordinator) adoptWithProfile(ctx context.Context, sess domain.Session) error {
	profile, err := c.client.FetchProfile(ctx, sess.AccessToken, sess.Identity.ID)
	if err != nil {
		// The session itself is good; an unreadable profile row degrades to
		// the valid "no profile" state.
		c.logger.Warn("failed to fetch profile", slog.Any("error", err))
		profile = nil
	}

	c.adopt(sess, profile)
	c.persistCredentials(ctx, sess)

	if profile != nil && profile.HasRole() && roleClaim(sess.AccessToken) != profile.Role {
		if err := c.doRefresh(ctx); err != nil && identity.Classify(err) == retryx.ClassFatal {
			return err
		}
	}
	return nil
}

// SignOut clears local state unconditionally and then asks the service to
// invalidate the session. The local teardown cannot be blocked by the
// network; a failed remote revoke is only logged.
func (c *Coordinator) SignOut(ctx context.Context) {
	c.mu.Lock()
	sess := c.session
	c.session, c.ident, c.profile = nil, nil, nil
	c.state = StateUnauthenticated
	c.mu.Unlock()

	c.clearCredentials(ctx)

	if sess != nil {
		if err := c.client.Revoke(ctx, sess.AccessToken); err != nil {
			c.logger.Warn("remote sign-out failed, local state already cleared",
				slog.Any("error", err),
			)
		}
	}
}

// Refresh rotates the session. Single-flight: when a refresh is already in
// progress the call is a no-op; callers that need the outcome re-read the
// snapshot or watch the notification stream.
func (c *Coordinator) Refresh(ctx context.Context) {
	if err := c.doRefresh(ctx); err != nil {
		c.logger.Warn("session refresh failed", slog.Any("error", err))
	}
}

// doRefresh is the guarded refresh body shared by Refresh, UpdateProfile and
// the role-claim refreshes. The in-progress flag is claimed before the first
// blocking call so no two refresh bodies can interleave their writes.
func (c *Coordinator) doRefresh(ctx context.Context) error {
	if !c.refreshing.CompareAndSwap(false, true) {
		return nil
	}
	defer c.refreshing.Store(false)

	c.mu.RLock()
	sess := c.session
	c.mu.RUnlock()

	if sess == nil {
		// Nothing to refresh: settle in the terminal signed-out state.
		c.teardownLocal(ctx)
		return nil
	}

	newSess, err := retryx.Do(ctx, c.retry, identity.Classify,
		func(ctx context.Context) (domain.Session, error) {
			return c.client.RefreshGrant(ctx, sess.RefreshToken)
		})
	if err != nil {
		if identity.Classify(err) == retryx.ClassFatal {
			// The refresh credential itself is dead. Full local teardown,
			// best-effort server-side sign-out.
			c.teardownLocal(ctx)
			if rerr := c.client.Revoke(ctx, sess.AccessToken); rerr != nil {
				c.logger.Debug("revoke after fatal refresh failed", slog.Any("error", rerr))
			}
			return err
		}
		// Transient failure, retries exhausted: a stale-but-valid session
		// beats a forced logout.
		return err
	}

	profile, perr := c.client.FetchProfile(ctx, newSess.AccessToken, newSess.Identity.ID)
	if perr != nil {
		c.logger.Warn("failed to re-fetch profile after refresh", slog.Any("error", perr))
		c.mu.RLock()
		profile = c.profile
		c.mu.RUnlock()
	}

	if c.readopt(newSess, profile) {
		c.persistCredentials(ctx, newSess)
	}
	return nil
}

// UpdateProfile writes fields through to the identity service and adopts the
// returned row. When the written fields include the role, one refresh keeps
// the session's embedded claims current; a fatal refresh failure surfaces as
// an error even though the profile write itself succeeded and is not rolled
// back.
func (c *Coordinator) UpdateProfile(ctx context.Context, fields map[string]any) (*domain.Profile, error) {
	c.mu.RLock()
	sess := c.session
	ident := c.ident
	c.mu.RUnlock()

	if ident == nil || sess == nil {
		return nil, ErrNotAuthenticated
	}

	row, err := c.client.WriteProfile(ctx, sess.AccessToken, ident.ID, fields)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.ident != nil && c.ident.ID == row.ID {
		c.profile = row
	}
	c.mu.Unlock()

	if _, wroteRole := fields["role"]; wroteRole {
		if err := c.doRefresh(ctx); err != nil && identity.Classify(err) == retryx.ClassFatal {
			return row, err
		}
	}
	return row, nil
}

// adopt installs a fresh triple in one transition.
func (c *Coordinator) adopt(sess domain.Session, profile *domain.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := sess
	i := sess.Identity
	c.session = &s
	c.ident = &i
	c.profile = profile
	c.state = StateAuthenticated
}

// readopt is adopt for refresh outcomes: it applies only while a session
// still exists, so a refresh that raced a teardown cannot resurrect state.
func (c *Coordinator) readopt(sess domain.Session, profile *domain.Profile) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return false
	}
	s := sess
	i := sess.Identity
	c.session = &s
	c.ident = &i
	c.profile = profile
	c.state = StateAuthenticated
	return true
}

// teardownLocal clears the triple without touching the service.
func (c *Coordinator) teardownLocal(ctx context.Context) {
	c.mu.Lock()
	c.session, c.ident, c.profile = nil, nil, nil
	c.state = StateUnauthenticated
	c.mu.Unlock()

	c.clearCredentials(ctx)
}

func (c *Coordinator) persistCredentials(ctx context.Context, sess domain.Session) {
	if c.creds == nil {
		return
	}
	err := c.creds.Save(ctx, store.Credentials{
		UserID:       sess.Identity.ID,
		RefreshToken: sess.RefreshToken,
		SavedAt:      time.Now().UTC(),
	})
	if err != nil {
		c.logger.Warn("failed to persist credentials", slog.Any("error", err))
	}
}

func (c *Coordinator) clearCredentials(ctx context.Context) {
	if c.creds == nil {
		return
	}
	if err := c.creds.Clear(ctx); err != nil {
		c.logger.Warn("failed to clear credential cache", slog.Any("error", err))
	}
}

// Close detaches the coordinator from the identity service's event stream.
func (c *Coordinator) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}
