package session

import (
	"context"
	"log/slog"

	"github.com/rideops/console/internal/console/domain"
	"github.com/rideops/console/internal/console/identity"
	"github.com/rideops/console/pkg/retryx"
)

// subscribeEvents registers the notification listener. sync.Once keeps the
// subscription idempotent no matter how often initialization paths run, so
// reconciliation work is never duplicated.
func (c *Coordinator) subscribeEvents() {
	c.subOnce.Do(func() {
		c.unsubscribe = c.client.Subscribe(c.handleEvent)
	})
}

// handleEvent reconciles local state with a service-pushed session change:
// sessions revoked or rotated elsewhere, accounts deleted out from under us.
func (c *Coordinator) handleEvent(ev identity.Event) {
	ctx := context.Background()

	switch ev.Kind {
	case identity.EventSignedOut, identity.EventAccountDeleted:
		// Forced teardown, regardless of any in-flight refresh. Neither a
		// racing refresh nor a stale pushed update can resurrect the
		// session afterwards: both adoption paths require one to still
		// exist.
		c.logger.Info("service pushed sign-out, clearing local session",
			slog.String("kind", string(ev.Kind)),
		)
		c.teardownLocal(ctx)

	case identity.EventUpdated:
		if ev.Session == nil || ev.Session.Identity.ID == "" {
			return
		}

		s := *ev.Session
		i := s.Identity
		c.mu.Lock()
		if c.session == nil {
			// The rotation predates a teardown, typically a refresh that
			// raced a sign-out. Adopting it would re-authenticate a session
			// the user already left, so it is dropped.
			c.mu.Unlock()
			return
		}
		c.session = &s
		c.ident = &i
		c.state = StateAuthenticated
		profileMissing := c.profile == nil
		c.mu.Unlock()

		c.persistCredentials(ctx, s)

		if profileMissing || ev.UserChanged {
			c.reloadProfile(ctx, s)
		}
	}
}

// reloadProfile re-fetches the profile for sess and performs the role-claim
// refresh the same way sign-in does.
func (c *Coordinator) reloadProfile(ctx context.Context, sess domain.Session) {
	profile, err := c.client.FetchProfile(ctx, sess.AccessToken, sess.Identity.ID)
	if err != nil {
		c.logger.Warn("failed to fetch profile during reconciliation", slog.Any("error", err))
		return
	}

	c.mu.Lock()
	if c.ident != nil && c.ident.ID == sess.Identity.ID {
		c.profile = profile
	}
	c.mu.Unlock()

	if profile != nil && profile.HasRole() && roleClaim(sess.AccessToken) != profile.Role {
		if err := c.doRefresh(ctx); err != nil && identity.Classify(err) == retryx.ClassFatal {
			c.logger.Warn("role-claim refresh failed during reconciliation", slog.Any("error", err))
		}
	}
}
