package session

import (
	"context"
	"log/slog"
	"net/url"
)

// oneTimeTokenParam is the query parameter carrying a one-time credential in
// a landing URL.
const oneTimeTokenParam = "one_time_token"

// BootstrapFromURL exchanges a one-time credential delivered in rawURL's
// query string for a session. It runs at most once per coordinator lifetime;
// later calls are no-ops. The returned URL always has the token parameter
// removed so the credential does not survive in browser history or referrer
// headers, and callers should redirect to it.
//
// The exchange is not retried: a one-time token that failed once is spent.
// Failure is logged only; it never prevents a subsequent normal sign-in.
func (c *Coordinator) BootstrapFromURL(ctx context.Context, rawURL string) (clean string, adopted bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		c.logger.Warn("unparseable launch URL", slog.Any("error", err))
		return rawURL, false
	}

	query := u.Query()
	token := query.Get(oneTimeTokenParam)

	query.Del(oneTimeTokenParam)
	u.RawQuery = query.Encode()
	clean = u.String()

	if !c.bootstrap.CompareAndSwap(false, true) {
		return clean, false
	}
	if token == "" {
		return clean, false
	}

	sess, err := c.client.ExchangeOneTimeToken(ctx, token)
	if err != nil {
		c.logger.Warn("one-time token exchange failed", slog.Any("error", err))
		return clean, false
	}

	if err := c.adoptWithProfile(ctx, sess); err != nil {
		c.logger.Warn("bootstrap session unusable", slog.Any("error", err))
		return clean, false
	}

	c.logger.Info("session bootstrapped from one-time token",
		slog.String("user_id", sess.Identity.ID),
	)
	return clean, true
}
