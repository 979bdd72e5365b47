package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rideops/console/internal/console/domain"
	"github.com/rideops/console/pkg/idx"
)

var (
	ErrInviteNotFound    = errors.New("session: invite code not found")
	ErrInviteAlreadyUsed = errors.New("session: invite code has already been used")
	ErrInviteExpired     = errors.New("session: invite code has expired")
)

// SignUpParams carries everything needed to create a console account.
type SignUpParams struct {
	Email      string
	Password   string
	FullName   string
	Phone      string
	InviteCode string // optional
}

// SignUp creates a new account, redeeming an invite code when one is given.
//
// The underlying store has no multi-step transaction available to the
// console, so the flow is an ordered sequence with a best-effort tail:
//
//  1. Validate the invite: it must exist and be active. A timed-out invite
//     is written back as expired and the signup fails.
//  2. Create the account, with the invite code attached as signup metadata.
//  3. If an invite was used: drop to an anonymous context (the service's
//     access rules only permit the invite-status update for unauthenticated
//     callers), mark the invite used guarded by "still active", sign back in
//     with the new credentials, and apply the invite's role grant.
//  4. Failures in step 3 are logged and swallowed. The account exists and
//     must not be rolled back or reported as failed; only the invite
//     bookkeeping is best-effort.
func (c *Coordinator) SignUp(ctx context.Context, p SignUpParams) (*domain.Identity, error) {
	invite, err := c.validateInvite(ctx, p.InviteCode)
	if err != nil {
		return nil, err
	}

	meta := map[string]any{
		"full_name": p.FullName,
		"phone":     p.Phone,
	}
	if invite != nil {
		meta["invite_code"] = invite.Code
	}

	sess, err := c.client.SignUp(ctx, p.Email, p.Password, meta)
	if err != nil {
		return nil, err
	}
	ident := sess.Identity

	if invite == nil {
		if err := c.adoptWithProfile(ctx, sess); err != nil {
			return nil, err
		}
		return &ident, nil
	}

	c.redeemInvite(ctx, invite, ident, p)
	return &ident, nil
}

// validateInvite resolves code to an active invite, or returns the reason it
// cannot be redeemed. A nil, nil return means no code was supplied.
func (c *Coordinator) validateInvite(ctx context.Context, code string) (*domain.InviteLink, error) {
	if code == "" {
		return nil, nil
	}

	invite, err := c.client.InviteByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if invite == nil {
		return nil, ErrInviteNotFound
	}

	switch invite.Status {
	case domain.InviteUsed:
		return nil, ErrInviteAlreadyUsed
	case domain.InviteExpired:
		return nil, ErrInviteExpired
	}

	if invite.TimedOut(time.Now()) {
		// Record the expiry on the row so later lookups see it directly.
		if err := c.client.MarkInviteExpired(ctx, invite.Code); err != nil {
			c.logger.Warn("failed to mark timed-out invite expired",
				slog.String("code", invite.Code),
				slog.Any("error", err),
			)
		}
		return nil, ErrInviteExpired
	}

	return invite, nil
}

// redeemInvite is the best-effort tail after account creation. Nothing in
// here can fail the signup.
func (c *Coordinator) redeemInvite(ctx context.Context, invite *domain.InviteLink, ident domain.Identity, p SignUpParams) {
	log := c.logger.With(
		slog.String("code", invite.Code),
		slog.String("user_id", ident.ID),
	)

	// The invite-status update is only permitted for unauthenticated
	// callers, so drop whatever session the console holds first.
	c.teardownLocal(ctx)

	now := time.Now().UTC()
	matched, err := c.client.MarkInviteUsed(ctx, invite.Code, domain.InviteLink{
		UsedBy:    ident.ID,
		UsedAt:    &now,
		ReceiptID: idx.New().String(),
	})
	switch {
	case err != nil:
		log.Warn("failed to mark invite used", slog.Any("error", err))
	case !matched:
		log.Warn("invite was redeemed concurrently, account kept")
	}

	// Restore a session for the freshly created account.
	if err := c.SignIn(ctx, p.Email, p.Password); err != nil {
		log.Warn("sign-in after invite redemption failed", slog.Any("error", err))
	}

	if invite.Role != "" {
		c.applyInviteRole(ctx, invite.Role, ident.ID, log)
	}

	log.Info("invite redeemed",
		slog.String("role", invite.Role),
	)
}

func (c *Coordinator) applyInviteRole(ctx context.Context, role, userID string, log *slog.Logger) {
	c.mu.RLock()
	sess := c.session
	c.mu.RUnlock()

	token := ""
	if sess != nil {
		token = sess.AccessToken
	}

	row, err := c.client.WriteProfile(ctx, token, userID, map[string]any{"role": role})
	if err != nil {
		log.Warn("failed to apply invite role", slog.Any("error", err))
		return
	}

	c.mu.Lock()
	if c.ident != nil && c.ident.ID == row.ID {
		c.profile = row
	}
	c.mu.Unlock()
}
