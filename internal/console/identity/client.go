// Package identity is the console's client for the remote identity service:
// credential verification, token issue/refresh, and row access for profiles
// and invite links. The service is the source of truth for all of it; this
// package only moves bytes and classifies failures.
package identity

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rideops/console/internal/console/domain"
)

// API is the surface the session coordinator consumes. Tests substitute a
// fake; Client is the production implementation.
type API interface {
	// PasswordGrant verifies credentials and issues a session.
	PasswordGrant(ctx context.Context, email, password string) (domain.Session, error)

	// RefreshGrant exchanges a refresh token for a new session.
	RefreshGrant(ctx context.Context, refreshToken string) (domain.Session, error)

	// ExchangeOneTimeToken redeems a one-time URL credential for a session.
	ExchangeOneTimeToken(ctx context.Context, token string) (domain.Session, error)

	// SignUp creates an account and returns its initial session.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (domain.Session, error)

	// Revoke invalidates the session server-side.
	Revoke(ctx context.Context, accessToken string) error

	// FetchProfile returns the profile row for id, or (nil, nil) when the
	// row does not exist yet.
	FetchProfile(ctx context.Context, accessToken, id string) (*domain.Profile, error)

	// WriteProfile upserts fields onto the profile row and returns the row
	// as stored.
	WriteProfile(ctx context.Context, accessToken, id string, fields map[string]any) (*domain.Profile, error)

	// InviteByCode returns the invite link row, or (nil, nil) when absent.
	InviteByCode(ctx context.Context, code string) (*domain.InviteLink, error)

	// MarkInviteExpired transitions an invite to expired.
	MarkInviteExpired(ctx context.Context, code string) error

	// MarkInviteUsed transitions an invite to used, guarded by the condition
	// that it is still active. Returns false when the guard did not match,
	// meaning another redemption won the race.
	MarkInviteUsed(ctx context.Context, code string, meta domain.InviteLink) (bool, error)

	// Subscribe registers a session-change listener and returns a cancel
	// function.
	Subscribe(fn func(Event)) (cancel func())
}

// Client talks to the identity service over HTTP.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	events Broadcaster
}

var _ API = (*Client)(nil)

// NewClient creates an identity service client for baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Subscribe implements API.
func (c *Client) Subscribe(fn func(Event)) (cancel func()) {
	return c.events.Subscribe(fn)
}
