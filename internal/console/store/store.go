// Package store defines the credential cache: the console's local,
// restart-surviving copy of the refresh credential. It is a cache only; the
// identity service remains the source of truth for session validity.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNoCredentials is returned by Load when nothing is cached.
var ErrNoCredentials = errors.New("store: no cached credentials")

// Credentials is the persisted material needed to resume a session after a
// process restart. The refresh token is sealed before it touches disk.
type Credentials struct {
	UserID       string
	RefreshToken string
	SavedAt      time.Time
}

// CredentialStore persists at most one set of credentials.
type CredentialStore interface {
	Save(ctx context.Context, creds Credentials) error
	Load(ctx context.Context) (Credentials, error)
	Clear(ctx context.Context) error
	Close() error
}
