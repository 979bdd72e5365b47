package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rideops/console/internal/console/store"
	"github.com/rideops/console/pkg/cryptox"

	_ "modernc.org/sqlite"
)

// Store is a sqlite-backed credential cache. The table holds a single row;
// the refresh token is sealed with the master key before it is written.
type Store struct {
	db *sql.DB
}

var _ store.CredentialStore = (*Store)(nil)

// NewStore opens (or creates) the cache database at dsn.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save implements store.CredentialStore. The single-row upsert means a new
// sign-in silently replaces whatever was cached before.
func (s *Store) Save(ctx context.Context, creds store.Credentials) error {
	sealed, err := cryptox.Seal([]byte(creds.RefreshToken))
	if err != nil {
		return err
	}

	savedAt := creds.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, user_id, refresh_token_sealed, saved_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			refresh_token_sealed = excluded.refresh_token_sealed,
			saved_at = excluded.saved_at
	`, creds.UserID, sealed, savedAt)
	return err
}

// Load implements store.CredentialStore.
func (s *Store) Load(ctx context.Context) (store.Credentials, error) {
	var (
		creds  store.Credentials
		sealed []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, refresh_token_sealed, saved_at FROM credentials WHERE id = 1
	`).Scan(&creds.UserID, &sealed, &creds.SavedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Credentials{}, store.ErrNoCredentials
	}
	if err != nil {
		return store.Credentials{}, err
	}

	plain, err := cryptox.Open(sealed)
	if err != nil {
		// Unreadable cache (key rotated, corrupted row). Treat as absent so
		// the caller falls back to a fresh sign-in.
		return store.Credentials{}, store.ErrNoCredentials
	}
	creds.RefreshToken = string(plain)
	return creds, nil
}

// Clear implements store.CredentialStore.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = 1`)
	return err
}
