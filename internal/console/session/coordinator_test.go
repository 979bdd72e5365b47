package session

import (
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rideops/console/internal/console/domain"
	"github.com/stretchr/testify/require"
)

// signedToken builds a real JWT carrying a role claim, for tests that need
// the embedded claims to already match the profile.
func signedToken(t *testing.T, role string) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "u1",
		"role": role,
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

func signInAs(t *testing.T, c *Coordinator, client *fakeClient, id string) {
	t.Helper()

	client.PasswordGrantFn = func(_, _ string) (domain.Session, error) {
		return testSession(id, "initial"), nil
	}
	require.NoError(t, c.SignIn(t.Context(), id+"@rideops.test", "secret"))
}

func TestSignIn(t *testing.T) {
	t.Parallel()

	t.Run("driver with role gets full state", func(t *testing.T) {
		client := &fakeClient{
			PasswordGrantFn: func(_, _ string) (domain.Session, error) {
				return testSession("u1", "initial"), nil
			},
			RefreshGrantFn: func(_ string) (domain.Session, error) {
				return testSession("u1", "refreshed"), nil
			},
			FetchProfileFn: func(_, id string) (*domain.Profile, error) {
				return &domain.Profile{ID: id, FullName: "Dana Driver", Role: "driver"}, nil
			},
		}
		c := newTestCoordinator(t, client)

		require.NoError(t, c.SignIn(t.Context(), "u1@rideops.test", "secret"))

		snap := c.Snapshot()
		require.Equal(t, StateAuthenticated, snap.State)
		require.NotNil(t, snap.Session)
		require.NotNil(t, snap.Identity)
		require.NotNil(t, snap.Profile)
		require.Equal(t, "driver", snap.Profile.Role)
		require.Equal(t, "u1", snap.Identity.ID)

		// The fake access token carries no role claim, so the role-claim
		// refresh must have happened exactly once.
		require.Equal(t, int32(1), client.refreshCalls.Load())
	})

	t.Run("no refresh when embedded claims already current", func(t *testing.T) {
		token := signedToken(t, "driver")
		client := &fakeClient{
			PasswordGrantFn: func(_, _ string) (domain.Session, error) {
				sess := testSession("u1", "initial")
				sess.AccessToken = token
				return sess, nil
			},
			FetchProfileFn: func(_, id string) (*domain.Profile, error) {
				return &domain.Profile{ID: id, Role: "driver"}, nil
			},
		}
		c := newTestCoordinator(t, client)

		require.NoError(t, c.SignIn(t.Context(), "u1@rideops.test", "secret"))
		require.Equal(t, int32(0), client.refreshCalls.Load())
	})

	t.Run("invalid credentials surface verbatim with no state change", func(t *testing.T) {
		wantErr := apiError(http.StatusBadRequest, "invalid_credentials")
		client := &fakeClient{
			PasswordGrantFn: func(_, _ string) (domain.Session, error) {
				return domain.Session{}, wantErr
			},
		}
		c := newTestCoordinator(t, client)

		err := c.SignIn(t.Context(), "u1@rideops.test", "wrong")
		require.ErrorIs(t, err, wantErr)

		snap := c.Snapshot()
		require.Nil(t, snap.Session)
		require.Nil(t, snap.Identity)
		require.Nil(t, snap.Profile)
	})

	t.Run("fatal role refresh fails the whole sign-in", func(t *testing.T) {
		client := &fakeClient{
			PasswordGrantFn: func(_, _ string) (domain.Session, error) {
				return testSession("u1", "initial"), nil
			},
			RefreshGrantFn: func(_ string) (domain.Session, error) {
				return domain.Session{}, apiError(http.StatusUnauthorized, "invalid_grant")
			},
			FetchProfileFn: func(_, id string) (*domain.Profile, error) {
				return &domain.Profile{ID: id, Role: "driver"}, nil
			},
		}
		c := newTestCoordinator(t, client)

		err := c.SignIn(t.Context(), "u1@rideops.test", "secret")
		require.Error(t, err)

		// A session the console cannot refresh is not a usable session.
		snap := c.Snapshot()
		require.Equal(t, StateUnauthenticated, snap.State)
		require.Nil(t, snap.Session)
		require.Nil(t, snap.Identity)
		require.Nil(t, snap.Profile)
	})

	t.Run("absent profile row is a valid signed-in state", func(t *testing.T) {
		client := &fakeClient{
			PasswordGrantFn: func(_, _ string) (domain.Session, error) {
				return testSession("u1", "initial"), nil
			},
		}
		c := newTestCoordinator(t, client)

		require.NoError(t, c.SignIn(t.Context(), "u1@rideops.test", "secret"))

		snap := c.Snapshot()
		require.Equal(t, StateAuthenticated, snap.State)
		require.NotNil(t, snap.Session)
		require.Nil(t, snap.Profile)
		require.Equal(t, int32(0), client.refreshCalls.Load())
	})
}

func TestRefreshSingleFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := make(chan struct{})
	var enterOnce sync.Once

	client := &fakeClient{
		RefreshGrantFn: func(_ string) (domain.Session, error) {
			enterOnce.Do(func() { close(entered) })
			<-release
			return testSession("u1", "refreshed"), nil
		},
	}
	c := newTestCoordinator(t, client)
	signInAs(t, c, client, "u1")
	require.Equal(t, int32(0), client.refreshCalls.Load())

	// One goroutine enters the refresh body and blocks on the network call.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Refresh(t.Context())
	}()
	<-entered

	// Everything issued while the first is in flight must be a no-op.
	var concurrent sync.WaitGroup
	for range 8 {
		concurrent.Add(1)
		go func() {
			defer concurrent.Done()
			c.Refresh(t.Context())
		}()
	}
	concurrent.Wait()

	close(release)
	wg.Wait()

	require.Equal(t, int32(1), client.refreshCalls.Load())
	require.Equal(t, "at-u1-refreshed", c.Snapshot().Session.AccessToken)
}

func TestRefreshFatalFailure(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		RefreshGrantFn: func(_ string) (domain.Session, error) {
			return domain.Session{}, apiError(http.StatusUnauthorized, "invalid_grant")
		},
	}
	c := newTestCoordinator(t, client)
	signInAs(t, c, client, "u1")

	c.Refresh(t.Context())

	snap := c.Snapshot()
	require.Equal(t, StateUnauthenticated, snap.State)
	require.Nil(t, snap.Session)
	require.Nil(t, snap.Identity)
	require.Nil(t, snap.Profile)

	// Fatal classification is never retried, and the server-side sign-out
	// was attempted best-effort.
	require.Equal(t, int32(1), client.refreshCalls.Load())
	require.Equal(t, int32(1), client.revokeCalls.Load())
}

func TestRefreshRetryableExhaustion(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		RefreshGrantFn: func(_ string) (domain.Session, error) {
			return domain.Session{}, apiError(http.StatusTooManyRequests, "over_request_rate_limit")
		},
	}
	c := newTestCoordinator(t, client)
	signInAs(t, c, client, "u1")
	before := c.Snapshot()

	c.Refresh(t.Context())

	// All attempts consumed, existing session retained untouched:
	// stale-but-valid beats a forced logout on a transient failure.
	require.Equal(t, int32(3), client.refreshCalls.Load())
	after := c.Snapshot()
	require.Equal(t, StateAuthenticated, after.State)
	require.Equal(t, before.Session.AccessToken, after.Session.AccessToken)
	require.Equal(t, before.Session.RefreshToken, after.Session.RefreshToken)
	require.Equal(t, int32(0), client.revokeCalls.Load())
}

func TestRefreshWithoutSession(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	c := newTestCoordinator(t, client)

	c.Refresh(t.Context())

	require.Equal(t, StateUnauthenticated, c.Snapshot().State)
	require.Equal(t, int32(0), client.refreshCalls.Load())
}

func TestSignOut(t *testing.T) {
	t.Parallel()

	t.Run("clears state and revokes remotely", func(t *testing.T) {
		client := &fakeClient{}
		c := newTestCoordinator(t, client)
		signInAs(t, c, client, "u1")

		c.SignOut(t.Context())

		snap := c.Snapshot()
		require.Equal(t, StateUnauthenticated, snap.State)
		require.Nil(t, snap.Session)
		require.Equal(t, int32(1), client.revokeCalls.Load())
	})

	t.Run("network failure cannot block local teardown", func(t *testing.T) {
		client := &fakeClient{
			RevokeFn: func(_ string) error {
				return errors.New("connection refused")
			},
		}
		c := newTestCoordinator(t, client)
		signInAs(t, c, client, "u1")

		c.SignOut(t.Context())

		snap := c.Snapshot()
		require.Equal(t, StateUnauthenticated, snap.State)
		require.Nil(t, snap.Session)
		require.Nil(t, snap.Identity)
		require.Nil(t, snap.Profile)
	})

	t.Run("signing out twice is harmless", func(t *testing.T) {
		client := &fakeClient{}
		c := newTestCoordinator(t, client)
		signInAs(t, c, client, "u1")

		c.SignOut(t.Context())
		c.SignOut(t.Context())
		require.Equal(t, StateUnauthenticated, c.Snapshot().State)
		require.Equal(t, int32(1), client.revokeCalls.Load())
	})
}

func TestUpdateProfile(t *testing.T) {
	t.Parallel()

	t.Run("requires a session", func(t *testing.T) {
		c := newTestCoordinator(t, &fakeClient{})
		_, err := c.UpdateProfile(t.Context(), map[string]any{"full_name": "X"})
		require.ErrorIs(t, err, ErrNotAuthenticated)
	})

	t.Run("role write triggers exactly one refresh", func(t *testing.T) {
		var written *domain.Profile
		client := &fakeClient{
			RefreshGrantFn: func(_ string) (domain.Session, error) {
				return testSession("u1", "refreshed"), nil
			},
			WriteProfileFn: func(_, id string, fields map[string]any) (*domain.Profile, error) {
				written = &domain.Profile{ID: id, Role: fields["role"].(string)}
				return written, nil
			},
			FetchProfileFn: func(_, _ string) (*domain.Profile, error) {
				return written, nil
			},
		}
		c := newTestCoordinator(t, client)
		signInAs(t, c, client, "u1")
		require.Equal(t, int32(0), client.refreshCalls.Load())

		profile, err := c.UpdateProfile(t.Context(), map[string]any{"role": domain.RolePartner})
		require.NoError(t, err)
		require.Equal(t, "partner", profile.Role)
		require.Equal(t, int32(1), client.refreshCalls.Load())
		require.Equal(t, "partner", c.Snapshot().Profile.Role)
	})

	t.Run("non-role write does not refresh", func(t *testing.T) {
		client := &fakeClient{
			WriteProfileFn: func(_, id string, fields map[string]any) (*domain.Profile, error) {
				return &domain.Profile{ID: id, FullName: fields["full_name"].(string)}, nil
			},
		}
		c := newTestCoordinator(t, client)
		signInAs(t, c, client, "u1")

		_, err := c.UpdateProfile(t.Context(), map[string]any{"full_name": "New Name"})
		require.NoError(t, err)
		require.Equal(t, int32(0), client.refreshCalls.Load())
	})

	t.Run("fatal refresh after role write surfaces as error", func(t *testing.T) {
		client := &fakeClient{
			RefreshGrantFn: func(_ string) (domain.Session, error) {
				return domain.Session{}, apiError(http.StatusBadRequest, "invalid_grant")
			},
			WriteProfileFn: func(_, id string, fields map[string]any) (*domain.Profile, error) {
				return &domain.Profile{ID: id, Role: "partner"}, nil
			},
		}
		c := newTestCoordinator(t, client)
		signInAs(t, c, client, "u1")

		// The write itself succeeded and is not rolled back; the error
		// reports the claim refresh failure.
		profile, err := c.UpdateProfile(t.Context(), map[string]any{"role": domain.RolePartner})
		require.Error(t, err)
		require.NotNil(t, profile)
		require.Equal(t, StateUnauthenticated, c.Snapshot().State)
	})
}

func TestInitialize(t *testing.T) {
	t.Parallel()

	t.Run("no cache, no launch URL", func(t *testing.T) {
		c := newTestCoordinator(t, &fakeClient{})
		c.Initialize(t.Context(), "")

		snap := c.Snapshot()
		require.Equal(t, StateUnauthenticated, snap.State)
		require.False(t, snap.Loading)
	})

	t.Run("snapshot reports loading before initialize completes", func(t *testing.T) {
		c := newTestCoordinator(t, &fakeClient{})
		require.True(t, c.Snapshot().Loading)

		c.Initialize(t.Context(), "")
		require.False(t, c.Snapshot().Loading)
	})

	t.Run("adopts session from launch URL token", func(t *testing.T) {
		client := &fakeClient{
			ExchangeFn: func(token string) (domain.Session, error) {
				require.Equal(t, "magic", token)
				return testSession("u1", "boot"), nil
			},
		}
		c := newTestCoordinator(t, client)
		c.Initialize(t.Context(), "https://console.rideops.test/partner?one_time_token=magic")

		snap := c.Snapshot()
		require.Equal(t, StateAuthenticated, snap.State)
		require.Equal(t, "u1", snap.Identity.ID)
	})

	t.Run("initialization failures start unauthenticated, not fatal", func(t *testing.T) {
		client := &fakeClient{
			ExchangeFn: func(_ string) (domain.Session, error) {
				return domain.Session{}, errors.New("identity service down")
			},
		}
		c := newTestCoordinator(t, client)
		c.Initialize(t.Context(), "https://console.rideops.test/?one_time_token=magic")

		snap := c.Snapshot()
		require.Equal(t, StateUnauthenticated, snap.State)
		require.False(t, snap.Loading)
	})
}

func TestSnapshotIsolation(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	c := newTestCoordinator(t, client)
	signInAs(t, c, client, "u1")

	snap := c.Snapshot()
	snap.Session.AccessToken = "mutated"
	snap.Identity.ID = "mutated"

	fresh := c.Snapshot()
	require.Equal(t, "at-u1-initial", fresh.Session.AccessToken)
	require.Equal(t, "u1", fresh.Identity.ID)
}

func TestSessionExpiresWithin(t *testing.T) {
	t.Parallel()

	sess := domain.Session{ExpiresAt: time.Now().Add(2 * time.Minute)}
	require.True(t, sess.ExpiresWithin(5*time.Minute))
	require.False(t, sess.ExpiresWithin(time.Minute))
}
