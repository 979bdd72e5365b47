package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rideops/console/internal/console/domain"
	"github.com/rideops/console/internal/console/identity"
)

// fakeClient implements identity.API with per-test behaviour via function
// fields and call counters for asserting how often the network was hit.
type fakeClient struct {
	events identity.Broadcaster

	PasswordGrantFn func(email, password string) (domain.Session, error)
	RefreshGrantFn  func(refreshToken string) (domain.Session, error)
	ExchangeFn      func(token string) (domain.Session, error)
	SignUpFn        func(email, password string, metadata map[string]any) (domain.Session, error)
	RevokeFn        func(accessToken string) error
	FetchProfileFn  func(accessToken, id string) (*domain.Profile, error)
	WriteProfileFn  func(accessToken, id string, fields map[string]any) (*domain.Profile, error)
	InviteByCodeFn  func(code string) (*domain.InviteLink, error)
	MarkExpiredFn   func(code string) error
	MarkUsedFn      func(code string, meta domain.InviteLink) (bool, error)

	passwordCalls atomic.Int32
	refreshCalls  atomic.Int32
	exchangeCalls atomic.Int32
	signUpCalls   atomic.Int32
	revokeCalls   atomic.Int32
	fetchCalls    atomic.Int32
	writeCalls    atomic.Int32
	markUsedCalls atomic.Int32

	mu          sync.Mutex
	subscribers int
}

var _ identity.API = (*fakeClient)(nil)

func (f *fakeClient) PasswordGrant(_ context.Context, email, password string) (domain.Session, error) {
	f.passwordCalls.Add(1)
	if f.PasswordGrantFn == nil {
		return domain.Session{}, fmt.Errorf("fake: password grant not configured")
	}
	return f.PasswordGrantFn(email, password)
}

func (f *fakeClient) RefreshGrant(_ context.Context, refreshToken string) (domain.Session, error) {
	f.refreshCalls.Add(1)
	if f.RefreshGrantFn == nil {
		return domain.Session{}, fmt.Errorf("fake: refresh grant not configured")
	}
	return f.RefreshGrantFn(refreshToken)
}

func (f *fakeClient) ExchangeOneTimeToken(_ context.Context, token string) (domain.Session, error) {
	f.exchangeCalls.Add(1)
	if f.ExchangeFn == nil {
		return domain.Session{}, fmt.Errorf("fake: exchange not configured")
	}
	return f.ExchangeFn(token)
}

func (f *fakeClient) SignUp(_ context.Context, email, password string, metadata map[string]any) (domain.Session, error) {
	f.signUpCalls.Add(1)
	if f.SignUpFn == nil {
		return domain.Session{}, fmt.Errorf("fake: sign up not configured")
	}
	return f.SignUpFn(email, password, metadata)
}

func (f *fakeClient) Revoke(_ context.Context, accessToken string) error {
	f.revokeCalls.Add(1)
	if f.RevokeFn == nil {
		return nil
	}
	return f.RevokeFn(accessToken)
}

func (f *fakeClient) FetchProfile(_ context.Context, accessToken, id string) (*domain.Profile, error) {
	f.fetchCalls.Add(1)
	if f.FetchProfileFn == nil {
		return nil, nil
	}
	return f.FetchProfileFn(accessToken, id)
}

func (f *fakeClient) WriteProfile(_ context.Context, accessToken, id string, fields map[string]any) (*domain.Profile, error) {
	f.writeCalls.Add(1)
	if f.WriteProfileFn == nil {
		return nil, fmt.Errorf("fake: write profile not configured")
	}
	return f.WriteProfileFn(accessToken, id, fields)
}

func (f *fakeClient) InviteByCode(_ context.Context, code string) (*domain.InviteLink, error) {
	if f.InviteByCodeFn == nil {
		return nil, nil
	}
	return f.InviteByCodeFn(code)
}

func (f *fakeClient) MarkInviteExpired(_ context.Context, code string) error {
	if f.MarkExpiredFn == nil {
		return nil
	}
	return f.MarkExpiredFn(code)
}

func (f *fakeClient) MarkInviteUsed(_ context.Context, code string, meta domain.InviteLink) (bool, error) {
	f.markUsedCalls.Add(1)
	if f.MarkUsedFn == nil {
		return true, nil
	}
	return f.MarkUsedFn(code, meta)
}

func (f *fakeClient) Subscribe(fn func(identity.Event)) (cancel func()) {
	f.mu.Lock()
	f.subscribers++
	f.mu.Unlock()
	return f.events.Subscribe(fn)
}

func (f *fakeClient) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribers
}

// testSession builds a session for user id with predictable token material.
func testSession(id, suffix string) domain.Session {
	return domain.Session{
		AccessToken:  "at-" + id + "-" + suffix,
		RefreshToken: "rt-" + id + "-" + suffix,
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
		Identity: domain.Identity{
			ID:    id,
			Email: id + "@rideops.test",
		},
	}
}

func newTestCoordinator(t *testing.T, client identity.API) *Coordinator {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(client, nil, logger, Config{
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	})
}

// apiError builds an identity service error for classification tests.
func apiError(status int, code string) *identity.APIError {
	return &identity.APIError{Status: status, Code: code, Message: code}
}
