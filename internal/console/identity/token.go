package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rideops/console/internal/console/domain"
)

// expiryBuffer is subtracted from the reported token lifetime so refreshes
// happen before the service actually rejects the token.
const expiryBuffer = 30 * time.Second

// tokenResponse is the token endpoint's wire format.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// PasswordGrant implements API.
func (c *Client) PasswordGrant(ctx context.Context, email, password string) (domain.Session, error) {
	return c.requestToken(ctx, "password", map[string]any{
		"email":    email,
		"password": password,
	})
}

// RefreshGrant implements API. A successful rotation is announced on the
// event stream.
func (c *Client) RefreshGrant(ctx context.Context, refreshToken string) (domain.Session, error) {
	sess, err := c.requestToken(ctx, "refresh_token", map[string]any{
		"refresh_token": refreshToken,
	})
	if err != nil {
		return domain.Session{}, err
	}

	c.events.Emit(Event{Kind: EventUpdated, Session: &sess})
	return sess, nil
}

// ExchangeOneTimeToken implements API.
func (c *Client) ExchangeOneTimeToken(ctx context.Context, token string) (domain.Session, error) {
	return c.requestToken(ctx, "one_time_token", map[string]any{
		"token": token,
	})
}

// SignUp implements API. Metadata travels with the account for server-side
// processing (display name, phone, invite code).
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (domain.Session, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
	}
	if len(metadata) > 0 {
		body["data"] = metadata
	}

	resp, err := c.doJSON(ctx, http.MethodPost, c.BaseURL+"/v1/signup", "", body, endpointToken)
	if err != nil {
		return domain.Session{}, err
	}
	return decodeSession(resp)
}

// Revoke implements API and announces the sign-out on the event stream.
func (c *Client) Revoke(ctx context.Context, accessToken string) error {
	_, err := c.doJSON(ctx, http.MethodPost, c.BaseURL+"/v1/logout", accessToken, nil, endpointAuth)
	if err != nil {
		return err
	}

	c.events.Emit(Event{Kind: EventSignedOut})
	return nil
}

func (c *Client) requestToken(ctx context.Context, grantType string, body map[string]any) (domain.Session, error) {
	url := fmt.Sprintf("%s/v1/token?grant_type=%s", c.BaseURL, grantType)
	resp, err := c.doJSON(ctx, http.MethodPost, url, "", body, endpointToken)
	if err != nil {
		return domain.Session{}, err
	}
	return decodeSession(resp)
}

func decodeSession(body []byte) (domain.Session, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return domain.Session{}, fmt.Errorf("failed to decode token response: %w", err)
	}

	return domain.Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - expiryBuffer),
		Identity: domain.Identity{
			ID:    tr.User.ID,
			Email: tr.User.Email,
		},
	}, nil
}

// doJSON performs a JSON request and returns the response body, converting
// non-2xx responses into *APIError.
func (c *Client) doJSON(ctx context.Context, method, url, accessToken string, body any, endpoint string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseErrorResponse(resp.StatusCode, endpoint, respBody)
	}
	return respBody, nil
}
