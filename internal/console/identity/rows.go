package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rideops/console/internal/console/domain"
)

// Row access uses the service's filtered endpoints: a query parameter of the
// form column=eq.value selects rows, and PATCH with such filters updates
// only the rows that still match, which is what makes the invite redemption
// guard race-free.

// FetchProfile implements API.
func (c *Client) FetchProfile(ctx context.Context, accessToken, id string) (*domain.Profile, error) {
	u := fmt.Sprintf("%s/v1/rows/profiles?id=eq.%s", c.BaseURL, url.QueryEscape(id))
	body, err := c.doJSON(ctx, http.MethodGet, u, accessToken, nil, endpointRows)
	if err != nil {
		return nil, err
	}

	var rows []domain.Profile
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode profile rows: %w", err)
	}
	if len(rows) == 0 {
		// No row yet for this identity. Valid state, not an error.
		return nil, nil
	}
	return &rows[0], nil
}

// WriteProfile implements API.
func (c *Client) WriteProfile(ctx context.Context, accessToken, id string, fields map[string]any) (*domain.Profile, error) {
	u := fmt.Sprintf("%s/v1/rows/profiles?id=eq.%s", c.BaseURL, url.QueryEscape(id))
	body, err := c.doJSON(ctx, http.MethodPatch, u, accessToken, fields, endpointRows)
	if err != nil {
		return nil, err
	}

	var rows []domain.Profile
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode profile rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, &APIError{
			Status:   http.StatusNotFound,
			Message:  "profile row not found for update",
			Endpoint: endpointRows,
		}
	}
	return &rows[0], nil
}

// InviteByCode implements API. Invite lookups are anonymous by design: the
// service's access rules expose invite links to unauthenticated callers so
// signup can validate codes before an account exists.
func (c *Client) InviteByCode(ctx context.Context, code string) (*domain.InviteLink, error) {
	u := fmt.Sprintf("%s/v1/rows/invite_links?code=eq.%s", c.BaseURL, url.QueryEscape(code))
	body, err := c.doJSON(ctx, http.MethodGet, u, "", nil, endpointRows)
	if err != nil {
		return nil, err
	}

	var rows []domain.InviteLink
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode invite rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// MarkInviteExpired implements API.
func (c *Client) MarkInviteExpired(ctx context.Context, code string) error {
	u := fmt.Sprintf("%s/v1/rows/invite_links?code=eq.%s", c.BaseURL, url.QueryEscape(code))
	_, err := c.doJSON(ctx, http.MethodPatch, u, "", map[string]any{
		"status": domain.InviteExpired,
	}, endpointRows)
	return err
}

// MarkInviteUsed implements API. The status=eq.active filter is the
// optimistic guard: when two signups race on one code, only the first PATCH
// matches a row and the second sees zero rows updated.
func (c *Client) MarkInviteUsed(ctx context.Context, code string, meta domain.InviteLink) (bool, error) {
	u := fmt.Sprintf("%s/v1/rows/invite_links?code=eq.%s&status=eq.%s",
		c.BaseURL, url.QueryEscape(code), domain.InviteActive)

	usedAt := meta.UsedAt
	if usedAt == nil {
		now := time.Now().UTC()
		usedAt = &now
	}

	body, err := c.doJSON(ctx, http.MethodPatch, u, "", map[string]any{
		"status":     domain.InviteUsed,
		"used_by":    meta.UsedBy,
		"used_at":    usedAt,
		"receipt_id": meta.ReceiptID,
	}, endpointRows)
	if err != nil {
		return false, err
	}

	var rows []domain.InviteLink
	if err := json.Unmarshal(body, &rows); err != nil {
		return false, fmt.Errorf("failed to decode invite rows: %w", err)
	}
	return len(rows) > 0, nil
}
