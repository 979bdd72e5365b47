package domain

import "time"

// Invite link statuses. An invite is consumed exactly once: active -> used,
// or active -> expired. Neither transition is reversible.
const (
	InviteActive  = "active"
	InviteUsed    = "used"
	InviteExpired = "expired"
)

// InviteLink is a redeemable signup code, optionally carrying a role grant.
type InviteLink struct {
	Code      string     `json:"code"`
	Status    string     `json:"status"`
	Role      string     `json:"role,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Redemption metadata, populated when the invite is consumed.
	UsedBy    string     `json:"used_by,omitempty"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	ReceiptID string     `json:"receipt_id,omitempty"`
}

// TimedOut reports whether an invite's expiry timestamp has passed. An
// invite can be status "active" yet timed out when nothing has touched the
// row since the deadline.
func (i InviteLink) TimedOut(now time.Time) bool {
	return i.ExpiresAt != nil && now.After(*i.ExpiresAt)
}
