package domain

import "time"

// Console roles. The role lives on the profile row; the identity service
// also embeds it as a claim in issued access tokens.
const (
	RoleAdmin   = "admin"
	RolePartner = "partner"
)

// Profile is the application-level record for an identity. A freshly created
// account has no profile row yet, so callers must treat absence as a valid
// state rather than an error.
type Profile struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	Phone     string    `json:"phone"`
	Role      string    `json:"role"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasRole reports whether the profile carries an assigned role.
func (p Profile) HasRole() bool { return p.Role != "" }
