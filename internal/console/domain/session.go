package domain

import "time"

// Identity is the minimal authenticated principal returned by the identity
// service alongside a session.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is the issued credential plus its metadata. Sessions are replaced
// wholesale on every issue or refresh and never partially mutated.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`

	Identity Identity `json:"identity"`
}

// ExpiresWithin reports whether the session expires within d of now.
func (s Session) ExpiresWithin(d time.Duration) bool {
	return time.Now().Add(d).After(s.ExpiresAt)
}
