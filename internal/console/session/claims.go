package session

import "github.com/golang-jwt/jwt/v5"

// roleClaim reads the role claim embedded in an access token. The console is
// not the token's audience verifier, so the claims are parsed without
// signature verification; only the service-side check is authoritative.
// Returns "" for unparseable tokens, which callers treat as "claims stale".
func roleClaim(accessToken string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return ""
	}
	if role, ok := claims["role"].(string); ok {
		return role
	}
	return ""
}
