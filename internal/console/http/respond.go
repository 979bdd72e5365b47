package http

import (
	"errors"
	"net/http"

	"github.com/rideops/console/internal/console/identity"
	"github.com/rideops/console/internal/console/session"
	"github.com/rideops/console/pkg/httpx"
)

// envelope is the uniform response shape for all portal-facing endpoints.
type envelope struct {
	Data  any       `json:"data,omitempty"`
	Error *errBody  `json:"error,omitempty"`
}

type errBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respond(w http.ResponseWriter, status int, data any) {
	httpx.WriteJSON(w, status, envelope{Data: data})
}

// respondErr maps an operation error to the envelope. Coordinator sentinels
// and identity service errors keep their meaning; everything else collapses
// to an opaque internal error so backend details never leak to the portal.
func respondErr(w http.ResponseWriter, err error) {
	var apiErr *identity.APIError

	switch {
	case errors.Is(err, session.ErrNotAuthenticated):
		writeErr(w, http.StatusUnauthorized, "not_authenticated", "sign in to perform this action")
	case errors.Is(err, session.ErrInviteNotFound):
		writeErr(w, http.StatusUnprocessableEntity, "invite_not_found", "invite code not found")
	case errors.Is(err, session.ErrInviteAlreadyUsed):
		writeErr(w, http.StatusConflict, "invite_already_used", "invite code has already been used")
	case errors.Is(err, session.ErrInviteExpired):
		writeErr(w, http.StatusUnprocessableEntity, "invite_expired", "invite code has expired")
	case errors.As(err, &apiErr):
		status := apiErr.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		code := apiErr.Code
		if code == "" {
			code = "identity_error"
		}
		writeErr(w, status, code, apiErr.Message)
	default:
		writeErr(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	httpx.WriteJSON(w, status, envelope{Error: &errBody{Code: code, Message: message}})
}
