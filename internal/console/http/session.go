package http

import (
	"encoding/json"
	"net/http"

	"github.com/rideops/console/internal/console/session"
	"github.com/rideops/console/pkg/httpx"
)

func (r *Router) registerSession() {
	strict := httpx.RateLimit(httpx.StrictLimit, httpx.IPKey)

	r.handle("POST /v1/session/sign-in", r.handleSignIn, strict)
	r.handle("POST /v1/session/sign-up", r.handleSignUp, strict)
	r.handle("POST /v1/session/sign-out", r.handleSignOut)
	r.handle("POST /v1/session/refresh", r.handleRefresh)
	r.handle("POST /v1/session/bootstrap", r.handleBootstrap)
	r.handle("GET /v1/session", r.handleGetSession)
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *Router) handleSignIn(w http.ResponseWriter, req *http.Request) {
	var body signInRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if body.Email == "" || body.Password == "" {
		writeErr(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	if err := r.Coordinator.SignIn(req.Context(), body.Email, body.Password); err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, r.Coordinator.Snapshot())
}

type signUpRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	InviteCode string `json:"invite_code,omitempty"`
}

func (r *Router) handleSignUp(w http.ResponseWriter, req *http.Request) {
	var body signUpRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if body.Email == "" || body.Password == "" {
		writeErr(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ident, err := r.Coordinator.SignUp(req.Context(), session.SignUpParams{
		Email:      body.Email,
		Password:   body.Password,
		FullName:   body.FullName,
		Phone:      body.Phone,
		InviteCode: body.InviteCode,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusCreated, ident)
}

func (r *Router) handleSignOut(w http.ResponseWriter, req *http.Request) {
	r.Coordinator.SignOut(req.Context())
	respond(w, http.StatusOK, r.Coordinator.Snapshot())
}

// handleRefresh triggers a refresh and reports the resulting state. When a
// refresh is already in flight the trigger is a no-op and the caller simply
// sees the current snapshot.
func (r *Router) handleRefresh(w http.ResponseWriter, req *http.Request) {
	r.Coordinator.Refresh(req.Context())
	respond(w, http.StatusOK, r.Coordinator.Snapshot())
}

type bootstrapRequest struct {
	URL string `json:"url"`
}

type bootstrapResponse struct {
	URL     string `json:"url"`
	Adopted bool   `json:"adopted"`
}

// handleBootstrap lets a portal hand in the landing URL it was opened with.
// The response carries the URL scrubbed of the one-time credential; the
// portal must redirect to it so the token never lingers in history.
func (r *Router) handleBootstrap(w http.ResponseWriter, req *http.Request) {
	var body bootstrapRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if body.URL == "" {
		writeErr(w, http.StatusBadRequest, "invalid_request", "url is required")
		return
	}

	clean, adopted := r.Coordinator.BootstrapFromURL(req.Context(), body.URL)
	respond(w, http.StatusOK, bootstrapResponse{URL: clean, Adopted: adopted})
}

func (r *Router) handleGetSession(w http.ResponseWriter, req *http.Request) {
	respond(w, http.StatusOK, r.Coordinator.Snapshot())
}
