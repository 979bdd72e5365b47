package http

import (
	"encoding/json"
	"net/http"
)

func (r *Router) registerProfile() {
	r.handle("PATCH /v1/profile", r.handleUpdateProfile)
}

func (r *Router) handleUpdateProfile(w http.ResponseWriter, req *http.Request) {
	var fields map[string]any
	if err := json.NewDecoder(req.Body).Decode(&fields); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if len(fields) == 0 {
		writeErr(w, http.StatusBadRequest, "invalid_request", "no fields to update")
		return
	}

	profile, err := r.Coordinator.UpdateProfile(req.Context(), fields)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, profile)
}
