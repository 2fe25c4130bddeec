package api

import (
	"net/http"

	"github.com/dukepan/splitrooms/internal/apierr"
)

// LoginRequest is the body of POST /api/auth/login: an opaque credential
// handed to the configured Provider for exchange.
type LoginRequest struct {
	Credential string `json:"credential"`
}

// LoginResponse carries the bearer token handlers on protected routes expect.
type LoginResponse struct {
	Token       string `json:"token"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// LoginHandler exchanges a credential for a session token via the
// configured auth.Provider. Not part of spec.md's route table (the spec
// treats authentication as an external collaborator) but a concrete entry
// point is required for any of the protected routes to be reachable.
func (r *Router) LoginHandler(w http.ResponseWriter, req *http.Request) {
	var body LoginRequest
	if err := decodeJSON(req, &body); err != nil {
		r.writeError(w, req, apierr.New(apierr.InvalidInput, "invalid request body"))
		return
	}

	userID, displayName, err := r.provider.Exchange(req.Context(), body.Credential)
	if err != nil {
		r.writeError(w, req, err)
		return
	}

	token, err := r.tokens.Generate(userID)
	if err != nil {
		r.writeError(w, req, apierr.Wrap(apierr.Internal, err))
		return
	}

	r.writeSuccess(w, LoginResponse{Token: token, UserID: userID, DisplayName: displayName})
}
