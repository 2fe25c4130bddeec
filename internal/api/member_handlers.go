package api

import (
	"net/http"

	"github.com/dukepan/splitrooms/internal/apierr"
	"github.com/dukepan/splitrooms/internal/models"
)

func (r *Router) RemoveMemberHandler(w http.ResponseWriter, req *http.Request) {
	ownerID, ok := userIDFromContext(req.Context())
	if !ok {
		r.writeError(w, req, apierr.New(apierr.Unauthenticated, "missing user id"))
		return
	}

	code := req.PathValue("code")
	memberID := req.PathValue("memberId")

	if err := r.rooms.RemoveMember(req.Context(), ownerID, code, memberID); err != nil {
		r.writeError(w, req, err)
		return
	}
	r.writeSuccess(w, successMessage{Success: true})
}

// SetMemberLabelsRequest is the body of POST /room/{code}/member/{memberId}/labels.
type SetMemberLabelsRequest struct {
	Labels []models.Label `json:"labels"`
}

func (r *Router) SetMemberLabelsHandler(w http.ResponseWriter, req *http.Request) {
	ownerID, ok := userIDFromContext(req.Context())
	if !ok {
		r.writeError(w, req, apierr.New(apierr.Unauthenticated, "missing user id"))
		return
	}

	code := req.PathValue("code")
	memberID := req.PathValue("memberId")

	var body SetMemberLabelsRequest
	if err := decodeJSON(req, &body); err != nil {
		r.writeError(w, req, apierr.New(apierr.InvalidInput, "invalid request body"))
		return
	}

	if _, err := r.rooms.SetMemberLabels(req.Context(), ownerID, code, memberID, body.Labels); err != nil {
		r.writeError(w, req, err)
		return
	}
	r.writeSuccess(w, successMessage{Success: true})
}

// SetLabelRulesRequest is the body of POST /room/{code}/label-rules.
type SetLabelRulesRequest struct {
	LabelRules models.LabelRules `json:"labelRules"`
}

func (r *Router) SetLabelRulesHandler(w http.ResponseWriter, req *http.Request) {
	ownerID, ok := userIDFromContext(req.Context())
	if !ok {
		r.writeError(w, req, apierr.New(apierr.Unauthenticated, "missing user id"))
		return
	}

	code := req.PathValue("code")

	var body SetLabelRulesRequest
	if err := decodeJSON(req, &body); err != nil {
		r.writeError(w, req, apierr.New(apierr.InvalidInput, "invalid request body"))
		return
	}

	if _, err := r.rooms.SetLabelRules(req.Context(), ownerID, code, body.LabelRules); err != nil {
		r.writeError(w, req, err)
		return
	}
	r.writeSuccess(w, successMessage{Success: true})
}
