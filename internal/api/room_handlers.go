package api

import (
	"net/http"

	"github.com/dukepan/splitrooms/internal/apierr"
)

// CreateRoomRequest is the body of POST /room/create.
type CreateRoomRequest struct {
	GameName   string `json:"gameName"`
	MaxMembers int    `json:"maxMembers"`
}

func (r *Router) CreateRoomHandler(w http.ResponseWriter, req *http.Request) {
	userID, ok := userIDFromContext(req.Context())
	if !ok {
		r.writeError(w, req, apierr.New(apierr.Unauthenticated, "missing user id"))
		return
	}

	var body CreateRoomRequest
	if err := decodeJSON(req, &body); err != nil {
		r.writeError(w, req, apierr.New(apierr.InvalidInput, "invalid request body"))
		return
	}

	snapshot, err := r.rooms.CreateRoom(req.Context(), userID, body.GameName, body.MaxMembers)
	if err != nil {
		r.writeError(w, req, err)
		return
	}
	r.writeSuccess(w, snapshot)
}

func (r *Router) MyOwnedRoomHandler(w http.ResponseWriter, req *http.Request) {
	userID, ok := userIDFromContext(req.Context())
	if !ok {
		r.writeError(w, req, apierr.New(apierr.Unauthenticated, "missing user id"))
		return
	}

	snapshot, err := r.rooms.GetMyOwnedRoom(req.Context(), userID)
	if err != nil {
		r.writeError(w, req, err)
		return
	}
	r.writeSuccess(w, snapshot)
}

func (r *Router) MyJoinedRoomHandler(w http.ResponseWriter, req *http.Request) {
	userID, ok := userIDFromContext(req.Context())
	if !ok {
		r.writeError(w, req, apierr.New(apierr.Unauthenticated, "missing user id"))
		return
	}

	snapshot, err := r.rooms.GetMyJoinedRoom(req.Context(), userID)
	if err != nil {
		r.writeError(w, req, err)
		return
	}
	r.writeSuccess(w, snapshot)
}

func (r *Router) GetRoomHandler(w http.ResponseWriter, req *http.Request) {
	code := req.PathValue("code")
	snapshot, err := r.rooms.GetRoom(req.Context(), code)
	if err != nil {
		r.writeError(w, req, err)
		return
	}
	r.writeSuccess(w, snapshot)
}

func (r *Router) JoinRoomHandler(w http.ResponseWriter, req *http.Request) {
	userID, ok := userIDFromContext(req.Context())
	if !ok {
		r.writeError(w, req, apierr.New(apierr.Unauthenticated, "missing user id"))
		return
	}

	code := req.PathValue("code")
	snapshot, err := r.rooms.JoinRoom(req.Context(), userID, code)
	if err != nil {
		r.writeError(w, req, err)
		return
	}
	r.writeSuccess(w, snapshot)
}

func (r *Router) LeaveRoomHandler(w http.ResponseWriter, req *http.Request) {
	userID, ok := userIDFromContext(req.Context())
	if !ok {
		r.writeError(w, req, apierr.New(apierr.Unauthenticated, "missing user id"))
		return
	}

	code := req.PathValue("code")
	if err := r.rooms.LeaveRoom(req.Context(), userID, code); err != nil {
		r.writeError(w, req, err)
		return
	}
	r.writeSuccess(w, successMessage{Success: true})
}

func (r *Router) CloseRoomHandler(w http.ResponseWriter, req *http.Request) {
	userID, ok := userIDFromContext(req.Context())
	if !ok {
		r.writeError(w, req, apierr.New(apierr.Unauthenticated, "missing user id"))
		return
	}

	code := req.PathValue("code")
	if err := r.rooms.CloseRoom(req.Context(), userID, code); err != nil {
		r.writeError(w, req, err)
		return
	}
	r.writeSuccess(w, successMessage{Success: true})
}

func (r *Router) DivideTeamsHandler(w http.ResponseWriter, req *http.Request) {
	userID, ok := userIDFromContext(req.Context())
	if !ok {
		r.writeError(w, req, apierr.New(apierr.Unauthenticated, "missing user id"))
		return
	}

	code := req.PathValue("code")
	result, err := r.rooms.DivideTeams(req.Context(), userID, code)
	if err != nil {
		r.writeError(w, req, err)
		return
	}
	r.writeSuccess(w, result)
}

func (r *Router) RedivideTeamsHandler(w http.ResponseWriter, req *http.Request) {
	userID, ok := userIDFromContext(req.Context())
	if !ok {
		r.writeError(w, req, apierr.New(apierr.Unauthenticated, "missing user id"))
		return
	}

	code := req.PathValue("code")
	result, err := r.rooms.RedivideTeams(req.Context(), userID, code)
	if err != nil {
		r.writeError(w, req, err)
		return
	}
	r.writeSuccess(w, result)
}

func (r *Router) GetDivisionResultHandler(w http.ResponseWriter, req *http.Request) {
	code := req.PathValue("code")
	result, err := r.rooms.GetDivisionResult(req.Context(), code)
	if err != nil {
		r.writeError(w, req, err)
		return
	}
	r.writeSuccess(w, result)
}
