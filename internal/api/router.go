package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukepan/splitrooms/internal/auth"
	"github.com/dukepan/splitrooms/internal/middleware"
	"github.com/dukepan/splitrooms/internal/realtime"
	"github.com/dukepan/splitrooms/internal/roomservice"
	"github.com/dukepan/splitrooms/internal/utils"
)

// Router is the HTTP surface over internal/roomservice: one ServeMux
// wrapped in request-id and tracing middleware, with auth + rate limiting
// applied per protected route.
type Router struct {
	mux      *http.ServeMux
	rooms    *roomservice.Service
	tokens   *auth.TokenManager
	provider auth.Provider
	hub      *realtime.Hub
	logger   *utils.Logger
}

// NewRouter wires every route in spec.md §6's table under the /api prefix
// §6 requires, plus the /api/auth/login entry point into the
// credential-exchange Provider that issues the bearer tokens those routes
// require. /healthz and /metrics stay unprefixed, matching the teacher's
// own split between its public API surface and ops endpoints.
func NewRouter(rooms *roomservice.Service, tokens *auth.TokenManager, provider auth.Provider, hub *realtime.Hub, rateLimiter *middleware.RateLimiter, logger *utils.Logger) http.Handler {
	r := &Router{
		mux:      http.NewServeMux(),
		rooms:    rooms,
		tokens:   tokens,
		provider: provider,
		hub:      hub,
		logger:   logger,
	}

	r.mux.HandleFunc("GET /healthz", r.HealthzHandler)
	r.mux.Handle("GET /metrics", promhttp.Handler())
	r.mux.HandleFunc("POST /api/auth/login", r.LoginHandler)

	protect := func(h http.HandlerFunc) http.Handler {
		return r.AuthMiddleware(rateLimiter.Middleware(h))
	}

	r.mux.Handle("POST /api/room/create", protect(r.CreateRoomHandler))
	r.mux.Handle("GET /api/room/my-room", protect(r.MyOwnedRoomHandler))
	r.mux.Handle("GET /api/room/my-joined-room", protect(r.MyJoinedRoomHandler))
	r.mux.Handle("GET /api/room/{code}", protect(r.GetRoomHandler))
	r.mux.Handle("POST /api/room/{code}/join", protect(r.JoinRoomHandler))
	r.mux.Handle("POST /api/room/{code}/leave", protect(r.LeaveRoomHandler))
	r.mux.Handle("POST /api/room/{code}/remove/{memberId}", protect(r.RemoveMemberHandler))
	r.mux.Handle("DELETE /api/room/{code}", protect(r.CloseRoomHandler))
	r.mux.Handle("POST /api/room/{code}/divide", protect(r.DivideTeamsHandler))
	r.mux.Handle("POST /api/room/{code}/redivide", protect(r.RedivideTeamsHandler))
	r.mux.Handle("GET /api/room/{code}/result", protect(r.GetDivisionResultHandler))
	r.mux.Handle("POST /api/room/{code}/member/{memberId}/labels", protect(r.SetMemberLabelsHandler))
	r.mux.Handle("POST /api/room/{code}/label-rules", protect(r.SetLabelRulesHandler))

	r.mux.Handle("GET /api/room/{code}/ws", r.WebSocketHandler())

	var handler http.Handler = r.mux
	handler = middleware.TracingMiddleware(handler)
	handler = middleware.RequestIDMiddleware(handler)
	return handler
}

// ServeHTTP makes Router itself usable as an http.Handler in tests.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}
