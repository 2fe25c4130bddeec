package api

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"github.com/gorilla/websocket"

	"github.com/dukepan/splitrooms/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler upgrades a connection to subscribe to one room's event
// feed. Per spec.md §6, subscribers authenticate to the transport
// independently of the core — the token only identifies the caller for
// tracing and keepalive bookkeeping, it doesn't gate the subscription.
func (r *Router) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx, span := otel.Tracer("realtime-server").Start(req.Context(), "WebSocketConnection")
		defer span.End()

		code := req.PathValue("code")
		span.SetAttributes(attribute.String("room.code", code))

		userID := "anonymous"
		if token := req.URL.Query().Get("token"); token != "" {
			if claims, err := r.tokens.Validate(token); err == nil {
				userID = claims.UserID
			}
		}
		span.SetAttributes(attribute.String("user.id", userID))

		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			span.SetStatus(codes.Error, fmt.Sprintf("failed to upgrade websocket connection: %v", err))
			return
		}

		client := realtime.NewClient(conn, code, userID)
		if err := r.hub.Join(ctx, code, client); err != nil {
			span.SetStatus(codes.Error, fmt.Sprintf("failed to join room feed: %v", err))
			conn.Close()
			return
		}

		span.SetStatus(codes.Ok, "websocket connection established")
		client.Run(r.hub, r.logger.WithContext(ctx))
	})
}
