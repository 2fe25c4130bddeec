package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dukepan/splitrooms/internal/apierr"
	"github.com/dukepan/splitrooms/internal/contextkey"
	"github.com/dukepan/splitrooms/internal/utils"
)

// HealthzHandler provides a simple liveness check.
func (r *Router) HealthzHandler(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// AuthMiddleware resolves the bearer token to a user id and stores it in
// context for downstream handlers and the rate limiter.
func (r *Router) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		tokenString, err := extractBearer(req.Header.Get("Authorization"))
		if err != nil {
			r.writeError(w, req, apierr.New(apierr.Unauthenticated, "authorization token required"))
			return
		}

		claims, err := r.tokens.Validate(tokenString)
		if err != nil {
			r.writeError(w, req, apierr.New(apierr.Unauthenticated, fmt.Sprintf("invalid token: %v", err)))
			return
		}

		ctx := context.WithValue(req.Context(), contextkey.ContextKeyUserID, claims.UserID)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func extractBearer(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) || header == prefix {
		return "", fmt.Errorf("missing bearer token")
	}
	return strings.TrimPrefix(header, prefix), nil
}

func userIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(contextkey.ContextKeyUserID).(string)
	return userID, ok && userID != ""
}

func decodeJSON(req *http.Request, dst interface{}) error {
	if req.Body == nil {
		return fmt.Errorf("empty request body")
	}
	defer req.Body.Close()
	return json.NewDecoder(req.Body).Decode(dst)
}

// writeError maps a domain or transport error onto the {statusCode,
// message, timestamp, path} envelope of spec.md §6.
func (r *Router) writeError(w http.ResponseWriter, req *http.Request, err error) {
	kind := apierr.KindOf(err)
	status := apierr.Status(kind)
	r.logger.Error(req.Context(), "request failed: %v", err)
	utils.RespondError(w, status, err.Error(), req.URL.Path)
}

func (r *Router) writeSuccess(w http.ResponseWriter, data interface{}) {
	utils.RespondSuccess(w, data)
}

type successMessage struct {
	Success bool `json:"success"`
}
