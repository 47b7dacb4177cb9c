package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/documed/documed/libs/auth"
	"github.com/documed/documed/services/scheduling-service/internal/model"
	"github.com/documed/documed/services/scheduling-service/internal/scheduling"
)

type actorContextKey struct{}

// ActorFromContext returns the authenticated actor placed by WithIdentity.
func ActorFromContext(ctx context.Context) (scheduling.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(scheduling.Actor)
	return actor, ok
}

// WithIdentity authenticates the request. A Bearer token is verified against
// the shared secret; when the gateway has already terminated auth it forwards
// the identity as X-Actor-Id / X-Actor-Role instead, which we trust only if
// no token is present.
func WithIdentity(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := resolveActor(r, jwtSecret)
			if !ok {
				http.Error(w, "missing or invalid credentials", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), actorContextKey{}, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveActor(r *http.Request, jwtSecret string) (scheduling.Actor, bool) {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" || jwtSecret == "" {
			return scheduling.Actor{}, false
		}
		claims, err := auth.ParseAndVerifyHS256(token, jwtSecret)
		if err != nil {
			return scheduling.Actor{}, false
		}
		role, ok := model.ParseRole(claims.Role)
		if !ok || claims.Sub == "" {
			return scheduling.Actor{}, false
		}
		return scheduling.Actor{ID: claims.Sub, Role: role}, true
	}

	id := strings.TrimSpace(r.Header.Get("X-Actor-Id"))
	role, ok := model.ParseRole(strings.TrimSpace(r.Header.Get("X-Actor-Role")))
	if id == "" || !ok {
		return scheduling.Actor{}, false
	}
	return scheduling.Actor{ID: id, Role: role}, true
}
