package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/fruitcopy/server/internal/auth"
	"github.com/fruitcopy/server/internal/model"
	"github.com/fruitcopy/server/internal/repo"
)

type contextKey string

const playerKey contextKey = "player"

// AuthMiddleware validates the bearer access token, loads the player and
// attaches it to the request context
func AuthMiddleware(jwtService *auth.JWTService, players repo.PlayerRepo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondWithError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				respondWithError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				respondWithError(w, http.StatusUnauthorized, "missing token")
				return
			}

			claims, err := jwtService.VerifyAccessToken(tokenString)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			player, err := players.GetByID(r.Context(), claims.PlayerID)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "player not found")
				return
			}

			ctx := context.WithValue(r.Context(), playerKey, &player)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose authenticated player does not have
// role. It must run after AuthMiddleware.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			player, ok := GetPlayer(r.Context())
			if !ok {
				respondWithError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if player.Role != role {
				respondWithError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPlayer returns the player attached to the request context (set by AuthMiddleware)
func GetPlayer(ctx context.Context) (*model.Player, bool) {
	p, ok := ctx.Value(playerKey).(*model.Player)
	return p, ok
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"error": message}
	_ = json.NewEncoder(w).Encode(response)
}
