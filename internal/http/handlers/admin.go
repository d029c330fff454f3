package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fruitcopy/server/internal/auth"
	"github.com/fruitcopy/server/internal/model"
)

// AdminHandler exposes refresh token history to administrators
type AdminHandler struct {
	authService *auth.AuthService
	logger      *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(authService *auth.AuthService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{authService: authService, logger: logger}
}

// sessionResponse describes one refresh token. The hash is never exposed.
type sessionResponse struct {
	ID                string     `json:"id"`
	PlayerID          string     `json:"player_id"`
	CreatedAt         time.Time  `json:"created_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	Active            bool       `json:"active"`
	RevokedAt         *time.Time `json:"revoked_at,omitempty"`
	RevokedReason     *string    `json:"revoked_reason,omitempty"`
	RevokedByIP       *string    `json:"revoked_by_ip,omitempty"`
	CreatedByIP       *string    `json:"created_by_ip,omitempty"`
	ReplacedByTokenID *string    `json:"replaced_by_token_id,omitempty"`
}

// HandleSessions handles GET /api/admin/players/{playerID}/sessions
func (h *AdminHandler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	playerID, err := uuid.Parse(chi.URLParam(r, "playerID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid player id")
		return
	}

	tokens, err := h.authService.Sessions(r.Context(), playerID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list sessions failed", "player_id", playerID, "error", err)
		respondWithError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}
	respondWithJSON(w, http.StatusOK, newSessionResponses(tokens, time.Now()))
}

// HandleLineage handles GET /api/admin/sessions/{tokenID}/lineage
func (h *AdminHandler) HandleLineage(w http.ResponseWriter, r *http.Request) {
	tokenID, err := uuid.Parse(chi.URLParam(r, "tokenID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid token id")
		return
	}

	chain, err := h.authService.Lineage(r.Context(), tokenID)
	if err != nil {
		if errors.Is(err, auth.ErrTokenInvalid) {
			respondWithError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "lineage lookup failed", "token_id", tokenID, "error", err)
		respondWithError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}
	respondWithJSON(w, http.StatusOK, newSessionResponses(chain, time.Now()))
}

func newSessionResponses(tokens []model.RefreshToken, now time.Time) []sessionResponse {
	out := make([]sessionResponse, 0, len(tokens))
	for _, t := range tokens {
		s := sessionResponse{
			ID:          t.ID.String(),
			PlayerID:    t.PlayerID.String(),
			CreatedAt:   t.CreatedAt,
			ExpiresAt:   t.ExpiresAt,
			Active:      t.IsActive(now),
			RevokedAt:   t.RevokedAt,
			RevokedByIP: t.RevokedByIP,
			CreatedByIP: t.CreatedByIP,
		}
		if t.RevokedReason != nil {
			reason := string(*t.RevokedReason)
			s.RevokedReason = &reason
		}
		if t.ReplacedByTokenID != nil {
			id := t.ReplacedByTokenID.String()
			s.ReplacedByTokenID = &id
		}
		out = append(out, s)
	}
	return out
}
