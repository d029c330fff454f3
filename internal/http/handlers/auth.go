package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fruitcopy/server/internal/auth"
	"github.com/fruitcopy/server/internal/metrics"
	"github.com/fruitcopy/server/internal/middleware"
	"github.com/fruitcopy/server/internal/model"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *auth.AuthService
	devMode     bool
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewAuthHandler creates a new auth handler. In dev mode request-otp echoes
// the issued code in its response.
func NewAuthHandler(authService *auth.AuthService, devMode bool, logger *slog.Logger, m *metrics.Metrics) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		devMode:     devMode,
		logger:      logger,
		metrics:     m,
	}
}

// requestOTPRequest is the request body for POST /api/auth/request-otp
type requestOTPRequest struct {
	PhoneOrEmail string `json:"phone_or_email"`
}

// requestOTPResponse is the JSON response for request-otp
type requestOTPResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// verifyOTPRequest is the request body for POST /api/auth/verify-otp
type verifyOTPRequest struct {
	PhoneOrEmail string `json:"phone_or_email"`
	Code         string `json:"code"`
}

// tokenResponse is returned by verify-otp and refresh
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// refreshRequest is the request body for refresh and logout
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// playerResponse is the player object in API responses
type playerResponse struct {
	ID        string    `json:"id"`
	LoginKey  string    `json:"login_key"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// HandleRequestOTP handles POST /api/auth/request-otp
func (h *AuthHandler) HandleRequestOTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req requestOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.metrics.Record(metrics.OpRequestOTP, metrics.ResultBadRequest, time.Since(start))
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if auth.Normalize(req.PhoneOrEmail) == "" {
		h.metrics.Record(metrics.OpRequestOTP, metrics.ResultBadRequest, time.Since(start))
		respondWithError(w, http.StatusBadRequest, "phone_or_email is required")
		return
	}

	code, err := h.authService.RequestOTP(r.Context(), req.PhoneOrEmail)
	if err != nil {
		h.fail(w, r, metrics.OpRequestOTP, req.PhoneOrEmail, err, start)
		return
	}

	// the code would be handed to an SMS or mail provider here
	h.logger.InfoContext(r.Context(), "otp issued", "identifier", maskIdentifier(auth.Normalize(req.PhoneOrEmail)))
	h.metrics.Record(metrics.OpRequestOTP, metrics.ResultSuccess, time.Since(start))

	response := requestOTPResponse{Message: "otp sent"}
	if h.devMode {
		response.Code = code
	}
	respondWithJSON(w, http.StatusOK, response)
}

// HandleVerifyOTP handles POST /api/auth/verify-otp
func (h *AuthHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.metrics.Record(metrics.OpVerifyOTP, metrics.ResultBadRequest, time.Since(start))
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if auth.Normalize(req.PhoneOrEmail) == "" || req.Code == "" {
		h.metrics.Record(metrics.OpVerifyOTP, metrics.ResultBadRequest, time.Since(start))
		respondWithError(w, http.StatusBadRequest, "phone_or_email and code are required")
		return
	}

	pair, err := h.authService.VerifyOTP(r.Context(), req.PhoneOrEmail, req.Code, middleware.ClientIP(r))
	if err != nil {
		h.fail(w, r, metrics.OpVerifyOTP, req.PhoneOrEmail, err, start)
		return
	}

	h.metrics.Record(metrics.OpVerifyOTP, metrics.ResultSuccess, time.Since(start))
	respondWithJSON(w, http.StatusOK, newTokenResponse(pair))
}

// HandleRefresh handles POST /api/auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	token, ok := decodeRefreshToken(w, r)
	if !ok {
		h.metrics.Record(metrics.OpRefresh, metrics.ResultBadRequest, time.Since(start))
		return
	}

	pair, err := h.authService.Refresh(r.Context(), token, middleware.ClientIP(r))
	if err != nil {
		h.fail(w, r, metrics.OpRefresh, "", err, start)
		return
	}

	h.metrics.Record(metrics.OpRefresh, metrics.ResultSuccess, time.Since(start))
	respondWithJSON(w, http.StatusOK, newTokenResponse(pair))
}

// HandleLogout handles POST /api/auth/logout. Unknown or already revoked
// tokens still get a 200; a store failure is a 503 so the client retries.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	token, ok := decodeRefreshToken(w, r)
	if !ok {
		h.metrics.Record(metrics.OpLogout, metrics.ResultBadRequest, time.Since(start))
		return
	}

	if err := h.authService.Logout(r.Context(), token, middleware.ClientIP(r)); err != nil {
		h.fail(w, r, metrics.OpLogout, "", err, start)
		return
	}

	h.metrics.Record(metrics.OpLogout, metrics.ResultSuccess, time.Since(start))
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe handles GET /api/me (protected). Returns the authenticated player.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	player, ok := middleware.GetPlayer(r.Context())
	if !ok || player == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	respondWithJSON(w, http.StatusOK, newPlayerResponse(*player))
}

// fail maps an auth error to a status code, logs it and records the outcome
func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, op, identifier string, err error, start time.Time) {
	status, message, result := classifyError(err)

	attrs := []any{"operation", op, "error", err}
	if identifier != "" {
		attrs = append(attrs, "identifier", maskIdentifier(auth.Normalize(identifier)))
	}
	switch {
	case status >= http.StatusInternalServerError:
		h.logger.ErrorContext(r.Context(), "auth operation failed", attrs...)
	default:
		h.logger.InfoContext(r.Context(), "auth operation rejected", attrs...)
	}

	h.metrics.Record(op, result, time.Since(start))
	respondWithError(w, status, message)
}

func classifyError(err error) (status int, message, result string) {
	switch {
	case errors.Is(err, auth.ErrRateLimited):
		return http.StatusUnauthorized, "otp requested too recently", metrics.ResultRateLimited
	case errors.Is(err, auth.ErrChallengeNotFound):
		return http.StatusUnauthorized, "otp expired or not found", metrics.ResultRejected
	case errors.Is(err, auth.ErrChallengeMismatch):
		return http.StatusUnauthorized, "code is not correct", metrics.ResultRejected
	case errors.Is(err, auth.ErrTokenInvalid):
		return http.StatusUnauthorized, "invalid refresh token", metrics.ResultRejected
	case errors.Is(err, auth.ErrTokenRevoked):
		return http.StatusUnauthorized, "refresh token revoked", metrics.ResultRejected
	case errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized, "refresh token expired", metrics.ResultRejected
	case errors.Is(err, auth.ErrIntegrityViolation):
		return http.StatusInternalServerError, "internal error", metrics.ResultInternal
	default:
		return http.StatusServiceUnavailable, "service temporarily unavailable", metrics.ResultUnavailable
	}
}

func decodeRefreshToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondWithError(w, http.StatusBadRequest, "refresh_token is required")
		return "", false
	}
	return req.RefreshToken, true
}

func newTokenResponse(pair auth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.AccessToken,
		ExpiresIn:    int64(pair.ExpiresIn / time.Second),
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
	}
}

func newPlayerResponse(p model.Player) playerResponse {
	return playerResponse{
		ID:        p.ID.String(),
		LoginKey:  p.LoginKey,
		Role:      p.Role,
		CreatedAt: p.CreatedAt,
	}
}

// respondWithJSON writes v as a JSON body with the given status
func respondWithJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{"error": message})
}

// maskIdentifier masks an identifier for logging: e-mail addresses keep the
// first letter and the domain (u***@example.com), phone numbers keep two
// characters on each end (+4*******78).
func maskIdentifier(identifier string) string {
	if at := strings.LastIndex(identifier, "@"); at > 0 {
		return identifier[:1] + strings.Repeat("*", at-1) + identifier[at:]
	}
	if len(identifier) <= 4 {
		return "****"
	}
	return identifier[:2] + strings.Repeat("*", len(identifier)-4) + identifier[len(identifier)-2:]
}
