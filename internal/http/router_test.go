package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitcopy/server/internal/auth"
	"github.com/fruitcopy/server/internal/http/handlers"
	"github.com/fruitcopy/server/internal/metrics"
	"github.com/fruitcopy/server/internal/middleware"
	"github.com/fruitcopy/server/internal/model"
	"github.com/fruitcopy/server/internal/repo/repotest"
)

type testServer struct {
	*httptest.Server
	players *repotest.Players
	tokens  *repotest.RefreshTokens
}

func newTestServer(t *testing.T, rdb redis.Cmdable, ipLimit int) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	players := repotest.NewPlayers()
	tokens := repotest.NewRefreshTokens()
	jwtService := auth.NewJWTService("test-jwt-secret-at-least-32-characters-long", "fruitcopy", "fruitcopy-clients")
	svc := auth.NewAuthService(
		auth.NewCooldown(rdb),
		auth.NewOTPStore(rdb, "test-otp-secret"),
		auth.NewIdentityResolver(players),
		jwtService,
		auth.NewLedger(tokens, 14*24*time.Hour, false, logger),
		players,
		15*time.Minute,
		logger,
	)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	router := NewRouter(RouterDeps{
		AuthHandler:  handlers.NewAuthHandler(svc, true, logger, m),
		AdminHandler: handlers.NewAdminHandler(svc, logger),
		JWTService:   jwtService,
		Players:      players,
		IPLimiter:    middleware.NewRateLimiter(rdb, time.Minute, ipLimit, logger),
		Metrics:      m,
		Gatherer:     reg,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, players: players, tokens: tokens}
}

func newMiniredisServer(t *testing.T, ipLimit int) (*testServer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return newTestServer(t, rdb, ipLimit), mr
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, rdr)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (s *testServer) login(t *testing.T, identifier string) map[string]any {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/auth/request-otp", "", map[string]string{"phone_or_email": identifier})
	require.Equal(t, http.StatusOK, status, body)
	code, _ := body["code"].(string)
	require.Len(t, code, 6)

	status, body = s.do(t, http.MethodPost, "/api/auth/verify-otp", "", map[string]string{"phone_or_email": identifier, "code": code})
	require.Equal(t, http.StatusOK, status, body)
	return body
}

func TestRouter_AuthFlow(t *testing.T) {
	s, _ := newMiniredisServer(t, 100)

	tokens := s.login(t, "User@Example.com ")
	assert.Equal(t, "bearer", tokens["token_type"])
	assert.Equal(t, float64(900), tokens["expires_in"])
	access := tokens["access_token"].(string)
	refresh := tokens["refresh_token"].(string)

	status, me := s.do(t, http.MethodGet, "/api/me", access, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "user@example.com", me["login_key"])
	assert.Equal(t, model.RolePlayer, me["role"])
	assert.Equal(t, auth.PlayerIDFor("user@example.com").String(), me["id"])

	status, rotated := s.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, status)
	assert.NotEqual(t, refresh, rotated["refresh_token"])
	assert.Equal(t, float64(900), rotated["expires_in"])

	status, body := s.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "refresh token revoked", body["error"])

	status, body = s.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refresh_token": "garbage"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid refresh token", body["error"])

	for i := 0; i < 2; i++ {
		status, body = s.do(t, http.MethodPost, "/api/auth/logout", "", map[string]string{"refresh_token": rotated["refresh_token"].(string)})
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "logged out", body["message"])
	}
	status, _ = s.do(t, http.MethodPost, "/api/auth/logout", "", map[string]string{"refresh_token": "never-issued"})
	assert.Equal(t, http.StatusOK, status)
}

func TestRouter_LogoutStoreDown(t *testing.T) {
	s, _ := newMiniredisServer(t, 100)
	refresh := s.login(t, "user@example.com")["refresh_token"].(string)

	s.tokens.SetErr(errors.New("db down"))
	status, body := s.do(t, http.MethodPost, "/api/auth/logout", "", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "service temporarily unavailable", body["error"])

	s.tokens.SetErr(nil)
	status, _ = s.do(t, http.MethodPost, "/api/auth/logout", "", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusOK, status)

	status, body = s.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "refresh token revoked", body["error"])
}

func TestRouter_OTPErrors(t *testing.T) {
	s, mr := newMiniredisServer(t, 100)

	status, body := s.do(t, http.MethodPost, "/api/auth/request-otp", "", map[string]string{"phone_or_email": "   "})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "phone_or_email is required", body["error"])

	status, body = s.do(t, http.MethodPost, "/api/auth/verify-otp", "", map[string]string{"phone_or_email": "+4915112345678", "code": "123456"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "otp expired or not found", body["error"])

	status, body = s.do(t, http.MethodPost, "/api/auth/request-otp", "", map[string]string{"phone_or_email": "+4915112345678"})
	require.Equal(t, http.StatusOK, status)
	code := body["code"].(string)

	status, _ = s.do(t, http.MethodPost, "/api/auth/request-otp", "", map[string]string{"phone_or_email": "+4915112345678"})
	assert.Equal(t, http.StatusUnauthorized, status, "cooldown")

	wrong := []byte(code)
	wrong[5] = '0' + (wrong[5]-'0'+1)%10
	status, body = s.do(t, http.MethodPost, "/api/auth/verify-otp", "", map[string]string{"phone_or_email": "+4915112345678", "code": string(wrong)})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "code is not correct", body["error"])

	mr.FastForward(auth.OTPTTL)
	status, body = s.do(t, http.MethodPost, "/api/auth/verify-otp", "", map[string]string{"phone_or_email": "+4915112345678", "code": code})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "otp expired or not found", body["error"])
}

func TestRouter_IPThrottle(t *testing.T) {
	s, _ := newMiniredisServer(t, 2)

	for i := 0; i < 2; i++ {
		status, _ := s.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refresh_token": "x"})
		assert.Equal(t, http.StatusUnauthorized, status)
	}
	status, body := s.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refresh_token": "x"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate limit exceeded", body["error"])

	status, _ = s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status, "health is not throttled")
}

func TestRouter_Admin(t *testing.T) {
	s, mr := newMiniredisServer(t, 100)

	s.players.Put(model.Player{ID: auth.PlayerIDFor("ops@example.com"), LoginKey: "ops@example.com", Role: model.RoleAdmin})
	admin := s.login(t, "ops@example.com")["access_token"].(string)
	player := s.login(t, "gamer@example.com")
	mr.FastForward(auth.OTPCooldown)
	s.login(t, "gamer@example.com")

	gamerID := auth.PlayerIDFor("gamer@example.com").String()
	path := "/api/admin/players/" + gamerID + "/sessions"

	status, _ := s.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, http.MethodGet, path, player["access_token"].(string), nil)
	assert.Equal(t, http.StatusForbidden, status)

	req, err := http.NewRequest(http.MethodGet, s.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+admin)
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sessions []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sessions))
	require.Len(t, sessions, 2)
	assert.Equal(t, true, sessions[0]["active"])
	assert.Equal(t, false, sessions[1]["active"])
	assert.Equal(t, string(model.RevokeNewLogin), sessions[1]["revoked_reason"])
	assert.Equal(t, sessions[0]["id"], sessions[1]["replaced_by_token_id"])
	assert.NotContains(t, sessions[0], "token_hash")

	status, _ = s.do(t, http.MethodGet, "/api/admin/sessions/"+sessions[0]["id"].(string)+"/lineage", admin, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodGet, "/api/admin/sessions/"+auth.PlayerIDFor("nobody").String()+"/lineage", admin, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, http.MethodGet, "/api/admin/sessions/not-a-uuid/lineage", admin, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRouter_StoreDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	s := newTestServer(t, rdb, 100)

	status, body := s.do(t, http.MethodPost, "/api/auth/request-otp", "", map[string]string{"phone_or_email": "user@example.com"})
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "service temporarily unavailable", body["error"])
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	s, _ := newMiniredisServer(t, 100)

	status, body := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ok"])

	s.login(t, "user@example.com")

	resp, err := s.Client().Get(s.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `fruitcopy_auth_operations_total{operation="verify_otp",result="success"} 1`)
}
