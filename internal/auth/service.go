package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fruitcopy/server/internal/model"
	"github.com/fruitcopy/server/internal/repo"
)

// TokenPair is what a successful login or refresh hands back to the client
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access token lifetime
	ExpiresIn time.Duration
	Player    model.Player
}

// AuthService orchestrates authentication operations
type AuthService struct {
	cooldown  *Cooldown
	otp       *OTPStore
	identity  *IdentityResolver
	jwt       *JWTService
	ledger    *Ledger
	players   repo.PlayerRepo
	accessTTL time.Duration
	logger    *slog.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(
	cooldown *Cooldown,
	otp *OTPStore,
	identity *IdentityResolver,
	jwtService *JWTService,
	ledger *Ledger,
	players repo.PlayerRepo,
	accessTTL time.Duration,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		cooldown:  cooldown,
		otp:       otp,
		identity:  identity,
		jwt:       jwtService,
		ledger:    ledger,
		players:   players,
		accessTTL: accessTTL,
		logger:    logger,
	}
}

// RequestOTP issues a code for the normalized identifier unless the
// identifier is still in its cooldown window (ErrRateLimited).
func (s *AuthService) RequestOTP(ctx context.Context, rawIdentifier string) (string, error) {
	identifier := Normalize(rawIdentifier)

	ok, err := s.cooldown.TryAcquire(ctx, identifier)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrRateLimited
	}

	return s.otp.Issue(ctx, identifier)
}

// VerifyOTP consumes the challenge, resolves (or creates) the player and
// issues an access token plus a refresh token that supersedes any earlier
// session. If anything fails after the challenge was consumed, the client
// has to request a new code.
func (s *AuthService) VerifyOTP(ctx context.Context, rawIdentifier, code, ip string) (TokenPair, error) {
	identifier := Normalize(rawIdentifier)

	if err := s.otp.Verify(ctx, identifier, code); err != nil {
		return TokenPair{}, err
	}

	player, err := s.identity.Resolve(ctx, identifier)
	if err != nil {
		return TokenPair{}, err
	}

	accessToken, err := s.jwt.IssueAccessToken(player.ID, player.Role, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := s.ledger.IssueOnLogin(ctx, player.ID, ip)
	if err != nil {
		return TokenPair{}, err
	}

	s.logger.InfoContext(ctx, "player logged in", "player_id", player.ID, "refresh_token_id", refresh.Record.ID)

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refresh.Plain,
		ExpiresIn:    s.accessTTL,
		Player:       player,
	}, nil
}

// Refresh rotates the presented refresh token and mints a new access token
// for its player. The player is loaded before the rotation commits, so a
// failed lookup leaves the presented token valid for a retry.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, ip string) (TokenPair, error) {
	var player model.Player
	rotated, err := s.ledger.RotateWith(ctx, refreshToken, ip, func(ctx context.Context, playerID uuid.UUID) error {
		p, err := s.players.GetByID(ctx, playerID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("%w: refresh token of player %s has no player", ErrIntegrityViolation, playerID)
			}
			return fmt.Errorf("get player: %w", err)
		}
		player = p
		return nil
	})
	if err != nil {
		return TokenPair{}, err
	}

	accessToken, err := s.jwt.IssueAccessToken(player.ID, player.Role, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: rotated.Plain,
		ExpiresIn:    s.accessTTL,
		Player:       player,
	}, nil
}

// Logout revokes the refresh token. It succeeds for unknown tokens.
func (s *AuthService) Logout(ctx context.Context, refreshToken, ip string) error {
	return s.ledger.Logout(ctx, refreshToken, ip)
}

// Sessions lists a player's refresh tokens, newest first
func (s *AuthService) Sessions(ctx context.Context, playerID uuid.UUID) ([]model.RefreshToken, error) {
	return s.ledger.Sessions(ctx, playerID)
}

// Lineage returns the rotation chain containing tokenID
func (s *AuthService) Lineage(ctx context.Context, tokenID uuid.UUID) ([]model.RefreshToken, error) {
	return s.ledger.Lineage(ctx, tokenID)
}
