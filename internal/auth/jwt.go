package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ClockSkew is the leeway applied to exp/nbf/iat checks when verifying
const ClockSkew = 30 * time.Second

// AccessClaims are the claims carried by an access token
type AccessClaims struct {
	PlayerID uuid.UUID `json:"player_id"`
	Role     string    `json:"role"`
	jwt.RegisteredClaims
}

// JWTService signs and verifies access tokens with a shared HMAC key
type JWTService struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewJWTService creates a new JWT service
func NewJWTService(secret, issuer, audience string) *JWTService {
	return &JWTService{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
	}
}

// IssueAccessToken signs a token for playerID with role that expires after ttl
func (s *JWTService) IssueAccessToken(playerID uuid.UUID, role string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &AccessClaims{
		PlayerID: playerID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   playerID.String(),
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return tokenString, nil
}

// VerifyAccessToken parses tokenString and checks signature, issuer,
// audience and expiry (with ClockSkew leeway).
func (s *JWTService) VerifyAccessToken(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(ClockSkew),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.PlayerID == uuid.Nil {
		return nil, fmt.Errorf("token has no player_id")
	}
	return claims, nil
}
