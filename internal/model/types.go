package model

import (
	"time"

	"github.com/google/uuid"
)

// Player roles carried in access tokens
const (
	RolePlayer = "Player"
	RoleAdmin  = "Admin"
)

// Player is the durable identity behind a login key (normalized phone or email)
type Player struct {
	ID        uuid.UUID
	LoginKey  string
	Role      string
	CreatedAt time.Time
}

// RevokeReason records why a refresh token left the active state
type RevokeReason string

const (
	RevokeNewLogin      RevokeReason = "NewLogin"
	RevokeRotated       RevokeReason = "Rotated"
	RevokeLoggedOut     RevokeReason = "LoggedOut"
	RevokeReuseDetected RevokeReason = "ReuseDetected"
)

// RefreshToken is one link of a player's refresh token chain.
// Only the hash of the plain token is ever stored.
type RefreshToken struct {
	ID                uuid.UUID
	PlayerID          uuid.UUID
	TokenHash         string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	RevokedAt         *time.Time
	RevokedReason     *RevokeReason
	RevokedByIP       *string
	CreatedByIP       *string
	ReplacedByTokenID *uuid.UUID
}

// IsActive reports whether the token is neither revoked nor expired at now
func (t RefreshToken) IsActive(now time.Time) bool {
	return t.RevokedAt == nil && t.ExpiresAt.After(now)
}

// Revocation describes the state change applied when a token is revoked
type Revocation struct {
	At         time.Time
	Reason     RevokeReason
	ByIP       *string
	ReplacedBy *uuid.UUID
}
