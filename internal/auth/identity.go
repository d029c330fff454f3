package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fruitcopy/server/internal/model"
	"github.com/fruitcopy/server/internal/repo"
)

// PlayerIDFor derives the player id from a normalized identifier: the first
// 16 bytes of its SHA-256 digest.
func PlayerIDFor(identifier string) uuid.UUID {
	sum := sha256.Sum256([]byte(identifier))
	var id uuid.UUID
	copy(id[:], sum[:16])
	return id
}

// IdentityResolver maps identifiers to players, creating them on first login
type IdentityResolver struct {
	players repo.PlayerRepo
	now     func() time.Time
}

// NewIdentityResolver creates a resolver over the given player store
func NewIdentityResolver(players repo.PlayerRepo) *IdentityResolver {
	return &IdentityResolver{players: players, now: time.Now}
}

// Resolve returns the player for identifier, creating it with the default
// role if it does not exist yet. Losing a concurrent first-login race is not
// an error: the winner's row is returned.
func (r *IdentityResolver) Resolve(ctx context.Context, identifier string) (model.Player, error) {
	id := PlayerIDFor(identifier)

	player, err := r.players.GetByID(ctx, id)
	if err == nil {
		return checkLoginKey(player, identifier)
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return model.Player{}, fmt.Errorf("get player: %w", err)
	}

	player = model.Player{
		ID:        id,
		LoginKey:  identifier,
		Role:      model.RolePlayer,
		CreatedAt: r.now().UTC(),
	}
	err = r.players.Create(ctx, player)
	if err == nil {
		return player, nil
	}
	if !errors.Is(err, repo.ErrDuplicate) {
		return model.Player{}, fmt.Errorf("create player: %w", err)
	}

	existing, err := r.players.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// the conflict was on login_key under a different id
			return model.Player{}, fmt.Errorf("%w: login key bound to another player id", ErrIntegrityViolation)
		}
		return model.Player{}, fmt.Errorf("re-fetch player: %w", err)
	}
	return checkLoginKey(existing, identifier)
}

func checkLoginKey(p model.Player, identifier string) (model.Player, error) {
	if p.LoginKey != identifier {
		return model.Player{}, fmt.Errorf("%w: player id %s bound to another login key", ErrIntegrityViolation, p.ID)
	}
	return p, nil
}
