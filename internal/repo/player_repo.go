package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fruitcopy/server/internal/model"
	"github.com/google/uuid"
)

// PlayerRepo defines the interface for player repository operations
type PlayerRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.Player, error)
	Create(ctx context.Context, player model.Player) error
}

type playerRepo struct {
	db *sql.DB
}

// NewPlayerRepo creates a new PlayerRepo instance
func NewPlayerRepo(db *sql.DB) PlayerRepo {
	return &playerRepo{db: db}
}

// GetByID retrieves a player by ID; ErrNotFound if there is none
func (r *playerRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Player, error) {
	query := `
		SELECT id, login_key, role, created_at
		FROM players
		WHERE id = $1
	`
	var p model.Player
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.LoginKey,
		&p.Role,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Player{}, ErrNotFound
		}
		return model.Player{}, fmt.Errorf("failed to query player: %w", err)
	}
	return p, nil
}

// Create inserts a player. A conflicting id or login key yields ErrDuplicate.
func (r *playerRepo) Create(ctx context.Context, player model.Player) error {
	query := `
		INSERT INTO players (id, login_key, role, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.ExecContext(ctx, query, player.ID, player.LoginKey, player.Role, player.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert player: %w", err)
	}
	return nil
}
