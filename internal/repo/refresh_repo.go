package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fruitcopy/server/internal/db"
	"github.com/fruitcopy/server/internal/model"
	"github.com/google/uuid"
)

// RefreshRepo defines the interface for refresh token repository operations
type RefreshRepo interface {
	// WithPlayerLock runs fn in a transaction that holds the player's
	// advisory lock, so issuance and rotation for one player never interleave.
	WithPlayerLock(ctx context.Context, playerID uuid.UUID, fn func(ctx context.Context, tx RefreshTx) error) error
	FindByTokenHash(ctx context.Context, tokenHash string) (model.RefreshToken, error)
	// RevokeByTokenHash revokes the token if it is still active at rev.At
	// and reports whether a row changed.
	RevokeByTokenHash(ctx context.Context, tokenHash string, rev model.Revocation) (bool, error)
	ListByPlayer(ctx context.Context, playerID uuid.UUID) ([]model.RefreshToken, error)
	Lineage(ctx context.Context, tokenID uuid.UUID) ([]model.RefreshToken, error)
}

// RefreshTx is the set of operations available inside WithPlayerLock
type RefreshTx interface {
	Create(ctx context.Context, token model.RefreshToken) error
	FindActiveByPlayer(ctx context.Context, playerID uuid.UUID, now time.Time) ([]model.RefreshToken, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (model.RefreshToken, error)
	Revoke(ctx context.Context, id uuid.UUID, rev model.Revocation) error
}

const refreshColumns = `id, player_id, token_hash, created_at, expires_at, revoked_at,
		       revoked_reason, revoked_by_ip, created_by_ip, replaced_by_token_id`

type refreshRepo struct {
	db *sql.DB
}

// NewRefreshRepo creates a new RefreshRepo instance
func NewRefreshRepo(db *sql.DB) RefreshRepo {
	return &refreshRepo{db: db}
}

func (r *refreshRepo) WithPlayerLock(ctx context.Context, playerID uuid.UUID, fn func(ctx context.Context, tx RefreshTx) error) error {
	return db.WithTx(ctx, r.db, func(ctx context.Context, q db.DBTX) error {
		// Blocks until we hold the lock; released on COMMIT/ROLLBACK.
		if _, err := q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(2, hashtext($1))`, playerID.String()); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}
		return fn(ctx, &refreshTx{q: q})
	})
}

// FindByTokenHash returns the token regardless of revocation or expiry
func (r *refreshRepo) FindByTokenHash(ctx context.Context, tokenHash string) (model.RefreshToken, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+refreshColumns+`
		FROM refresh_tokens
		WHERE token_hash = $1
	`, tokenHash)
	t, err := scanRefreshToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RefreshToken{}, ErrNotFound
		}
		return model.RefreshToken{}, fmt.Errorf("find refresh token: %w", err)
	}
	return t, nil
}

func (r *refreshRepo) RevokeByTokenHash(ctx context.Context, tokenHash string, rev model.Revocation) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = $2, revoked_reason = $3, revoked_by_ip = $4
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > $2
	`, tokenHash, rev.At, string(rev.Reason), rev.ByIP)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	return n > 0, nil
}

// ListByPlayer returns every token of the player, newest first
func (r *refreshRepo) ListByPlayer(ctx context.Context, playerID uuid.UUID) ([]model.RefreshToken, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+refreshColumns+`
		FROM refresh_tokens
		WHERE player_id = $1
		ORDER BY created_at DESC
	`, playerID)
	if err != nil {
		return nil, fmt.Errorf("list refresh tokens: %w", err)
	}
	return collectRefreshTokens(rows)
}

// Lineage follows replaced_by_token_id links backward and forward from
// tokenID and returns the whole chain ordered by creation time.
func (r *refreshRepo) Lineage(ctx context.Context, tokenID uuid.UUID) ([]model.RefreshToken, error) {
	rows, err := r.db.QueryContext(ctx, `
		WITH RECURSIVE back AS (
			SELECT id FROM refresh_tokens WHERE id = $1
			UNION
			SELECT r.id FROM refresh_tokens r JOIN back b ON r.replaced_by_token_id = b.id
		), fwd AS (
			SELECT id, replaced_by_token_id FROM refresh_tokens WHERE id = $1
			UNION
			SELECT r.id, r.replaced_by_token_id FROM refresh_tokens r JOIN fwd f ON r.id = f.replaced_by_token_id
		)
		SELECT `+refreshColumns+`
		FROM refresh_tokens
		WHERE id IN (SELECT id FROM back UNION SELECT id FROM fwd)
		ORDER BY created_at
	`, tokenID)
	if err != nil {
		return nil, fmt.Errorf("query lineage: %w", err)
	}
	chain, err := collectRefreshTokens(rows)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, ErrNotFound
	}
	return chain, nil
}

type refreshTx struct {
	q db.DBTX
}

// Create inserts a token. A token_hash or id collision yields ErrDuplicate.
func (t *refreshTx) Create(ctx context.Context, token model.RefreshToken) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, player_id, token_hash, created_at, expires_at, created_by_ip)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, token.ID, token.PlayerID, token.TokenHash, token.CreatedAt, token.ExpiresAt, token.CreatedByIP)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (t *refreshTx) FindActiveByPlayer(ctx context.Context, playerID uuid.UUID, now time.Time) ([]model.RefreshToken, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+refreshColumns+`
		FROM refresh_tokens
		WHERE player_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at
		FOR UPDATE
	`, playerID, now)
	if err != nil {
		return nil, fmt.Errorf("find active refresh tokens: %w", err)
	}
	return collectRefreshTokens(rows)
}

func (t *refreshTx) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (model.RefreshToken, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT `+refreshColumns+`
		FROM refresh_tokens
		WHERE id = $1
		FOR UPDATE
	`, id)
	token, err := scanRefreshToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RefreshToken{}, ErrNotFound
		}
		return model.RefreshToken{}, fmt.Errorf("find refresh token: %w", err)
	}
	return token, nil
}

// Revoke moves an unrevoked token to the revoked state; ErrNotFound if the
// token does not exist or was already revoked.
func (t *refreshTx) Revoke(ctx context.Context, id uuid.UUID, rev model.Revocation) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = $2, revoked_reason = $3, revoked_by_ip = $4, replaced_by_token_id = $5
		WHERE id = $1 AND revoked_at IS NULL
	`, id, rev.At, string(rev.Reason), rev.ByIP, rev.ReplacedBy)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRefreshToken(row rowScanner) (model.RefreshToken, error) {
	var t model.RefreshToken
	var reason, revokedByIP, createdByIP sql.NullString
	var replacedBy uuid.NullUUID
	err := row.Scan(
		&t.ID,
		&t.PlayerID,
		&t.TokenHash,
		&t.CreatedAt,
		&t.ExpiresAt,
		&t.RevokedAt,
		&reason,
		&revokedByIP,
		&createdByIP,
		&replacedBy,
	)
	if err != nil {
		return model.RefreshToken{}, err
	}
	if reason.Valid {
		rr := model.RevokeReason(reason.String)
		t.RevokedReason = &rr
	}
	if revokedByIP.Valid {
		t.RevokedByIP = &revokedByIP.String
	}
	if createdByIP.Valid {
		t.CreatedByIP = &createdByIP.String
	}
	if replacedBy.Valid {
		t.ReplacedByTokenID = &replacedBy.UUID
	}
	return t, nil
}

func collectRefreshTokens(rows *sql.Rows) ([]model.RefreshToken, error) {
	defer rows.Close()
	var tokens []model.RefreshToken
	for rows.Next() {
		t, err := scanRefreshToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan refresh token: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh tokens: %w", err)
	}
	return tokens, nil
}
