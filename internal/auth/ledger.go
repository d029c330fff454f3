package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fruitcopy/server/internal/model"
	"github.com/fruitcopy/server/internal/repo"
)

const refreshTokenBytes = 64

// IssuedToken is a freshly created refresh token: the plain value handed to
// the client once, and the stored record.
type IssuedToken struct {
	Plain  string
	Record model.RefreshToken
}

// Ledger owns the refresh token chain of every player: issuance on login,
// rotation, logout, and lineage queries. At most one token per player is
// active; issuance and rotation run under the player's store lock.
type Ledger struct {
	tokens         repo.RefreshRepo
	ttl            time.Duration
	reuseDetection bool
	logger         *slog.Logger
	now            func() time.Time
	newSecret      func() (plain, hash string, err error)
}

// NewLedger creates a ledger issuing tokens valid for ttl. With
// reuseDetection, presenting an already rotated token also revokes the
// player's current token.
func NewLedger(tokens repo.RefreshRepo, ttl time.Duration, reuseDetection bool, logger *slog.Logger) *Ledger {
	return &Ledger{
		tokens:         tokens,
		ttl:            ttl,
		reuseDetection: reuseDetection,
		logger:         logger,
		now:            time.Now,
		newSecret:      newRefreshSecret,
	}
}

// IssueOnLogin creates a new active token for playerID and revokes any
// token that was active before, linking it to the new one.
func (l *Ledger) IssueOnLogin(ctx context.Context, playerID uuid.UUID, ip string) (IssuedToken, error) {
	now := l.now().UTC()
	issued, err := l.newToken(playerID, ip, now)
	if err != nil {
		return IssuedToken{}, err
	}

	err = l.tokens.WithPlayerLock(ctx, playerID, func(ctx context.Context, tx repo.RefreshTx) error {
		active, err := tx.FindActiveByPlayer(ctx, playerID, now)
		if err != nil {
			return err
		}
		if err := createToken(ctx, tx, issued.Record); err != nil {
			return err
		}
		for _, old := range active {
			rev := model.Revocation{At: now, Reason: model.RevokeNewLogin, ByIP: optionalIP(ip), ReplacedBy: &issued.Record.ID}
			if err := tx.Revoke(ctx, old.ID, rev); err != nil {
				return fmt.Errorf("revoke superseded token %s: %w", old.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return IssuedToken{}, err
	}
	return issued, nil
}

// Rotate exchanges an active token for a new one. The presented token is
// revoked with reason Rotated and linked forward. Unknown, revoked and
// expired tokens fail with ErrTokenInvalid, ErrTokenRevoked and
// ErrTokenExpired.
func (l *Ledger) Rotate(ctx context.Context, presented, ip string) (IssuedToken, error) {
	return l.RotateWith(ctx, presented, ip, nil)
}

// RotateWith is Rotate with a hook that runs under the player lock once the
// presented token is known to be active, before anything is written. An
// error from check rolls the rotation back and leaves the token usable.
func (l *Ledger) RotateWith(ctx context.Context, presented, ip string, check func(ctx context.Context, playerID uuid.UUID) error) (IssuedToken, error) {
	existing, err := l.tokens.FindByTokenHash(ctx, hashRefreshToken(presented))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return IssuedToken{}, ErrTokenInvalid
		}
		return IssuedToken{}, fmt.Errorf("find refresh token: %w", err)
	}

	now := l.now().UTC()
	issued, err := l.newToken(existing.PlayerID, ip, now)
	if err != nil {
		return IssuedToken{}, err
	}

	// domain rejections are reported after the transaction so that a
	// reuse response still commits
	var rejection error
	err = l.tokens.WithPlayerLock(ctx, existing.PlayerID, func(ctx context.Context, tx repo.RefreshTx) error {
		current, err := tx.FindByIDForUpdate(ctx, existing.ID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				rejection = ErrTokenInvalid
				return nil
			}
			return err
		}

		if current.RevokedAt != nil {
			rejection = ErrTokenRevoked
			if l.reuseDetection && current.RevokedReason != nil && *current.RevokedReason == model.RevokeRotated {
				return l.revokeOnReuse(ctx, tx, current, ip, now)
			}
			return nil
		}
		if !current.ExpiresAt.After(now) {
			rejection = ErrTokenExpired
			return nil
		}
		if check != nil {
			if err := check(ctx, current.PlayerID); err != nil {
				return err
			}
		}

		if err := createToken(ctx, tx, issued.Record); err != nil {
			return err
		}
		rev := model.Revocation{At: now, Reason: model.RevokeRotated, ByIP: optionalIP(ip), ReplacedBy: &issued.Record.ID}
		if err := tx.Revoke(ctx, current.ID, rev); err != nil {
			return fmt.Errorf("revoke rotated token: %w", err)
		}
		return nil
	})
	if err != nil {
		return IssuedToken{}, err
	}
	if rejection != nil {
		return IssuedToken{}, rejection
	}
	return issued, nil
}

// Logout revokes the presented token if it is still unrevoked. Unknown and
// already revoked tokens succeed without change.
func (l *Ledger) Logout(ctx context.Context, presented, ip string) error {
	rev := model.Revocation{At: l.now().UTC(), Reason: model.RevokeLoggedOut, ByIP: optionalIP(ip)}
	if _, err := l.tokens.RevokeByTokenHash(ctx, hashRefreshToken(presented), rev); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Sessions lists every refresh token of a player, newest first
func (l *Ledger) Sessions(ctx context.Context, playerID uuid.UUID) ([]model.RefreshToken, error) {
	tokens, err := l.tokens.ListByPlayer(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return tokens, nil
}

// Lineage returns the rotation chain that tokenID belongs to, oldest first.
// It returns ErrTokenInvalid if tokenID does not exist.
func (l *Ledger) Lineage(ctx context.Context, tokenID uuid.UUID) ([]model.RefreshToken, error) {
	chain, err := l.tokens.Lineage(ctx, tokenID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("lineage: %w", err)
	}
	return chain, nil
}

func (l *Ledger) revokeOnReuse(ctx context.Context, tx repo.RefreshTx, replayed model.RefreshToken, ip string, now time.Time) error {
	active, err := tx.FindActiveByPlayer(ctx, replayed.PlayerID, now)
	if err != nil {
		return err
	}
	for _, t := range active {
		rev := model.Revocation{At: now, Reason: model.RevokeReuseDetected, ByIP: optionalIP(ip)}
		if err := tx.Revoke(ctx, t.ID, rev); err != nil {
			return fmt.Errorf("revoke on reuse: %w", err)
		}
	}
	l.logger.WarnContext(ctx, "rotated refresh token replayed",
		"player_id", replayed.PlayerID,
		"token_id", replayed.ID,
		"revoked_active", len(active),
	)
	return nil
}

func (l *Ledger) newToken(playerID uuid.UUID, ip string, now time.Time) (IssuedToken, error) {
	plain, hash, err := l.newSecret()
	if err != nil {
		return IssuedToken{}, fmt.Errorf("generate refresh token: %w", err)
	}
	return IssuedToken{
		Plain: plain,
		Record: model.RefreshToken{
			ID:          uuid.New(),
			PlayerID:    playerID,
			TokenHash:   hash,
			CreatedAt:   now,
			ExpiresAt:   now.Add(l.ttl),
			CreatedByIP: optionalIP(ip),
		},
	}, nil
}

func createToken(ctx context.Context, tx repo.RefreshTx, token model.RefreshToken) error {
	if err := tx.Create(ctx, token); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return fmt.Errorf("%w: refresh token hash or id collision", ErrIntegrityViolation)
		}
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// newRefreshSecret returns a random Base64URL token and its SHA-256 hex digest
func newRefreshSecret() (string, string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	plain := base64.RawURLEncoding.EncodeToString(b)
	return plain, hashRefreshToken(plain), nil
}

func hashRefreshToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

func optionalIP(ip string) *string {
	if ip == "" {
		return nil
	}
	return &ip
}
