// Package repotest provides in-memory repository implementations for tests.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fruitcopy/server/internal/model"
	"github.com/fruitcopy/server/internal/repo"
)

// Players is a PlayerRepo backed by a map.
type Players struct {
	mu      sync.Mutex
	players map[uuid.UUID]model.Player
	// Err, when set, is returned by every call.
	Err error
}

// NewPlayers returns an empty player store.
func NewPlayers() *Players {
	return &Players{players: make(map[uuid.UUID]model.Player)}
}

func (s *Players) GetByID(_ context.Context, id uuid.UUID) (model.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return model.Player{}, s.Err
	}
	p, ok := s.players[id]
	if !ok {
		return model.Player{}, repo.ErrNotFound
	}
	return p, nil
}

func (s *Players) Create(_ context.Context, p model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.players[p.ID]; ok {
		return repo.ErrDuplicate
	}
	for _, existing := range s.players {
		if existing.LoginKey == p.LoginKey {
			return repo.ErrDuplicate
		}
	}
	s.players[p.ID] = p
	return nil
}

// SetErr makes every following call fail with err; nil restores the store.
func (s *Players) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

// Put stores p unconditionally.
func (s *Players) Put(p model.Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players[p.ID] = p
}

// Count returns the number of stored players.
func (s *Players) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players)
}

// RefreshTokens is a RefreshRepo backed by a map. WithPlayerLock runs
// callbacks one at a time and restores the previous state if fn fails.
type RefreshTokens struct {
	txMu   sync.Mutex
	mu     sync.Mutex
	tokens map[uuid.UUID]model.RefreshToken
	// Err, when set, is returned by every call.
	Err error
}

// NewRefreshTokens returns an empty refresh token store.
func NewRefreshTokens() *RefreshTokens {
	return &RefreshTokens{tokens: make(map[uuid.UUID]model.RefreshToken)}
}

func (s *RefreshTokens) WithPlayerLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context, tx repo.RefreshTx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if s.Err != nil {
		return s.Err
	}

	s.mu.Lock()
	snapshot := make(map[uuid.UUID]model.RefreshToken, len(s.tokens))
	for k, v := range s.tokens {
		snapshot[k] = v
	}
	s.mu.Unlock()

	if err := fn(ctx, memTx{s: s}); err != nil {
		s.mu.Lock()
		s.tokens = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *RefreshTokens) FindByTokenHash(_ context.Context, tokenHash string) (model.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return model.RefreshToken{}, s.Err
	}
	for _, t := range s.tokens {
		if t.TokenHash == tokenHash {
			return t, nil
		}
	}
	return model.RefreshToken{}, repo.ErrNotFound
}

func (s *RefreshTokens) RevokeByTokenHash(_ context.Context, tokenHash string, rev model.Revocation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	for id, t := range s.tokens {
		if t.TokenHash == tokenHash && t.IsActive(rev.At) {
			s.tokens[id] = applyRevocation(t, rev, false)
			return true, nil
		}
	}
	return false, nil
}

func (s *RefreshTokens) ListByPlayer(_ context.Context, playerID uuid.UUID) ([]model.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []model.RefreshToken
	for _, t := range s.tokens {
		if t.PlayerID == playerID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *RefreshTokens) Lineage(_ context.Context, tokenID uuid.UUID) ([]model.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if _, ok := s.tokens[tokenID]; !ok {
		return nil, repo.ErrNotFound
	}

	seen := map[uuid.UUID]bool{tokenID: true}
	// backward: anything replaced by a member
	queue := []uuid.UUID{tokenID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for id, t := range s.tokens {
			if t.ReplacedByTokenID != nil && *t.ReplacedByTokenID == cur && !seen[id] {
				seen[id] = true
				queue = append(queue, id)
			}
		}
	}
	for cur := s.tokens[tokenID].ReplacedByTokenID; cur != nil && !seen[*cur]; cur = s.tokens[*cur].ReplacedByTokenID {
		seen[*cur] = true
	}

	out := make([]model.RefreshToken, 0, len(seen))
	for id := range seen {
		if t, ok := s.tokens[id]; ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Get returns the stored token by id.
func (s *RefreshTokens) Get(id uuid.UUID) (model.RefreshToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	return t, ok
}

// ActiveCount returns how many of the player's tokens are active at now.
func (s *RefreshTokens) ActiveCount(playerID uuid.UUID, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tokens {
		if t.PlayerID == playerID && t.IsActive(now) {
			n++
		}
	}
	return n
}

// SetErr makes every following call fail with err; nil restores the store.
func (s *RefreshTokens) SetErr(err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

// Put stores t unconditionally.
func (s *RefreshTokens) Put(t model.RefreshToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.ID] = t
}

type memTx struct {
	s *RefreshTokens
}

func (tx memTx) Create(_ context.Context, token model.RefreshToken) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if _, ok := tx.s.tokens[token.ID]; ok {
		return repo.ErrDuplicate
	}
	for _, t := range tx.s.tokens {
		if t.TokenHash == token.TokenHash {
			return repo.ErrDuplicate
		}
	}
	tx.s.tokens[token.ID] = token
	return nil
}

func (tx memTx) FindActiveByPlayer(_ context.Context, playerID uuid.UUID, now time.Time) ([]model.RefreshToken, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	var out []model.RefreshToken
	for _, t := range tx.s.tokens {
		if t.PlayerID == playerID && t.IsActive(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (tx memTx) FindByIDForUpdate(_ context.Context, id uuid.UUID) (model.RefreshToken, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	t, ok := tx.s.tokens[id]
	if !ok {
		return model.RefreshToken{}, repo.ErrNotFound
	}
	return t, nil
}

func (tx memTx) Revoke(_ context.Context, id uuid.UUID, rev model.Revocation) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	t, ok := tx.s.tokens[id]
	if !ok || t.RevokedAt != nil {
		return repo.ErrNotFound
	}
	tx.s.tokens[id] = applyRevocation(t, rev, true)
	return nil
}

func applyRevocation(t model.RefreshToken, rev model.Revocation, link bool) model.RefreshToken {
	at := rev.At
	reason := rev.Reason
	t.RevokedAt = &at
	t.RevokedReason = &reason
	t.RevokedByIP = rev.ByIP
	if link {
		t.ReplacedByTokenID = rev.ReplacedBy
	}
	return t
}
