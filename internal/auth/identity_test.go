package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitcopy/server/internal/model"
	"github.com/fruitcopy/server/internal/repo/repotest"
)

func TestPlayerIDFor_Deterministic(t *testing.T) {
	a := PlayerIDFor("user@example.com")
	assert.Equal(t, a, PlayerIDFor("user@example.com"))
	assert.NotEqual(t, a, PlayerIDFor("user2@example.com"))
	assert.NotEqual(t, uuid.Nil, a)
}

func TestIdentityResolver_CreatesOnce(t *testing.T) {
	players := repotest.NewPlayers()
	r := NewIdentityResolver(players)
	clock := newTestClock()
	r.now = clock.Now

	first, err := r.Resolve(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, PlayerIDFor("user@example.com"), first.ID)
	assert.Equal(t, "user@example.com", first.LoginKey)
	assert.Equal(t, model.RolePlayer, first.Role)
	assert.True(t, clock.Now().Equal(first.CreatedAt))

	clock.Advance(time.Hour)
	second, err := r.Resolve(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, first, second, "existing player must be returned unchanged")
	assert.Equal(t, 1, players.Count())
}

func TestIdentityResolver_ConcurrentFirstLogin(t *testing.T) {
	players := repotest.NewPlayers()
	r := NewIdentityResolver(players)

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := r.Resolve(context.Background(), "race@example.com")
			assert.NoError(t, err)
			ids[i] = p.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, PlayerIDFor("race@example.com"), id)
	}
	assert.Equal(t, 1, players.Count(), "no duplicate player rows")
}

func TestIdentityResolver_KeepsExistingRole(t *testing.T) {
	players := repotest.NewPlayers()
	admin := model.Player{ID: PlayerIDFor("boss@example.com"), LoginKey: "boss@example.com", Role: model.RoleAdmin}
	players.Put(admin)

	got, err := NewIdentityResolver(players).Resolve(context.Background(), "boss@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, got.Role)
}

func TestIdentityResolver_IntegrityViolation(t *testing.T) {
	players := repotest.NewPlayers()
	players.Put(model.Player{ID: PlayerIDFor("user@example.com"), LoginKey: "someone-else", Role: model.RolePlayer})

	_, err := NewIdentityResolver(players).Resolve(context.Background(), "user@example.com")
	assert.ErrorIs(t, err, ErrIntegrityViolation)
}

func TestIdentityResolver_LoginKeyTakenByOtherID(t *testing.T) {
	players := repotest.NewPlayers()
	players.Put(model.Player{ID: uuid.New(), LoginKey: "user@example.com", Role: model.RolePlayer})

	_, err := NewIdentityResolver(players).Resolve(context.Background(), "user@example.com")
	assert.ErrorIs(t, err, ErrIntegrityViolation)
}

func TestIdentityResolver_StoreDown(t *testing.T) {
	players := repotest.NewPlayers()
	players.Err = errors.New("connection refused")

	_, err := NewIdentityResolver(players).Resolve(context.Background(), "user@example.com")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrIntegrityViolation)
}
