package repo

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitcopy/server/internal/model"
)

func newPlayerRepoWithMock(t *testing.T) (PlayerRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPlayerRepo(db), mock
}

func TestPlayerRepo_GetByID(t *testing.T) {
	repo, mock := newPlayerRepoWithMock(t)
	id := uuid.New()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)SELECT id, login_key, role, created_at\s+FROM players\s+WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "login_key", "role", "created_at"}).
			AddRow(id.String(), "user@example.com", model.RolePlayer, created))

	p, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, "user@example.com", p.LoginKey)
	assert.Equal(t, model.RolePlayer, p.Role)
	assert.True(t, created.Equal(p.CreatedAt))
}

func TestPlayerRepo_GetByID_NotFound(t *testing.T) {
	repo, mock := newPlayerRepoWithMock(t)

	mock.ExpectQuery(`FROM players`).WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPlayerRepo_Create_Duplicate(t *testing.T) {
	repo, mock := newPlayerRepoWithMock(t)
	p := model.Player{ID: uuid.New(), LoginKey: "a@b.c", Role: model.RolePlayer, CreatedAt: time.Now().UTC()}

	mock.ExpectExec(`INSERT INTO players`).
		WithArgs(p.ID, p.LoginKey, p.Role, p.CreatedAt).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "players_pkey"})

	err := repo.Create(context.Background(), p)
	assert.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlayerRepo_Create(t *testing.T) {
	repo, mock := newPlayerRepoWithMock(t)
	p := model.Player{ID: uuid.New(), LoginKey: "+4912345", Role: model.RolePlayer, CreatedAt: time.Now().UTC()}

	mock.ExpectExec(`INSERT INTO players`).
		WithArgs(p.ID, p.LoginKey, p.Role, p.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), p))
	require.NoError(t, mock.ExpectationsWereMet())
}
