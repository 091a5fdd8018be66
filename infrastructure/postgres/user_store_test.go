package postgres

import (
	"context"
	"dm-relay/domain"
	"dm-relay/errors"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

var userRowColumns = []string{"id", "username", "email", "password_hash", "roles", "status", "created_at", "sequence"}

func newTestUserStore(t *testing.T) (*UserStore, sqlmock.Sqlmock) {
	db, mock := newMockDB(t)
	return NewUserStore(db, logs.GetLoggerFromLevel(slog.LevelDebug)), mock
}

func TestUserStore_CreateUser(t *testing.T) {
	req := require.New(t)
	store, mock := newTestUserStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs(sqlmock.AnyArg(), "Alice", "alice@example.com", "hash", sqlmock.AnyArg(), "offline", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"sequence"}).AddRow(int64(1)))

	user, err := store.CreateUser(context.Background(), "Alice", "alice@example.com", "hash")

	req.NoError(err)
	req.NotEmpty(user.ID)
	req.Equal(uint64(1), user.Sequence)
	req.Equal(domain.StatusOffline, user.Status)
}

func TestUserStore_CreateUser_Duplicate(t *testing.T) {
	req := require.New(t)
	store, mock := newTestUserStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pq.Error{Code: uniqueViolation})

	_, err := store.CreateUser(context.Background(), "Alice", "alice@example.com", "hash")

	req.ErrorIs(err, errors.ErrUserAlreadyExists)
}

func TestUserStore_Lookups(t *testing.T) {
	req := require.New(t)
	store, mock := newTestUserStore(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = $1")).
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow("u1", "Alice", "alice@example.com", "hash", "{user}", "online", created, int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(userRowColumns))

	user, err := store.GetUserByEmail(context.Background(), "alice@example.com")
	req.NoError(err)
	req.Equal(domain.User{
		ID: "u1", Username: "Alice", Email: "alice@example.com", PasswordHash: "hash",
		Roles: []string{"user"}, Status: domain.StatusOnline, CreatedAt: created, Sequence: 1,
	}, user)

	_, err = store.GetUserByID(context.Background(), "ghost")
	req.ErrorIs(err, errors.ErrNotFound)
}

func TestUserStore_ListUsers(t *testing.T) {
	req := require.New(t)
	store, mock := newTestUserStore(t)
	created := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY sequence")).
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow("u2", "Zoe", "zoe@example.com", "h", "{user}", "offline", created, int64(1)).
			AddRow("u1", "Adam", "adam@example.com", "h", "{user}", "online", created, int64(2)))

	users, err := store.ListUsers(context.Background())

	req.NoError(err)
	req.Len(users, 2)
	req.Equal("Zoe", users[0].Username)
	req.Equal("Adam", users[1].Username)
}

func TestUserStore_SetStatus(t *testing.T) {
	req := require.New(t)
	store, mock := newTestUserStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET status")).
		WithArgs("u1", "online").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET status")).
		WithArgs("ghost", "offline").
		WillReturnResult(sqlmock.NewResult(0, 0))

	req.NoError(store.SetStatus(context.Background(), "u1", domain.StatusOnline))
	req.ErrorIs(store.SetStatus(context.Background(), "ghost", domain.StatusOffline), errors.ErrNotFound)
	req.ErrorIs(store.SetStatus(context.Background(), "u1", "busy"), errors.ErrValidation)
}

func TestUserStore_GetPresenceSnapshot(t *testing.T) {
	req := require.New(t)
	store, mock := newTestUserStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = ANY($1)")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow("u1", "online"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, status FROM users")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow("u1", "online").AddRow("u2", "offline"))

	some, err := store.GetPresenceSnapshot(context.Background(), []string{"u1", "ghost"})
	req.NoError(err)
	req.Equal(map[string]domain.Status{"u1": domain.StatusOnline}, some)

	all, err := store.GetPresenceSnapshot(context.Background(), nil)
	req.NoError(err)
	req.Len(all, 2)
}
