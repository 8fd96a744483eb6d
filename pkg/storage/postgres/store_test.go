package postgres

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeep/pkg/access"
	"github.com/platinummonkey/gatekeep/pkg/session"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMock(t)
	cm := NewConnectionManagerFromDB(db, nil)
	return NewStore(cm, newTestEngine(t), session.ContextProvider{}, nil), mock
}

func TestStore_List(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := session.WithActor(context.Background(), alice)

	expectSession(mock, "alice", "", "member")
	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT "id", "title", CASE WHEN $1 = "owner_id" THEN "secret" END AS "secret", "owner_id" FROM "tickets"`)).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "secret", "owner_id"}).
			AddRow(int64(1), "mine", "s1", "alice").
			AddRow(int64(2), "theirs", nil, "bob"))
	mock.ExpectCommit()

	rows, err := store.List(ctx, "tickets")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "s1", rows[0]["secret"])
	assert.Nil(t, rows[1]["secret"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetHiddenRow(t *testing.T) {
	store, mock := newMockStore(t)

	expectSession(mock, "", "", "")
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "posts" WHERE "draft" = $1 AND "id" = $2`)).
		WithArgs(false, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}))
	mock.ExpectCommit()

	_, err := store.Get(context.Background(), "posts", 2, "id", "title")
	assert.ErrorIs(t, err, access.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Create(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := session.WithActor(context.Background(), olga)

	expectSession(mock, "olga", "acme", "owner")
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "articles"`)).
		WithArgs("acme", "a3").
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Create(ctx, "articles", map[string]any{"title": "a3"}))
	assert.NoError(t, mock.ExpectationsWereMet())

	err := store.Create(context.Background(), "tickets", map[string]any{"title": "x"})
	assert.True(t, access.IsForbidden(err))
	assert.NoError(t, mock.ExpectationsWereMet(), "denied write reached the database")
}

func TestStore_Delete(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := session.WithActor(context.Background(), alice)

	expectSession(mock, "alice", "", "member")
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "tickets" WHERE "id" = $1 AND "owner_id" = $2`)).
		WithArgs(2, "alice").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.Delete(ctx, "tickets", 2)
	assert.ErrorIs(t, err, access.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryRows_BytesBecomeStrings(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"title"}).AddRow([]byte("raw")))

	rows, err := queryRows(t.Context(), db, sq.Expr("SELECT title FROM t"))
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"title": "raw"}}, rows)
}
