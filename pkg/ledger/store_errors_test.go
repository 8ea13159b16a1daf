package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsStargazerStoreFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT 1 FROM stargazers").
		WillReturnError(errors.New("connection refused"))

	store := NewStore(db, nil)
	isStar, err := store.IsStargazer(context.Background(), "alice", "octo/repo")

	require.Error(t, err)
	assert.False(t, isStar)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBindStoreFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE stargazers").
		WillReturnError(errors.New("database is locked"))

	store := NewStore(db, nil)
	ok, err := store.Bind(context.Background(), "alice", "U123", "octo/repo")

	require.Error(t, err)
	assert.False(t, ok)
}

func TestBindUniqueViolationIsNotAnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE stargazers").
		WillReturnError(errors.New(`duplicate key value violates unique constraint "idx_stargazers_one_claim"`))

	store := NewStore(db, nil)
	ok, err := store.Bind(context.Background(), "alice", "U123", "octo/repo")

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncStargazersRollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT github_login FROM stargazers").
		WillReturnRows(sqlmock.NewRows([]string{"github_login"}))
	mock.ExpectExec("INSERT INTO stargazers").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	store := NewStore(db, nil)
	_, err = store.SyncStargazers(context.Background(), []string{"alice"}, "octo/repo")

	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncStargazersFailsOnRowIterationError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// A mid-iteration failure must abort the sync rather than silently
	// shrinking the existing set and overcounting inserts.
	rows := sqlmock.NewRows([]string{"github_login"}).
		AddRow("alice").
		AddRow("bob").
		RowError(1, errors.New("connection reset"))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT github_login FROM stargazers").
		WillReturnRows(rows)
	mock.ExpectRollback()

	store := NewStore(db, nil)
	added, err := store.SyncStargazers(context.Background(), []string{"alice", "bob", "carol"}, "octo/repo")

	require.Error(t, err)
	assert.Zero(t, added)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountsStoreFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT").
		WillReturnError(errors.New("connection refused"))

	store := NewStore(db, nil)
	count, err := store.StargazerCount(context.Background(), "octo/repo")

	require.Error(t, err)
	assert.Zero(t, count)
}
