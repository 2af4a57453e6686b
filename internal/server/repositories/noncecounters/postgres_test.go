package noncecounters

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reserveQ = `(?s)^INSERT\s+INTO\s+nonce_counters\s*\(name,\s*next\)\s*VALUES\s*\(\$1,\s*\$2\)\s*ON\s+CONFLICT\s*\(name\)\s*DO\s+UPDATE\s+SET\s+next\s*=\s*nonce_counters\.next\s*\+\s*EXCLUDED\.next\s*RETURNING\s+next\s*$`

const (
	existsQ = `(?s)^SELECT\s+EXISTS\s*\(SELECT\s+1\s+FROM\s+nonce_counters\s+WHERE\s+name\s*=\s*\$1\)\s*$`
	markQ   = `(?s)^INSERT\s+INTO\s+nonce_counters\s*\(name,\s*next\)\s*VALUES\s*\(\$1,\s*0\)\s*ON\s+CONFLICT\s*\(name\)\s*DO\s+NOTHING\s*$`
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock
}

func TestReserve(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(reserveQ).WithArgs("token", int64(1024)).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(int64(1024)))
	mock.ExpectQuery(reserveQ).WithArgs("token", int64(1024)).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(int64(2048)))

	start, err := repo.Reserve(context.Background(), "token", 1024)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), start)

	start, err = repo.Reserve(context.Background(), "token", 1024)
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), start)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserve_Errors(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	_, err := repo.Reserve(context.Background(), "token", 0)
	require.ErrorIs(t, err, ErrBlockTooLarge)
	_, err = repo.Reserve(context.Background(), "token", math.MaxUint64)
	require.ErrorIs(t, err, ErrBlockTooLarge)

	mock.ExpectQuery(reserveQ).WithArgs("token", int64(8)).
		WillReturnError(errors.New("db down"))
	_, err = repo.Reserve(context.Background(), "token", 8)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")

	mock.ExpectQuery(reserveQ).WithArgs("token", int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(int64(3)))
	_, err = repo.Reserve(context.Background(), "token", 8)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "went backwards")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExistsAndMark(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(existsQ).WithArgs("token").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(markQ).WithArgs("token").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(existsQ).WithArgs("token").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(markQ).WithArgs("token").
		WillReturnError(errors.New("db down"))
	mock.ExpectQuery(existsQ).WithArgs("token").
		WillReturnError(errors.New("db down"))

	ok, err := repo.Exists(context.Background(), "token")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Mark(context.Background(), "token"))

	ok, err = repo.Exists(context.Background(), "token")
	require.NoError(t, err)
	assert.True(t, ok)

	require.Error(t, repo.Mark(context.Background(), "token"))
	_, err = repo.Exists(context.Background(), "token")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
