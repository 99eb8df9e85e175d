package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFound(t *testing.T) {
	assert.True(t, IsNotFound(pgx.ErrNoRows))
	assert.True(t, IsNotFound(fmt.Errorf("get run: %w", ErrNotFound)))
	assert.False(t, IsNotFound(errors.New("boom")))

	assert.NoError(t, WrapNotFound(nil))
	assert.ErrorIs(t, WrapNotFound(pgx.ErrNoRows), ErrNotFound)
	err := WrapNotFound(errors.New("conn refused"))
	assert.EqualError(t, err, "db: conn refused")
}

func TestExecAndPing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	d := New(mock)
	defer d.Close()

	mock.ExpectPing()
	require.NoError(t, d.Ping(context.Background()))

	mock.ExpectExec("DELETE FROM session_state").WithArgs("state").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, d.Exec(context.Background(), "DELETE FROM session_state WHERE key=$1", "state"))

	mock.ExpectQuery("SELECT 1").WillReturnRows(pgxmock.NewRows([]string{"n"}).AddRow(1))
	var n int
	require.NoError(t, d.QueryRow(context.Background(), "SELECT 1").Scan(&n))
	assert.Equal(t, 1, n)

	require.NoError(t, mock.ExpectationsWereMet())
}
