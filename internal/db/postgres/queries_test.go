package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrationsSkipsApplied(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	// 1 уже применена
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)")).
		WithArgs(1).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	// 2 — новая
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs(2).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE two")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations (version) VALUES ($1)")).
		WithArgs(2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err = RunMigrations(context.Background(), mock, []Migration{
		{Version: 1, Name: "one", SQL: "CREATE TABLE one (id INT)"},
		{Version: 2, Name: "two", SQL: "CREATE TABLE two (id INT)"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrationsStopsOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs(1).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE broken")).
		WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err = RunMigrations(context.Background(), mock, []Migration{
		{Version: 1, Name: "broken", SQL: "CREATE TABLE broken ("},
		{Version: 2, Name: "never", SQL: "CREATE TABLE never (id INT)"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "миграция 001 (broken)")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = InTx(context.Background(), mock, func(tx pgx.Tx) error {
		_, err := tx.Exec(context.Background(), "UPDATE users SET is_locked = TRUE")
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()
	err = InTx(context.Background(), mock, func(pgx.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.True(t, IsNoRows(fmt.Errorf("get: %w", pgx.ErrNoRows)))
	assert.False(t, IsNoRows(errors.New("other")))
}
