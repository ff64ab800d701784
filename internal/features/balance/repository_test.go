package balance

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/currency"
)

var userCols = []string{
	"growid", "balance_wl", "balance_dl", "balance_bgl",
	"daily_limit", "is_locked", "lock_reason", "created_at", "updated_at",
}

func TestRepositoryRegisterUser(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users (growid, daily_limit)")).
		WithArgs("alice", int64(1_000_000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE LOWER(growid) = LOWER($1)")).
		WithArgs("alice").
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow("Alice", int64(0), int64(0), int64(0), int64(1_000_000), false, "", now, now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_growid (external_id, growid)")).
		WithArgs("100", "Alice").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	u, err := NewRepository(mock).RegisterUser(context.Background(), "100", "alice", 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.Growid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryRegisterUserTakenGrowid(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs("Alice", int64(100)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE LOWER(growid)")).
		WithArgs("Alice").
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow("Alice", int64(0), int64(0), int64(0), int64(100), false, "", now, now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_growid")).
		WithArgs("200", "Alice").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	_, err = NewRepository(mock).RegisterUser(context.Background(), "200", "Alice", 100)
	assert.ErrorIs(t, err, common.ErrGrowidExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryApplyChangeWritesLedger(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("alice").
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow("alice", int64(2000), int64(0), int64(0), int64(1_000_000), false, "", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM daily_usage")).
		WithArgs("alice", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(int64(0)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM transactions")).
		WithArgs("alice", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users")).
		WithArgs("alice", int64(1000), int64(0), int64(0)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO transactions")).
		WithArgs("alice", "purchase", "Покупка 2 x SWORD", "2,000 WL", "1,000 WL", int64(-1000), "attempt-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO daily_usage")).
		WithArgs("alice", pgxmock.AnyArg(), int64(1000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	ch := Change{
		Growid: "alice", Delta: currency.Balance{WL: -1000},
		Details: "Покупка 2 x SWORD", Type: TxPurchase, Reference: "attempt-1",
	}
	applied, err := NewRepository(mock).ApplyChange(context.Background(), ch, now, now, func(s Snapshot) (Mutation, error) {
		return Mutation{New: s.User.Balance.Add(ch.Delta), UsageWL: 1000}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), applied.TransactionID)
	assert.Equal(t, int64(-1000), applied.AmountWL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryApplyChangeRollsBackOnRejection(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("alice").
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow("alice", int64(10), int64(0), int64(0), int64(1_000_000), false, "", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM daily_usage")).
		WithArgs("alice", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(int64(0)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM transactions")).
		WithArgs("alice", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectRollback()

	_, err = NewRepository(mock).ApplyChange(context.Background(), Change{Growid: "alice", Type: TxPurchase}, now, now,
		func(Snapshot) (Mutation, error) { return Mutation{}, common.ErrInsufficientBalance })
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetUserNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE LOWER(growid)")).
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows(userCols))

	_, err = NewRepository(mock).GetUser(context.Background(), "ghost")
	assert.ErrorIs(t, err, common.ErrUserNotFound)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE LOWER(growid)")).
		WithArgs("boom").
		WillReturnError(errors.New("conn closed"))
	_, err = NewRepository(mock).GetUser(context.Background(), "boom")
	assert.Equal(t, common.KindUnknown, common.KindOf(err))
}
