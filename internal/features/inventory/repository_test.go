package inventory

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/growstore-bot/internal/common"
)

var stockCols = []string{
	"id", "product_code", "content", "content_hash", "status",
	"buyer_id", "added_by", "reason", "created_at", "updated_at",
}

func TestRepositoryCreateProductTakenCode(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO products")).
		WithArgs("SWORD", "Меч", int64(500), "").
		WillReturnRows(pgxmock.NewRows([]string{
			"code", "name", "price", "description", "status", "delete_reason", "deleted_at", "created_at", "updated_at",
		}))

	_, err = NewRepository(mock).CreateProduct(context.Background(), ProductInput{Code: "SWORD", Name: "Меч", Price: 500})
	assert.ErrorIs(t, err, common.ErrProductExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryInsertStockDuplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	hash := ContentHash("secret")
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO stock")).
		WithArgs("SWORD", "secret", hash, "admin").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err = NewRepository(mock).InsertStock(context.Background(), StockItem{
		ProductCode: "SWORD", Content: "secret", ContentHash: hash, AddedBy: "admin",
	})
	assert.ErrorIs(t, err, common.ErrDuplicateStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryUpdateStockStatusConflictRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ids := []int64{1, 2, 3}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE stock SET status = $3")).
		WithArgs("SWORD", ids, "sold", "42", "available").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectRollback()

	err = NewRepository(mock).UpdateStockStatus(context.Background(), "SWORD", ids, StockAvailable, StockSold, "42")
	assert.ErrorIs(t, err, common.ErrStockConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryUpdateStockStatusCommits(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ids := []int64{1, 2}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE stock SET status = $3")).
		WithArgs("SWORD", ids, "sold", "42", "available").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	err = NewRepository(mock).UpdateStockStatus(context.Background(), "SWORD", ids, StockAvailable, StockSold, "42")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryReduceStockInsufficient(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs("SWORD", 2, "брак").
		WillReturnRows(pgxmock.NewRows(stockCols).
			AddRow(int64(1), "SWORD", "a", "h", "reduced", "", "admin", "брак", now, now))
	mock.ExpectRollback()

	_, err = NewRepository(mock).ReduceStock(context.Background(), "SWORD", 2, "брак")
	assert.ErrorIs(t, err, common.ErrInsufficientStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryDeleteProductCascades(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE products")).
		WithArgs("SWORD", "снят с продажи").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE stock SET status = 'deleted'")).
		WithArgs("SWORD", "снят с продажи").
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))
	mock.ExpectCommit()

	n, err := NewRepository(mock).DeleteProduct(context.Background(), "SWORD", "снят с продажи")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetWorldInfoMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM world_info")).
		WillReturnRows(pgxmock.NewRows([]string{"world", "owner", "bot", "status", "updated_at"}))

	_, err = NewRepository(mock).GetWorldInfo(context.Background())
	assert.ErrorIs(t, err, common.ErrWorldInfoNotFound)
}
