// Package transaction — repository.go хранит журнал попыток в transaction_journal.
package transaction

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/db/postgres"
)

// Journal — журнал попыток покупок и пополнений.
type Journal interface {
	Create(ctx context.Context, a *Attempt) error
	// Update перезаписывает изменяемые поля: growid, сумму, позиции, шаг и ошибку.
	Update(ctx context.Context, a *Attempt) error
	Get(ctx context.Context, id string) (*Attempt, error)
	// ListPending возвращает незавершённые попытки, не менявшиеся с olderThan.
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]Attempt, error)
	Analytics(ctx context.Context, since time.Time, topN int) (Analytics, error)
}

// Repository — журнал поверх PostgreSQL.
type Repository struct {
	db postgres.DB
}

// NewRepository создаёт репозиторий журнала.
func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

var _ Journal = (*Repository)(nil)

const attemptColumns = `id, kind, external_id, growid, product_code, quantity, amount_wl, stock_ids, state, error, created_at, updated_at`

func scanAttempt(row pgx.Row) (*Attempt, error) {
	var a Attempt
	var kind, state string
	err := row.Scan(
		&a.ID, &kind, &a.ExternalID, &a.Growid, &a.ProductCode, &a.Quantity,
		&a.AmountWL, &a.StockIDs, &state, &a.Error, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Kind, a.State = Kind(kind), State(state)
	return &a, nil
}

// Create добавляет попытку.
func (r *Repository) Create(ctx context.Context, a *Attempt) error {
	stockIDs := a.StockIDs
	if stockIDs == nil {
		stockIDs = []int64{}
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO transaction_journal
			(id, kind, external_id, growid, product_code, quantity, amount_wl, stock_ids, state, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, a.ID, string(a.Kind), a.ExternalID, a.Growid, a.ProductCode, a.Quantity,
		a.AmountWL, stockIDs, string(a.State), a.Error,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи в журнал: %w", err)
	}
	return nil
}

// Update сохраняет шаг попытки.
func (r *Repository) Update(ctx context.Context, a *Attempt) error {
	stockIDs := a.StockIDs
	if stockIDs == nil {
		stockIDs = []int64{}
	}
	err := r.db.QueryRow(ctx, `
		UPDATE transaction_journal
		SET growid = $2, amount_wl = $3, stock_ids = $4, state = $5, error = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, a.ID, a.Growid, a.AmountWL, stockIDs, string(a.State), a.Error).Scan(&a.UpdatedAt)
	if postgres.IsNoRows(err) {
		return common.ErrTransactionNotFound
	}
	if err != nil {
		return fmt.Errorf("ошибка обновления журнала: %w", err)
	}
	return nil
}

// Get возвращает попытку по id.
func (r *Repository) Get(ctx context.Context, id string) (*Attempt, error) {
	a, err := scanAttempt(r.db.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM transaction_journal WHERE id = $1`, id))
	if postgres.IsNoRows(err) {
		return nil, common.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала: %w", err)
	}
	return a, nil
}

// ListPending возвращает самые старые зависшие попытки.
func (r *Repository) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]Attempt, error) {
	states := make([]string, len(PendingStates))
	for i, s := range PendingStates {
		states[i] = string(s)
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+attemptColumns+`
		FROM transaction_journal
		WHERE state = ANY($1) AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`, states, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска зависших транзакций: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения журнала: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Analytics считает сводку по журналу с момента since.
func (r *Repository) Analytics(ctx context.Context, since time.Time, topN int) (Analytics, error) {
	res := Analytics{
		Since:    since,
		VolumeWL: make(map[Kind]int64),
		ByKind:   make(map[Kind]int64),
	}

	rows, err := r.db.Query(ctx, `
		SELECT kind, state, COUNT(*), COALESCE(SUM(ABS(amount_wl)), 0)
		FROM transaction_journal
		WHERE created_at >= $1
		GROUP BY kind, state
	`, since)
	if err != nil {
		return res, fmt.Errorf("ошибка аналитики: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, state string
		var n, volume int64
		if err := rows.Scan(&kind, &state, &n, &volume); err != nil {
			return res, fmt.Errorf("ошибка чтения аналитики: %w", err)
		}
		res.add(Kind(kind), State(state), n, volume)
	}
	if err := rows.Err(); err != nil {
		return res, fmt.Errorf("ошибка чтения аналитики: %w", err)
	}

	top, err := r.db.Query(ctx, `
		SELECT product_code, SUM(quantity), SUM(ABS(amount_wl))
		FROM transaction_journal
		WHERE kind = 'purchase' AND state = 'completed' AND created_at >= $1
		GROUP BY product_code
		ORDER BY SUM(ABS(amount_wl)) DESC, product_code
		LIMIT $2
	`, since, topN)
	if err != nil {
		return res, fmt.Errorf("ошибка аналитики товаров: %w", err)
	}
	defer top.Close()

	for top.Next() {
		var ps ProductStat
		if err := top.Scan(&ps.Code, &ps.Quantity, &ps.TotalWL); err != nil {
			return res, fmt.Errorf("ошибка чтения аналитики товаров: %w", err)
		}
		res.TopProducts = append(res.TopProducts, ps)
	}
	return res, top.Err()
}

// add учитывает группу (kind, state) в сводке.
func (a *Analytics) add(kind Kind, state State, n, volume int64) {
	a.Total += n
	a.ByKind[kind] += n
	switch state {
	case StateCompleted:
		a.Completed += n
		a.VolumeWL[kind] += volume
	case StateFailed:
		a.Failed += n
	case StateRolledBack:
		a.RolledBack += n
	default:
		a.Pending += n
	}
}
