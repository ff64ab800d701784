// Package inventory — repository.go содержит SQL-запросы к products, stock и world_info.
package inventory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/db/postgres"
)

// Store — хранилище сервиса стока.
type Store interface {
	CreateProduct(ctx context.Context, in ProductInput) (*Product, error)
	GetProduct(ctx context.Context, code string) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	UpdateProduct(ctx context.Context, code, field string, value any) error
	// DeleteProduct помечает товар удалённым и списывает весь доступный сток.
	DeleteProduct(ctx context.Context, code, reason string) (int64, error)
	CountStock(ctx context.Context, code string, status StockStatus) (int64, error)
	StockSummary(ctx context.Context) (map[StockStatus]int64, error)
	InsertStock(ctx context.Context, item StockItem) (*StockItem, error)
	AvailableStock(ctx context.Context, code string, limit int) ([]StockItem, error)
	// UpdateStockStatus меняет статус ровно len(ids) позиций, иначе ничего не меняет.
	UpdateStockStatus(ctx context.Context, code string, ids []int64, from, to StockStatus, buyerID string) error
	// ReleaseStock возвращает проданные buyerID позиции в продажу, сколько получится.
	ReleaseStock(ctx context.Context, code string, ids []int64, buyerID string) (int64, error)
	ReduceStock(ctx context.Context, code string, quantity int, reason string) ([]StockItem, error)
	ListStock(ctx context.Context, code string, status StockStatus, limit int) ([]StockItem, error)
	GetWorldInfo(ctx context.Context) (*WorldInfo, error)
	UpdateWorldInfo(ctx context.Context, w WorldInfo) error
}

// Repository — реализация Store поверх PostgreSQL.
type Repository struct {
	db postgres.DB
}

// NewRepository создаёт репозиторий стока.
func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

const productColumns = `code, name, price, description, status, delete_reason, deleted_at, created_at, updated_at`

func scanProduct(row pgx.Row, withStock bool) (*Product, error) {
	var p Product
	var status string
	dest := []any{&p.Code, &p.Name, &p.Price, &p.Description, &status, &p.DeleteReason, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt}
	if withStock {
		dest = append(dest, &p.Stock)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	p.Status = ProductStatus(status)
	return &p, nil
}

// CreateProduct добавляет товар. Код удалённого товара можно занять снова.
func (r *Repository) CreateProduct(ctx context.Context, in ProductInput) (*Product, error) {
	p, err := scanProduct(r.db.QueryRow(ctx, `
		INSERT INTO products (code, name, price, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE
		SET name = EXCLUDED.name, price = EXCLUDED.price, description = EXCLUDED.description,
		    status = 'available', deleted_at = NULL, delete_reason = '', updated_at = NOW()
		WHERE products.status = 'deleted'
		RETURNING `+productColumns,
		in.Code, in.Name, in.Price, in.Description,
	), false)
	if postgres.IsNoRows(err) {
		return nil, common.ErrProductExists
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка создания товара: %w", err)
	}
	return p, nil
}

// GetProduct возвращает неудалённый товар.
func (r *Repository) GetProduct(ctx context.Context, code string) (*Product, error) {
	p, err := scanProduct(r.db.QueryRow(ctx, `
		SELECT `+productColumns+`,
		       (SELECT COUNT(*) FROM stock s WHERE s.product_code = p.code AND s.status = 'available')
		FROM products p
		WHERE p.code = $1 AND p.status <> 'deleted'
	`, code), true)
	if postgres.IsNoRows(err) {
		return nil, common.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения товара: %w", err)
	}
	return p, nil
}

// ListProducts возвращает все неудалённые товары с числом доступных позиций.
func (r *Repository) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+productColumns+`,
		       (SELECT COUNT(*) FROM stock s WHERE s.product_code = p.code AND s.status = 'available')
		FROM products p
		WHERE p.status <> 'deleted'
		ORDER BY p.code
	`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения товаров: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows, true)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения товара: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpdateProduct меняет одно поле товара. field проверяет сервис.
func (r *Repository) UpdateProduct(ctx context.Context, code, field string, value any) error {
	var column string
	switch field {
	case "name", "price", "description":
		column = field
	default:
		return common.Validationf("поле %q нельзя изменить", field)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE products SET `+column+` = $2, updated_at = NOW() WHERE code = $1 AND status <> 'deleted'`,
		code, value,
	)
	if err != nil {
		return fmt.Errorf("ошибка изменения товара: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrProductNotFound
	}
	return nil
}

// DeleteProduct мягко удаляет товар и весь доступный сток одной транзакцией.
func (r *Repository) DeleteProduct(ctx context.Context, code, reason string) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE products
		SET status = 'deleted', deleted_at = NOW(), delete_reason = $2, updated_at = NOW()
		WHERE code = $1 AND status <> 'deleted'
	`, code, reason)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления товара: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, common.ErrProductNotFound
	}

	tag, err = tx.Exec(ctx, `
		UPDATE stock SET status = 'deleted', reason = $2, updated_at = NOW()
		WHERE product_code = $1 AND status = 'available'
	`, code, reason)
	if err != nil {
		return 0, fmt.Errorf("ошибка списания стока: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("ошибка фиксации удаления: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountStock — число позиций товара в статусе status.
func (r *Repository) CountStock(ctx context.Context, code string, status StockStatus) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM stock WHERE product_code = $1 AND status = $2`, code, string(status),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта стока: %w", err)
	}
	return n, nil
}

// StockSummary — число позиций по статусам во всём магазине.
func (r *Repository) StockSummary(ctx context.Context) (map[StockStatus]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM stock GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("ошибка сводки стока: %w", err)
	}
	defer rows.Close()

	out := make(map[StockStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("ошибка чтения сводки стока: %w", err)
		}
		out[StockStatus(status)] = n
	}
	return out, rows.Err()
}

// InsertStock добавляет позицию. Дубликат живой позиции — ErrDuplicateStock.
func (r *Repository) InsertStock(ctx context.Context, item StockItem) (*StockItem, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO stock (product_code, content, content_hash, status, added_by)
		VALUES ($1, $2, $3, 'available', $4)
		RETURNING id, created_at, updated_at
	`, item.ProductCode, item.Content, item.ContentHash, item.AddedBy,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if postgres.IsUniqueViolation(err) {
		return nil, common.ErrDuplicateStock
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка добавления стока: %w", err)
	}
	item.Status = StockAvailable
	return &item, nil
}

const stockColumns = `id, product_code, content, content_hash, status, buyer_id, added_by, reason, created_at, updated_at`

func collectStock(rows pgx.Rows) ([]StockItem, error) {
	defer rows.Close()

	var out []StockItem
	for rows.Next() {
		var it StockItem
		var status string
		if err := rows.Scan(
			&it.ID, &it.ProductCode, &it.Content, &it.ContentHash, &status,
			&it.BuyerID, &it.AddedBy, &it.Reason, &it.CreatedAt, &it.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка чтения позиции: %w", err)
		}
		it.Status = StockStatus(status)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения стока: %w", err)
	}
	return out, nil
}

// AvailableStock возвращает до limit самых старых доступных позиций.
func (r *Repository) AvailableStock(ctx context.Context, code string, limit int) ([]StockItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+stockColumns+`
		FROM stock
		WHERE product_code = $1 AND status = 'available'
		ORDER BY created_at, id
		LIMIT $2
	`, code, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения стока: %w", err)
	}
	return collectStock(rows)
}

// UpdateStockStatus условно обновляет позиции: WHERE status = from.
// Если обновилось меньше строк, чем запрошено, транзакция откатывается.
func (r *Repository) UpdateStockStatus(ctx context.Context, code string, ids []int64, from, to StockStatus, buyerID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE stock SET status = $3, buyer_id = $4, updated_at = NOW()
		WHERE product_code = $1 AND id = ANY($2) AND status = $5
	`, code, ids, string(to), buyerID, string(from))
	if err != nil {
		return fmt.Errorf("ошибка обновления стока: %w", err)
	}
	if tag.RowsAffected() != int64(len(ids)) {
		return common.ErrStockConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации стока: %w", err)
	}
	return nil
}

// ReleaseStock возвращает проданные позиции покупателя в продажу.
func (r *Repository) ReleaseStock(ctx context.Context, code string, ids []int64, buyerID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE stock SET status = 'available', buyer_id = '', updated_at = NOW()
		WHERE product_code = $1 AND id = ANY($2) AND status = 'sold' AND buyer_id = $3
	`, code, ids, buyerID)
	if err != nil {
		return 0, fmt.Errorf("ошибка возврата стока: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReduceStock списывает quantity самых старых доступных позиций в статус reduced.
// Если доступно меньше, ничего не меняется.
func (r *Repository) ReduceStock(ctx context.Context, code string, quantity int, reason string) ([]StockItem, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		WITH picked AS (
			SELECT id FROM stock
			WHERE product_code = $1 AND status = 'available'
			ORDER BY created_at, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE stock s SET status = 'reduced', reason = $3, updated_at = NOW()
		FROM picked
		WHERE s.id = picked.id
		RETURNING s.id, s.product_code, s.content, s.content_hash, s.status, s.buyer_id,
		          s.added_by, s.reason, s.created_at, s.updated_at
	`, code, quantity, reason)
	if err != nil {
		return nil, fmt.Errorf("ошибка списания стока: %w", err)
	}
	items, err := collectStock(rows)
	if err != nil {
		return nil, err
	}
	if len(items) < quantity {
		return nil, common.ErrInsufficientStock
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка фиксации списания: %w", err)
	}
	return items, nil
}

// ListStock — последние позиции товара, новые сверху. Пустой status — все статусы.
func (r *Repository) ListStock(ctx context.Context, code string, status StockStatus, limit int) ([]StockItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+stockColumns+`
		FROM stock
		WHERE product_code = $1 AND ($2 = '' OR status = $2)
		ORDER BY updated_at DESC, id DESC
		LIMIT $3
	`, code, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка истории стока: %w", err)
	}
	return collectStock(rows)
}

// GetWorldInfo возвращает единственную строку world_info.
func (r *Repository) GetWorldInfo(ctx context.Context) (*WorldInfo, error) {
	var w WorldInfo
	err := r.db.QueryRow(ctx,
		`SELECT world, owner, bot, status, updated_at FROM world_info WHERE id = 1`,
	).Scan(&w.World, &w.Owner, &w.Bot, &w.Status, &w.UpdatedAt)
	if postgres.IsNoRows(err) {
		return nil, common.ErrWorldInfoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения мира: %w", err)
	}
	return &w, nil
}

// UpdateWorldInfo создаёт или перезаписывает строку world_info.
func (r *Repository) UpdateWorldInfo(ctx context.Context, w WorldInfo) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO world_info (id, world, owner, bot, status, updated_at)
		VALUES (1, $1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE
		SET world = EXCLUDED.world, owner = EXCLUDED.owner, bot = EXCLUDED.bot,
		    status = EXCLUDED.status, updated_at = NOW()
	`, w.World, w.Owner, w.Bot, w.Status)
	if err != nil {
		return fmt.Errorf("ошибка обновления мира: %w", err)
	}
	return nil
}
