// Package balance — repository.go содержит SQL-запросы к users, user_growid, transactions и daily_usage.
// Все изменения баланса идут одной транзакцией вместе с записью в журнал.
package balance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/db/postgres"
)

// Store — хранилище сервиса баланса.
type Store interface {
	GetGrowidByExternal(ctx context.Context, externalID string) (string, error)
	GetExternalByGrowid(ctx context.Context, growid string) (string, error)
	RegisterUser(ctx context.Context, externalID, growid string, dailyLimit int64) (*User, error)
	GetUser(ctx context.Context, growid string) (*User, error)
	// ApplyChange блокирует строку пользователя, вызывает fn со снимком
	// и записывает баланс, транзакцию и дневной расход в одной транзакции БД.
	ApplyChange(ctx context.Context, ch Change, day, since time.Time, fn func(Snapshot) (Mutation, error)) (Applied, error)
	SetLocked(ctx context.Context, growid string, locked bool, reason string) error
	SetDailyLimit(ctx context.Context, growid string, limit int64) error
	GetDailyUsage(ctx context.Context, growid string, day time.Time) (int64, error)
	GetTransactions(ctx context.Context, growid string, limit, offset int, f HistoryFilter) ([]Transaction, error)
	FindByReference(ctx context.Context, reference string) ([]Transaction, error)
	CountUsers(ctx context.Context) (int64, error)
}

// Repository — реализация Store поверх PostgreSQL.
type Repository struct {
	db postgres.DB
}

// NewRepository создаёт репозиторий баланса.
func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

const userColumns = `growid, balance_wl, balance_dl, balance_bgl, daily_limit, is_locked, lock_reason, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.Growid, &u.Balance.WL, &u.Balance.DL, &u.Balance.BGL,
		&u.DailyLimit, &u.IsLocked, &u.LockReason, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetGrowidByExternal возвращает GrowID, привязанный к внешнему аккаунту.
func (r *Repository) GetGrowidByExternal(ctx context.Context, externalID string) (string, error) {
	var growid string
	err := r.db.QueryRow(ctx,
		`SELECT growid FROM user_growid WHERE external_id = $1`, externalID,
	).Scan(&growid)
	if postgres.IsNoRows(err) {
		return "", common.ErrNotRegistered
	}
	if err != nil {
		return "", fmt.Errorf("ошибка получения GrowID: %w", err)
	}
	return growid, nil
}

// GetExternalByGrowid возвращает внешний аккаунт владельца GrowID.
func (r *Repository) GetExternalByGrowid(ctx context.Context, growid string) (string, error) {
	var externalID string
	err := r.db.QueryRow(ctx,
		`SELECT external_id FROM user_growid WHERE LOWER(growid) = LOWER($1)`, growid,
	).Scan(&externalID)
	if postgres.IsNoRows(err) {
		return "", common.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("ошибка получения аккаунта по GrowID: %w", err)
	}
	return externalID, nil
}

// RegisterUser создаёт пользователя (если его нет) и привязывает к нему внешний аккаунт.
// Привязка аккаунта перезаписывается, регистр GrowID берётся из первой регистрации.
func (r *Repository) RegisterUser(ctx context.Context, externalID, growid string, dailyLimit int64) (*User, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO users (growid, daily_limit)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, growid, dailyLimit)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пользователя: %w", err)
	}

	u, err := scanUser(tx.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(growid) = LOWER($1)`, growid,
	))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения пользователя: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO user_growid (external_id, growid)
		VALUES ($1, $2)
		ON CONFLICT (external_id) DO UPDATE
		SET growid = EXCLUDED.growid, updated_at = NOW()
	`, externalID, u.Growid)
	if postgres.IsUniqueViolation(err) {
		return nil, common.ErrGrowidExists
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка привязки GrowID: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка фиксации регистрации: %w", err)
	}
	return u, nil
}

// GetUser возвращает пользователя по GrowID без учёта регистра.
func (r *Repository) GetUser(ctx context.Context, growid string) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(growid) = LOWER($1)`, growid,
	))
	if postgres.IsNoRows(err) {
		return nil, common.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return u, nil
}

// ApplyChange — единственное место, где меняется баланс.
// Строка пользователя блокируется FOR UPDATE, поэтому fn видит актуальный баланс.
func (r *Repository) ApplyChange(ctx context.Context, ch Change, day, since time.Time, fn func(Snapshot) (Mutation, error)) (Applied, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Applied{}, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	u, err := scanUser(tx.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(growid) = LOWER($1) FOR UPDATE`, ch.Growid,
	))
	if postgres.IsNoRows(err) {
		return Applied{}, common.ErrUserNotFound
	}
	if err != nil {
		return Applied{}, fmt.Errorf("ошибка блокировки пользователя: %w", err)
	}

	snap := Snapshot{User: *u}
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(
			(SELECT amount_wl FROM daily_usage WHERE growid = $1 AND usage_date = $2), 0)
	`, u.Growid, day).Scan(&snap.UsedToday)
	if err != nil {
		return Applied{}, fmt.Errorf("ошибка чтения дневного расхода: %w", err)
	}

	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE growid = $1 AND created_at >= $2`,
		u.Growid, since,
	).Scan(&snap.RecentTx)
	if err != nil {
		return Applied{}, fmt.Errorf("ошибка подсчёта транзакций: %w", err)
	}

	m, err := fn(snap)
	if err != nil {
		return Applied{}, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE users
		SET balance_wl = $2, balance_dl = $3, balance_bgl = $4, updated_at = NOW()
		WHERE growid = $1
	`, u.Growid, m.New.WL, m.New.DL, m.New.BGL)
	if err != nil {
		return Applied{}, fmt.Errorf("ошибка обновления баланса: %w", err)
	}

	applied := Applied{
		Growid:   u.Growid,
		Old:      u.Balance,
		New:      m.New,
		AmountWL: m.New.TotalWL() - u.Balance.TotalWL(),
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO transactions (growid, type, details, old_balance, new_balance, amount_wl, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, u.Growid, string(ch.Type), ch.Details, u.Balance.Format(), m.New.Format(), applied.AmountWL, ch.Reference,
	).Scan(&applied.TransactionID, &applied.CreatedAt)
	if err != nil {
		return Applied{}, fmt.Errorf("ошибка записи транзакции: %w", err)
	}

	if m.UsageWL > 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO daily_usage (growid, usage_date, amount_wl)
			VALUES ($1, $2, $3)
			ON CONFLICT (growid, usage_date) DO UPDATE
			SET amount_wl = daily_usage.amount_wl + EXCLUDED.amount_wl
		`, u.Growid, day, m.UsageWL)
		if err != nil {
			return Applied{}, fmt.Errorf("ошибка учёта дневного расхода: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Applied{}, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return applied, nil
}

// SetLocked блокирует или разблокирует счёт.
func (r *Repository) SetLocked(ctx context.Context, growid string, locked bool, reason string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET is_locked = $2, lock_reason = $3, updated_at = NOW()
		WHERE LOWER(growid) = LOWER($1)
	`, growid, locked, reason)
	if err != nil {
		return fmt.Errorf("ошибка изменения блокировки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrUserNotFound
	}
	return nil
}

// SetDailyLimit меняет дневной лимит.
func (r *Repository) SetDailyLimit(ctx context.Context, growid string, limit int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET daily_limit = $2, updated_at = NOW()
		WHERE LOWER(growid) = LOWER($1)
	`, growid, limit)
	if err != nil {
		return fmt.Errorf("ошибка изменения лимита: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrUserNotFound
	}
	return nil
}

// GetDailyUsage возвращает расход за день.
func (r *Repository) GetDailyUsage(ctx context.Context, growid string, day time.Time) (int64, error) {
	var used int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(d.amount_wl), 0)
		FROM daily_usage d
		JOIN users u ON u.growid = d.growid
		WHERE LOWER(u.growid) = LOWER($1) AND d.usage_date = $2
	`, growid, day).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения дневного расхода: %w", err)
	}
	return used, nil
}

// GetTransactions возвращает страницу истории, новые сверху.
func (r *Repository) GetTransactions(ctx context.Context, growid string, limit, offset int, f HistoryFilter) ([]Transaction, error) {
	where := []string{"LOWER(growid) = LOWER($1)"}
	args := []any{growid}
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if !f.Start.IsZero() {
		args = append(args, f.Start)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !f.End.IsZero() {
		args = append(args, f.End)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`
		SELECT id, growid, type, details, old_balance, new_balance, amount_wl, reference, created_at
		FROM transactions
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории: %w", err)
	}
	return collectTransactions(rows)
}

// FindByReference возвращает записи журнала с заданной ссылкой на попытку операции.
func (r *Repository) FindByReference(ctx context.Context, reference string) ([]Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, growid, type, details, old_balance, new_balance, amount_wl, reference, created_at
		FROM transactions
		WHERE reference = $1
		ORDER BY id
	`, reference)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска транзакции: %w", err)
	}
	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		var txType string
		if err := rows.Scan(
			&t.ID, &t.Growid, &txType, &t.Details, &t.OldBalance, &t.NewBalance,
			&t.AmountWL, &t.Reference, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка чтения транзакции: %w", err)
		}
		t.Type = TxType(txType)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения истории: %w", err)
	}
	return out, nil
}

// CountUsers — число зарегистрированных пользователей.
func (r *Repository) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта пользователей: %w", err)
	}
	return n, nil
}
