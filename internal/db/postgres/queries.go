package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Код ошибки PostgreSQL для нарушения уникальности.
const uniqueViolation = "23505"

// ExecMigrationSQL выполняет одну миграцию в транзакции.
// Возвращает true, если миграция была применена сейчас, и false, если уже была.
func ExecMigrationSQL(ctx context.Context, db DB, version int, sql string) (bool, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки миграции: %w", err)
	}
	if exists {
		return false, nil
	}

	if _, err := tx.Exec(ctx, sql); err != nil {
		return false, fmt.Errorf("ошибка выполнения миграции %d: %w", version, err)
	}

	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (version) VALUES ($1)", version,
	); err != nil {
		return false, fmt.Errorf("ошибка записи версии миграции: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("ошибка фиксации миграции %d: %w", version, err)
	}
	return true, nil
}

// IsUniqueViolation сообщает, что err — нарушение уникального индекса.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// IsNoRows сообщает, что запрос не вернул строк.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// InTx выполняет fn в транзакции: коммит при nil, откат при ошибке.
func InTx(ctx context.Context, db DB, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}
