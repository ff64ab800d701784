// Package postgres управляет подключением к базе данных PostgreSQL.
// Используется пул соединений pgxpool: он сам переподключается при обрыве
// и ограничивает число соединений.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/config"
)

// DB — то, что нужно репозиториям от базы.
// Реализуется *pgxpool.Pool и pgxmock в тестах.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DB = (*pgxpool.Pool)(nil)

// NewPool создаёт пул соединений к PostgreSQL и проверяет доступность базы.
//
// Пример:
//
//	pool, err := postgres.NewPool(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Close()
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	poolConfig.MaxConns = cfg.DBMaxConns
	poolConfig.MinConns = cfg.DBMinConns
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("база данных недоступна: %w", err)
	}

	log.WithFields(log.Fields{
		"host":      cfg.DBHost,
		"db":        cfg.DBName,
		"max_conns": cfg.DBMaxConns,
	}).Info("Подключение к PostgreSQL установлено")
	return pool, nil
}

// Migration — одна версия схемы.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// RunMigrations создаёт таблицу schema_migrations и применяет миграции по порядку.
// Уже применённые версии пропускаются.
func RunMigrations(ctx context.Context, db DB, migrations []Migration) error {
	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ошибка создания таблицы миграций: %w", err)
	}

	for _, m := range migrations {
		applied, err := ExecMigrationSQL(ctx, db, m.Version, m.SQL)
		if err != nil {
			return fmt.Errorf("миграция %03d (%s): %w", m.Version, m.Name, err)
		}
		if applied {
			log.WithFields(log.Fields{"version": m.Version, "name": m.Name}).Info("Миграция применена")
		}
	}

	log.Info("Система миграций готова")
	return nil
}
