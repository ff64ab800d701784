// Package admin — repository.go работает с таблицами admin_sessions,
// admin_login_attempts и blacklist.
package admin

import (
	"context"
	"fmt"
	"time"

	"serotonyl.ru/growstore-bot/internal/db/postgres"
)

// Store — хранилище админки.
type Store interface {
	CreateSession(ctx context.Context, session *Session) error
	// GetActiveSession возвращает (nil, nil), если активной сессии нет.
	GetActiveSession(ctx context.Context, externalID string, now time.Time) (*Session, error)
	DeactivateSession(ctx context.Context, externalID string) error
	UpdateActivity(ctx context.Context, externalID string) error
	LogAttempt(ctx context.Context, externalID string, success bool) error
	// CountFailedAttempts — неудачные попытки входа начиная с since.
	CountFailedAttempts(ctx context.Context, externalID string, since time.Time) (int, error)

	AddBlacklist(ctx context.Context, e BlacklistEntry) error
	// RemoveBlacklist возвращает false, если записи не было.
	RemoveBlacklist(ctx context.Context, externalID string) (bool, error)
	GetBlacklist(ctx context.Context, externalID string) (*BlacklistEntry, error)
	ListBlacklist(ctx context.Context) ([]BlacklistEntry, error)
}

// Repository работает с админ-таблицами.
type Repository struct {
	db postgres.DB
}

// NewRepository создаёт репозиторий.
func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

// CreateSession закрывает прежние сессии и создаёт новую.
func (r *Repository) CreateSession(ctx context.Context, session *Session) error {
	_, err := r.db.Exec(ctx, `
		UPDATE admin_sessions SET is_active = FALSE WHERE external_id = $1 AND is_active = TRUE
	`, session.ExternalID)
	if err != nil {
		return fmt.Errorf("ошибка закрытия старых сессий: %w", err)
	}

	err = r.db.QueryRow(ctx, `
		INSERT INTO admin_sessions (external_id, session_token, expires_at, is_active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING id, authenticated_at, last_activity
	`, session.ExternalID, session.SessionToken, session.ExpiresAt).
		Scan(&session.ID, &session.AuthenticatedAt, &session.LastActivity)
	if err != nil {
		return fmt.Errorf("ошибка создания сессии: %w", err)
	}
	session.IsActive = true
	return nil
}

// GetActiveSession возвращает активную сессию пользователя.
func (r *Repository) GetActiveSession(ctx context.Context, externalID string, now time.Time) (*Session, error) {
	var s Session
	err := r.db.QueryRow(ctx, `
		SELECT id, external_id, session_token, authenticated_at, expires_at, last_activity, is_active
		FROM admin_sessions
		WHERE external_id = $1 AND is_active = TRUE AND expires_at > $2
		ORDER BY authenticated_at DESC
		LIMIT 1
	`, externalID, now).Scan(
		&s.ID, &s.ExternalID, &s.SessionToken, &s.AuthenticatedAt,
		&s.ExpiresAt, &s.LastActivity, &s.IsActive,
	)
	if postgres.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения сессии: %w", err)
	}
	return &s, nil
}

// DeactivateSession деактивирует сессии пользователя.
func (r *Repository) DeactivateSession(ctx context.Context, externalID string) error {
	_, err := r.db.Exec(ctx, `UPDATE admin_sessions SET is_active = FALSE WHERE external_id = $1`, externalID)
	if err != nil {
		return fmt.Errorf("ошибка закрытия сессии: %w", err)
	}
	return nil
}

// UpdateActivity обновляет время последней активности.
func (r *Repository) UpdateActivity(ctx context.Context, externalID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE admin_sessions SET last_activity = NOW() WHERE external_id = $1 AND is_active = TRUE
	`, externalID)
	if err != nil {
		return fmt.Errorf("ошибка обновления активности: %w", err)
	}
	return nil
}

// LogAttempt записывает попытку входа.
func (r *Repository) LogAttempt(ctx context.Context, externalID string, success bool) error {
	_, err := r.db.Exec(ctx, `INSERT INTO admin_login_attempts (external_id, success) VALUES ($1, $2)`,
		externalID, success)
	if err != nil {
		return fmt.Errorf("ошибка записи попытки входа: %w", err)
	}
	return nil
}

// CountFailedAttempts возвращает количество неудачных попыток с момента since.
func (r *Repository) CountFailedAttempts(ctx context.Context, externalID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM admin_login_attempts
		WHERE external_id = $1 AND success = FALSE AND attempt_time >= $2
	`, externalID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта попыток входа: %w", err)
	}
	return count, nil
}

// --- Чёрный список ---

// AddBlacklist добавляет или обновляет запись.
func (r *Repository) AddBlacklist(ctx context.Context, e BlacklistEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO blacklist (external_id, reason, added_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (external_id) DO UPDATE SET reason = EXCLUDED.reason, added_by = EXCLUDED.added_by
	`, e.ExternalID, e.Reason, e.AddedBy)
	if err != nil {
		return fmt.Errorf("ошибка добавления в чёрный список: %w", err)
	}
	return nil
}

// RemoveBlacklist удаляет запись.
func (r *Repository) RemoveBlacklist(ctx context.Context, externalID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM blacklist WHERE external_id = $1`, externalID)
	if err != nil {
		return false, fmt.Errorf("ошибка удаления из чёрного списка: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetBlacklist возвращает (nil, nil), если пользователя нет в списке.
func (r *Repository) GetBlacklist(ctx context.Context, externalID string) (*BlacklistEntry, error) {
	var e BlacklistEntry
	err := r.db.QueryRow(ctx, `
		SELECT external_id, reason, added_by, created_at FROM blacklist WHERE external_id = $1
	`, externalID).Scan(&e.ExternalID, &e.Reason, &e.AddedBy, &e.CreatedAt)
	if postgres.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения чёрного списка: %w", err)
	}
	return &e, nil
}

// ListBlacklist — весь список, новые сверху.
func (r *Repository) ListBlacklist(ctx context.Context) ([]BlacklistEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT external_id, reason, added_by, created_at FROM blacklist ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения чёрного списка: %w", err)
	}
	defer rows.Close()

	var out []BlacklistEntry
	for rows.Next() {
		var e BlacklistEntry
		if err := rows.Scan(&e.ExternalID, &e.Reason, &e.AddedBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка чтения чёрного списка: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
