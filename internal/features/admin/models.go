// Package admin — служебная часть магазина: права администратора, вход по паролю,
// режим техобслуживания, чёрный список и сводка состояния системы.
package admin

import (
	"time"

	"serotonyl.ru/growstore-bot/internal/cache"
	"serotonyl.ru/growstore-bot/internal/features/inventory"
)

// Session — сессия администратора после ввода пароля.
type Session struct {
	ID              int64     `json:"id"`
	ExternalID      string    `json:"external_id"`
	SessionToken    string    `json:"-"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	LastActivity    time.Time `json:"last_activity"`
	IsActive        bool      `json:"is_active"`
}

// Maintenance — состояние режима техобслуживания.
type Maintenance struct {
	Enabled   bool      `json:"enabled"`
	Reason    string    `json:"reason,omitempty"`
	Admin     string    `json:"admin,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// BlacklistEntry — запись чёрного списка.
type BlacklistEntry struct {
	ExternalID string    `json:"external_id"`
	Reason     string    `json:"reason"`
	AddedBy    string    `json:"added_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// SystemStats — сводка для команды systeminfo.
type SystemStats struct {
	Uptime      time.Duration                   `json:"uptime"`
	Goroutines  int                             `json:"goroutines"`
	AllocMB     float64                         `json:"alloc_mb"`
	SysMB       float64                         `json:"sys_mb"`
	NumGC       uint32                          `json:"num_gc"`
	Cache       cache.Stats                     `json:"cache"`
	ActiveLocks int                             `json:"active_locks"`
	Users       int64                           `json:"users"`
	Products    int                             `json:"products"`
	Stock       map[inventory.StockStatus]int64 `json:"stock"`
	Maintenance bool                            `json:"maintenance"`
}

// Settings — параметры админки.
type Settings struct {
	AdminIDs     []string
	PasswordHash string
	SessionTTL   time.Duration
	// MaintenanceTTL — сколько живёт флаг техобслуживания в кэше.
	MaintenanceTTL time.Duration
	MaxAttempts    int
	AttemptWindow  time.Duration
	BlacklistTTL   time.Duration
}

// DefaultSettings — сессия на сутки, 3 попытки входа в час.
func DefaultSettings() Settings {
	return Settings{
		SessionTTL:     24 * time.Hour,
		MaintenanceTTL: 24 * time.Hour,
		MaxAttempts:    3,
		AttemptWindow:  time.Hour,
		BlacklistTTL:   time.Hour,
	}
}
