// Package cache — кэш с TTL поверх памяти процесса или Redis.
// Кэш только ускоряет чтение: источник истины — база данных,
// и каждый пишущий путь обязан обновить или сбросить свой ключ.
package cache

import (
	"context"
	"time"
)

// TTL по умолчанию.
const (
	TTLShort  = 5 * time.Minute // счётчики стока, балансы, история, статус блокировки
	TTLMedium = time.Hour       // GrowID-метаданные, товары
	TTLLong   = 24 * time.Hour  // почти неизменные связки аккаунт → GrowID
)

// Stats — статистика кэша.
type Stats struct {
	Backend     string  `json:"backend"`
	Items       int     `json:"item_count"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	MemoryBytes int64   `json:"memory_estimate"`
}

// Store — хранилище кэша. Значения — сырые байты, сериализацией занимается json.go.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePattern удаляет ключи по glob-шаблону (*, ?, [...]) и возвращает их число.
	DeletePattern(ctx context.Context, pattern string) (int, error)
	Stats(ctx context.Context) Stats
}

// TTLs — настраиваемые TTL трёх классов.
type TTLs struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// DefaultTTLs — 5 минут, 1 час, 1 день.
func DefaultTTLs() TTLs {
	return TTLs{Short: TTLShort, Medium: TTLMedium, Long: TTLLong}
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
