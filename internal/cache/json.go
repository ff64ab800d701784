package cache

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"
)

// GetJSON читает и декодирует значение. Любая ошибка кэша — промах:
// вызывающий просто пойдёт в базу.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, bool) {
	var zero T
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("Ошибка чтения кэша")
		return zero, false
	}
	if !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		log.WithError(err).WithField("key", key).Warn("Повреждённая запись кэша")
		_ = s.Delete(ctx, key)
		return zero, false
	}
	return v, true
}

// SetJSON кодирует и сохраняет значение. Ошибка только логируется.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("Не удалось сериализовать значение для кэша")
		return
	}
	if err := s.Set(ctx, key, raw, ttl); err != nil {
		log.WithError(err).WithField("key", key).Warn("Ошибка записи в кэш")
	}
}

// Invalidate удаляет ключи и шаблоны, ошибки только логирует.
func Invalidate(ctx context.Context, s Store, keys []string, patterns ...string) {
	if len(keys) > 0 {
		if err := s.Delete(ctx, keys...); err != nil {
			log.WithError(err).WithField("keys", keys).Warn("Ошибка сброса кэша")
		}
	}
	for _, p := range patterns {
		if _, err := s.DeletePattern(ctx, p); err != nil {
			log.WithError(err).WithField("pattern", p).Warn("Ошибка сброса кэша по шаблону")
		}
	}
}
