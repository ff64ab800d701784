package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Redis — кэш поверх Redis. Все ключи получают префикс, чтобы
// DeletePattern и Stats не задевали чужие данные в той же базе.
type Redis struct {
	client redis.UniversalClient
	prefix string
	hits   atomic.Int64
	misses atomic.Int64
}

// RedisOptions — параметры подключения.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// ConnectRedis подключается к Redis и проверяет соединение.
func ConnectRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  time.Second,
		ReadTimeout:  400 * time.Millisecond,
		WriteTimeout: 400 * time.Millisecond,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis недоступен: %w", err)
	}
	log.WithField("addr", opts.Addr).Info("Подключение к Redis установлено")
	return NewRedis(client, opts.Prefix), nil
}

// NewRedis оборачивает готовый клиент.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k string) string { return r.prefix + k }

// Get читает значение. redis.Nil — промах, а не ошибка.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		r.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		r.misses.Add(1)
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	r.hits.Add(1)
	return val, true, nil
}

// Set сохраняет значение с TTL. ttl <= 0 — без истечения.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete удаляет ключи.
func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeletePattern проходит SCAN MATCH и удаляет найденные ключи пачками.
func (r *Redis) DeletePattern(ctx context.Context, pattern string) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.key(pattern), 200).Result()
		if err != nil {
			return removed, fmt.Errorf("redis scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("redis del: %w", err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// Stats считает ключи с префиксом и суммарный размер значений.
func (r *Redis) Stats(ctx context.Context) Stats {
	st := Stats{Backend: "redis", Hits: r.hits.Load(), Misses: r.misses.Load()}
	st.HitRate = hitRate(st.Hits, st.Misses)

	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.key("*"), 500).Result()
		if err != nil {
			log.WithError(err).Warn("Не удалось собрать статистику Redis")
			return st
		}
		st.Items += len(keys)
		for _, k := range keys {
			if n, err := r.client.StrLen(ctx, k).Result(); err == nil {
				st.MemoryBytes += n + int64(len(k))
			}
		}
		cursor = next
		if cursor == 0 {
			return st
		}
	}
}

// Close закрывает клиент.
func (r *Redis) Close() error {
	return r.client.Close()
}
