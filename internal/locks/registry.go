// Package locks — реестр именованных блокировок процесса.
// Блокировка для ключа создаётся лениво при первом обращении,
// захват ограничен по времени и никогда не ждёт бесконечно.
package locks

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultHardCap — верхняя граница ожидания одной блокировки.
const DefaultHardCap = 5 * time.Second

// Locker — то, что нужно сервисам от реестра.
type Locker interface {
	Acquire(ctx context.Context, key Key, timeout time.Duration) bool
	Release(key Key)
}

// Registry хранит по одному мьютексу на ключ.
// Мьютекс — буферизованный канал ёмкостью 1: это даёт захват с таймаутом.
type Registry struct {
	mu      sync.Mutex
	locks   map[Key]*entry
	hardCap time.Duration
}

type entry struct {
	ch       chan struct{}
	lastUsed time.Time
}

// NewRegistry создаёт реестр. hardCap <= 0 — DefaultHardCap.
func NewRegistry(hardCap time.Duration) *Registry {
	if hardCap <= 0 {
		hardCap = DefaultHardCap
	}
	return &Registry{
		locks:   make(map[Key]*entry),
		hardCap: hardCap,
	}
}

func (r *Registry) get(key Key) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		r.locks[key] = e
	}
	e.lastUsed = time.Now()
	return e
}

// Acquire пытается захватить блокировку key за min(timeout, hardCap).
// Возвращает false при таймауте или отмене ctx, ошибку наружу не бросает.
func (r *Registry) Acquire(ctx context.Context, key Key, timeout time.Duration) bool {
	if timeout <= 0 || timeout > r.hardCap {
		timeout = r.hardCap
	}
	e := r.get(key)

	// быстрый путь без таймера
	select {
	case e.ch <- struct{}{}:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e.ch <- struct{}{}:
		return true
	case <-timer.C:
		log.WithFields(log.Fields{
			"lock_key": key.String(),
			"timeout":  timeout.String(),
		}).Warn("Не удалось захватить блокировку: таймаут")
		return false
	case <-ctx.Done():
		log.WithField("lock_key", key.String()).Debug("Захват блокировки отменён")
		return false
	}
}

// Release освобождает блокировку. Повторный вызов или вызов для
// никогда не захваченного ключа безопасен: только предупреждение в лог.
func (r *Registry) Release(key Key) {
	r.mu.Lock()
	e, ok := r.locks[key]
	r.mu.Unlock()

	if !ok {
		log.WithField("lock_key", key.String()).Warn("Освобождение неизвестной блокировки")
		return
	}

	select {
	case <-e.ch:
	default:
		log.WithField("lock_key", key.String()).Warn("Освобождение уже свободной блокировки")
	}
}

// Held сообщает, занята ли блокировка сейчас.
func (r *Registry) Held(key Key) bool {
	r.mu.Lock()
	e, ok := r.locks[key]
	r.mu.Unlock()
	return ok && len(e.ch) == 1
}

// Len — сколько ключей сейчас в реестре (для системной статистики).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

// Compact удаляет свободные записи, не использовавшиеся дольше idle.
// Запускается планировщиком, чтобы реестр не рос бесконечно.
func (r *Registry) Compact(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-idle)
	removed := 0
	for k, e := range r.locks {
		if len(e.ch) == 0 && e.lastUsed.Before(cutoff) {
			delete(r.locks, k)
			removed++
		}
	}
	return removed
}

// With захватывает key, выполняет fn и освобождает блокировку в любом случае.
// Если захват не удался — fn не вызывается, возвращается errLocked.
func With(ctx context.Context, l Locker, key Key, timeout time.Duration, errLocked error, fn func() error) error {
	if !l.Acquire(ctx, key, timeout) {
		return errLocked
	}
	defer l.Release(key)
	return fn()
}
