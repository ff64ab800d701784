package cache

import (
	"context"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Memory — кэш в памяти процесса. Записи истекают при чтении и при Sweep.
type Memory struct {
	mu     sync.RWMutex
	items  map[string]memoryItem
	hits   atomic.Int64
	misses atomic.Int64
	now    func() time.Time
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemory создаёт пустой кэш в памяти.
func NewMemory() *Memory {
	return &Memory{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

// Get возвращает значение, если оно есть и не истекло.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	it, ok := m.items[key]
	m.mu.RUnlock()

	if !ok {
		m.misses.Add(1)
		return nil, false, nil
	}
	if !it.expiresAt.IsZero() && !m.now().Before(it.expiresAt) {
		m.mu.Lock()
		// запись могли перезаписать между RUnlock и Lock
		if cur, still := m.items[key]; still && cur.expiresAt.Equal(it.expiresAt) {
			delete(m.items, key)
		}
		m.mu.Unlock()
		m.misses.Add(1)
		return nil, false, nil
	}

	m.hits.Add(1)
	return it.value, true, nil
}

// Set сохраняет значение на ttl. ttl <= 0 — без истечения.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	it := memoryItem{value: value}
	if ttl > 0 {
		it.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.items[key] = it
	m.mu.Unlock()
	return nil
}

// Delete удаляет ключи.
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.items, k)
	}
	m.mu.Unlock()
	return nil
}

// DeletePattern удаляет все ключи, подходящие под glob-шаблон.
func (m *Memory) DeletePattern(_ context.Context, pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, fmt.Errorf("некорректный шаблон %q: %w", pattern, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k := range m.items {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.items, k)
			removed++
		}
	}
	return removed, nil
}

// Sweep удаляет истёкшие записи. Вызывается планировщиком.
func (m *Memory) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, it := range m.items {
		if !it.expiresAt.IsZero() && !now.Before(it.expiresAt) {
			delete(m.items, k)
			removed++
		}
	}
	if removed > 0 {
		log.WithField("removed", removed).Debug("Очистка кэша")
	}
	return removed
}

// Stats возвращает число записей, долю попаданий и оценку занимаемой памяти.
func (m *Memory) Stats(_ context.Context) Stats {
	m.mu.RLock()
	var mem int64
	for k, it := range m.items {
		mem += int64(len(k) + len(it.value))
	}
	n := len(m.items)
	m.mu.RUnlock()

	hits, misses := m.hits.Load(), m.misses.Load()
	return Stats{
		Backend:     "memory",
		Items:       n,
		Hits:        hits,
		Misses:      misses,
		HitRate:     hitRate(hits, misses),
		MemoryBytes: mem,
	}
}
