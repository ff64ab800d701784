// Package events — типизированная шина событий магазина.
// Подписчики получают события конкретного вида; паника или долгий
// подписчик не ломает операцию, которая событие отправила.
package events

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Event — событие. Вид события определяется типом полезной нагрузки.
type Event interface {
	Kind() Kind
}

// Handler — подписчик на произвольное событие.
type Handler func(ctx context.Context, e Event)

// Publisher — то, что нужно сервисам от шины.
type Publisher interface {
	Publish(ctx context.Context, e Event)
	PublishAsync(ctx context.Context, e Event)
}

// Bus — шина в памяти процесса.
type Bus struct {
	mu        sync.RWMutex
	handlers  map[Kind][]Handler
	wg        sync.WaitGroup
	record    bool
	published []Event
}

// NewBus создаёт пустую шину.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Kind][]Handler)}
}

// NewRecordingBus — шина, которая запоминает все события (для тестов).
func NewRecordingBus() *Bus {
	b := NewBus()
	b.record = true
	return b
}

// Subscribe подписывает h на события вида kind.
func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// On подписывает типизированный обработчик: вид берётся из типа T.
//
//	events.On(bus, func(ctx context.Context, e events.StockSold) { ... })
func On[T Event](b *Bus, h func(ctx context.Context, e T)) {
	var zero T
	b.Subscribe(zero.Kind(), func(ctx context.Context, e Event) {
		if typed, ok := e.(T); ok {
			h(ctx, typed)
		}
	})
}

// Publish синхронно вызывает всех подписчиков. Паники перехватываются и логируются.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[e.Kind()]...)
	b.mu.RUnlock()

	if b.record {
		b.mu.Lock()
		b.published = append(b.published, e)
		b.mu.Unlock()
	}

	for _, h := range handlers {
		b.call(ctx, e, h)
	}
}

// PublishAsync отправляет событие в отдельной горутине.
// Контекст отвязывается от отмены вызывающего.
func (b *Bus) PublishAsync(ctx context.Context, e Event) {
	ctx = context.WithoutCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.Publish(ctx, e)
	}()
}

// Wait ждёт завершения асинхронных рассылок (shutdown и тесты).
func (b *Bus) Wait() {
	b.wg.Wait()
}

func (b *Bus) call(ctx context.Context, e Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"component": "events",
				"event":     string(e.Kind()),
				"panic":     fmt.Sprintf("%v", r),
				"stack":     string(debug.Stack()),
			}).Error("Паника в подписчике события — восстановлено")
		}
	}()
	h(ctx, e)
}

// Published возвращает копию записанных событий.
func (b *Bus) Published() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Event(nil), b.published...)
}

// PublishedOf возвращает записанные события вида kind.
func (b *Bus) PublishedOf(kind Kind) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, e := range b.published {
		if e.Kind() == kind {
			out = append(out, e)
		}
	}
	return out
}

var _ Publisher = (*Bus)(nil)
