package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/growstore-bot/internal/cache"
	"serotonyl.ru/growstore-bot/internal/locks"
)

type fakeMonitor struct {
	calls int
	err   error
}

func (m *fakeMonitor) MonitorPendingTransactions(context.Context) (int, int, error) {
	m.calls++
	return 1, 0, m.err
}

func TestCheckPending(t *testing.T) {
	m := &fakeMonitor{}
	s := NewScheduler(m, nil, nil, Settings{})

	s.checkPending(context.Background())
	m.err = errors.New("db down")
	s.checkPending(context.Background())
	assert.Equal(t, 2, m.calls)

	// после отмены контекста задача не ходит в базу
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.checkPending(ctx)
	assert.Equal(t, 2, m.calls)
}

func TestCompactLocks(t *testing.T) {
	reg := locks.NewRegistry(time.Second)
	ctx := context.Background()
	require.True(t, reg.Acquire(ctx, locks.Deposit("1"), time.Second))
	reg.Release(locks.Deposit("1"))
	require.Equal(t, 1, reg.Len())

	s := NewScheduler(&fakeMonitor{}, cache.NewMemory(), reg, Settings{LockIdle: time.Nanosecond})
	time.Sleep(time.Millisecond)
	s.compactLocks()
	s.sweepCache()

	assert.Equal(t, 0, reg.Len())
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := NewScheduler(&fakeMonitor{}, nil, nil, Settings{PendingSpec: "каждые пять минут"})
	assert.Error(t, s.Start(context.Background()))
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(&fakeMonitor{}, cache.NewMemory(), locks.NewRegistry(0), DefaultSettings())
	require.NoError(t, s.Start(context.Background()))
	assert.Len(t, s.cron.Entries(), 3)
	s.Stop()
}

func TestPairs(t *testing.T) {
	f := pairs([]interface{}{"now", 1, "next", 2, "dangling"})
	assert.Equal(t, 1, f["now"])
	assert.Equal(t, 2, f["next"])
	assert.Len(t, f, 2)
}
