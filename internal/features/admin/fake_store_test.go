package admin

import (
	"context"
	"sync"
	"time"

	"serotonyl.ru/growstore-bot/internal/features/inventory"
)

type attempt struct {
	externalID string
	success    bool
	at         time.Time
}

// fakeStore — хранилище админки в памяти.
type fakeStore struct {
	mu        sync.Mutex
	now       func() time.Time
	nextID    int64
	sessions  []*Session
	attempts  []attempt
	blacklist map[string]BlacklistEntry
	lookups   int
}

func newFakeStore(now func() time.Time) *fakeStore {
	return &fakeStore{now: now, blacklist: make(map[string]BlacklistEntry)}
}

func (f *fakeStore) CreateSession(_ context.Context, session *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.ExternalID == session.ExternalID {
			s.IsActive = false
		}
	}
	f.nextID++
	session.ID = f.nextID
	session.AuthenticatedAt = f.now()
	session.LastActivity = f.now()
	session.IsActive = true
	cp := *session
	f.sessions = append(f.sessions, &cp)
	return nil
}

func (f *fakeStore) GetActiveSession(_ context.Context, externalID string, now time.Time) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sessions) - 1; i >= 0; i-- {
		s := f.sessions[i]
		if s.ExternalID == externalID && s.IsActive && s.ExpiresAt.After(now) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) DeactivateSession(_ context.Context, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.ExternalID == externalID {
			s.IsActive = false
		}
	}
	return nil
}

func (f *fakeStore) UpdateActivity(_ context.Context, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.ExternalID == externalID && s.IsActive {
			s.LastActivity = f.now()
		}
	}
	return nil
}

func (f *fakeStore) LogAttempt(_ context.Context, externalID string, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, attempt{externalID: externalID, success: success, at: f.now()})
	return nil
}

func (f *fakeStore) CountFailedAttempts(_ context.Context, externalID string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.attempts {
		if a.externalID == externalID && !a.success && !a.at.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) AddBlacklist(_ context.Context, e BlacklistEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.CreatedAt = f.now()
	f.blacklist[e.ExternalID] = e
	return nil
}

func (f *fakeStore) RemoveBlacklist(_ context.Context, externalID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blacklist[externalID]
	delete(f.blacklist, externalID)
	return ok, nil
}

func (f *fakeStore) GetBlacklist(_ context.Context, externalID string) (*BlacklistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	e, ok := f.blacklist[externalID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (f *fakeStore) ListBlacklist(context.Context) ([]BlacklistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]BlacklistEntry, 0, len(f.blacklist))
	for _, e := range f.blacklist {
		out = append(out, e)
	}
	return out, nil
}

type fakeUsers struct{ n int64 }

func (f fakeUsers) CountUsers(context.Context) (int64, error) { return f.n, nil }

type fakeCatalog struct {
	products []inventory.Product
	stock    map[inventory.StockStatus]int64
}

func (f fakeCatalog) GetAllProducts(context.Context) ([]inventory.Product, error) {
	return f.products, nil
}

func (f fakeCatalog) StockSummary(context.Context) (map[inventory.StockStatus]int64, error) {
	return f.stock, nil
}

type fakeLocks struct{ n int }

func (f fakeLocks) Len() int { return f.n }
