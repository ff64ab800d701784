package balance

import (
	"context"
	"strings"
	"sync"
	"time"

	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/currency"
)

// fakeStore — Store в памяти. Один мьютекс на всё хранилище
// заменяет SELECT ... FOR UPDATE.
type fakeStore struct {
	mu     sync.Mutex
	users  map[string]*User
	links  map[string]string
	txs    []Transaction
	usage  map[string]int64
	nextID int64

	failApply error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: make(map[string]*User),
		links: make(map[string]string),
		usage: make(map[string]int64),
	}
}

func usageKey(growid string, day time.Time) string {
	return strings.ToLower(growid) + "|" + day.Format("2006-01-02")
}

func (f *fakeStore) addUser(growid string, b currency.Balance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[strings.ToLower(growid)] = &User{Growid: growid, Balance: b, DailyLimit: 1_000_000}
}

func (f *fakeStore) balance(growid string) currency.Balance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[strings.ToLower(growid)].Balance
}

func (f *fakeStore) txsOf(growid string, t TxType) []Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Transaction
	for _, tx := range f.txs {
		if strings.EqualFold(tx.Growid, growid) && (t == "" || tx.Type == t) {
			out = append(out, tx)
		}
	}
	return out
}

func (f *fakeStore) GetGrowidByExternal(_ context.Context, externalID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.links[externalID]
	if !ok {
		return "", common.ErrNotRegistered
	}
	return g, nil
}

func (f *fakeStore) GetExternalByGrowid(_ context.Context, growid string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ext, g := range f.links {
		if strings.EqualFold(g, growid) {
			return ext, nil
		}
	}
	return "", common.ErrUserNotFound
}

func (f *fakeStore) RegisterUser(_ context.Context, externalID, growid string, dailyLimit int64) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := strings.ToLower(growid)
	u, ok := f.users[k]
	if !ok {
		u = &User{Growid: growid, DailyLimit: dailyLimit, CreatedAt: time.Now(), UpdatedAt: time.Now()}
		f.users[k] = u
	}
	for ext, g := range f.links {
		if ext != externalID && strings.EqualFold(g, growid) {
			return nil, common.ErrGrowidExists
		}
	}
	f.links[externalID] = u.Growid
	cp := *u
	return &cp, nil
}

func (f *fakeStore) GetUser(_ context.Context, growid string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[strings.ToLower(growid)]
	if !ok {
		return nil, common.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) ApplyChange(_ context.Context, ch Change, day, since time.Time, fn func(Snapshot) (Mutation, error)) (Applied, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failApply != nil {
		return Applied{}, f.failApply
	}
	u, ok := f.users[strings.ToLower(ch.Growid)]
	if !ok {
		return Applied{}, common.ErrUserNotFound
	}

	snap := Snapshot{User: *u, UsedToday: f.usage[usageKey(u.Growid, day)]}
	for _, tx := range f.txs {
		if strings.EqualFold(tx.Growid, u.Growid) && !tx.CreatedAt.Before(since) {
			snap.RecentTx++
		}
	}

	m, err := fn(snap)
	if err != nil {
		return Applied{}, err
	}

	old := u.Balance
	u.Balance = m.New
	f.nextID++
	tx := Transaction{
		ID:         f.nextID,
		Growid:     u.Growid,
		Type:       ch.Type,
		Details:    ch.Details,
		OldBalance: old.Format(),
		NewBalance: m.New.Format(),
		AmountWL:   m.New.TotalWL() - old.TotalWL(),
		Reference:  ch.Reference,
		CreatedAt:  time.Now(),
	}
	f.txs = append(f.txs, tx)
	if m.UsageWL > 0 {
		f.usage[usageKey(u.Growid, day)] += m.UsageWL
	}
	return Applied{
		Growid: u.Growid, Old: old, New: m.New, AmountWL: tx.AmountWL,
		TransactionID: tx.ID, CreatedAt: tx.CreatedAt,
	}, nil
}

func (f *fakeStore) SetLocked(_ context.Context, growid string, locked bool, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[strings.ToLower(growid)]
	if !ok {
		return common.ErrUserNotFound
	}
	u.IsLocked, u.LockReason = locked, reason
	return nil
}

func (f *fakeStore) SetDailyLimit(_ context.Context, growid string, limit int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[strings.ToLower(growid)]
	if !ok {
		return common.ErrUserNotFound
	}
	u.DailyLimit = limit
	return nil
}

func (f *fakeStore) GetDailyUsage(_ context.Context, growid string, day time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage[usageKey(growid, day)], nil
}

func (f *fakeStore) GetTransactions(_ context.Context, growid string, limit, offset int, flt HistoryFilter) ([]Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []Transaction
	for i := len(f.txs) - 1; i >= 0; i-- {
		tx := f.txs[i]
		if !strings.EqualFold(tx.Growid, growid) || (flt.Type != "" && tx.Type != flt.Type) {
			continue
		}
		all = append(all, tx)
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (f *fakeStore) FindByReference(_ context.Context, reference string) ([]Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Transaction
	for _, tx := range f.txs {
		if tx.Reference == reference {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeStore) CountUsers(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.users)), nil
}
