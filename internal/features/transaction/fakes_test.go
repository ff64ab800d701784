package transaction

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/currency"
	"serotonyl.ru/growstore-bot/internal/features/balance"
	"serotonyl.ru/growstore-bot/internal/features/inventory"
)

// fakeBalances — баланс в памяти с пономинальной проверкой, как у сервиса.
type fakeBalances struct {
	mu     sync.Mutex
	users  map[string]currency.Balance
	links  map[string]string
	locked map[string]bool
	txs    []balance.Transaction
	nextID int64

	failDebit error
}

func newFakeBalances() *fakeBalances {
	return &fakeBalances{
		users:  make(map[string]currency.Balance),
		links:  make(map[string]string),
		locked: make(map[string]bool),
	}
}

func (f *fakeBalances) addUser(externalID, growid string, b currency.Balance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[strings.ToLower(growid)] = b
	f.links[externalID] = growid
}

func (f *fakeBalances) balanceOf(growid string) currency.Balance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[strings.ToLower(growid)]
}

func (f *fakeBalances) txsOf(growid string, t balance.TxType) []balance.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []balance.Transaction
	for _, tx := range f.txs {
		if strings.EqualFold(tx.Growid, growid) && tx.Type == t {
			out = append(out, tx)
		}
	}
	return out
}

// record пишет проводку. Вызывается под f.mu.
func (f *fakeBalances) record(growid string, old, next currency.Balance, details string, t balance.TxType, opts []balance.UpdateOption) balance.Applied {
	var ch balance.Change
	for _, opt := range opts {
		opt(&ch)
	}
	f.nextID++
	f.users[strings.ToLower(growid)] = next
	f.txs = append(f.txs, balance.Transaction{
		ID: f.nextID, Growid: growid, Type: t, Details: details,
		OldBalance: old.Format(), NewBalance: next.Format(),
		AmountWL: next.TotalWL() - old.TotalWL(), Reference: ch.Reference,
	})
	return balance.Applied{Growid: growid, Old: old, New: next, AmountWL: next.TotalWL() - old.TotalWL(), TransactionID: f.nextID}
}

func (f *fakeBalances) GetGrowid(_ context.Context, externalID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.links[externalID]
	if !ok {
		return "", common.ErrNotRegistered
	}
	return g, nil
}

func (f *fakeBalances) GetBalance(_ context.Context, growid string) (currency.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locked[strings.ToLower(growid)] {
		return currency.Balance{}, common.ErrBalanceLocked
	}
	b, ok := f.users[strings.ToLower(growid)]
	if !ok {
		return currency.Balance{}, common.ErrUserNotFound
	}
	return b, nil
}

func (f *fakeBalances) Debit(_ context.Context, growid string, amountWL int64, details string, t balance.TxType, opts ...balance.UpdateOption) (balance.Applied, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDebit != nil {
		return balance.Applied{}, f.failDebit
	}
	cur := f.users[strings.ToLower(growid)]
	delta, err := currency.DebitDelta(cur, amountWL)
	if err != nil {
		return balance.Applied{}, err
	}
	return f.record(growid, cur, cur.Add(delta), details, t, opts), nil
}

func (f *fakeBalances) UpdateBalance(_ context.Context, growid string, delta currency.Balance, details string, t balance.TxType, opts ...balance.UpdateOption) (balance.Applied, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.users[strings.ToLower(growid)]
	if !ok {
		return balance.Applied{}, common.ErrUserNotFound
	}
	return f.record(growid, cur, cur.Add(delta), details, t, opts), nil
}

func (f *fakeBalances) TransferBalance(_ context.Context, sender, receiver string, amountWL int64) (balance.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	from, ok := f.users[strings.ToLower(sender)]
	if !ok {
		return balance.TransferResult{}, common.ErrUserNotFound
	}
	to, ok := f.users[strings.ToLower(receiver)]
	if !ok {
		return balance.TransferResult{}, common.ErrUserNotFound
	}
	delta, err := currency.DebitDelta(from, amountWL)
	if err != nil {
		return balance.TransferResult{}, err
	}
	out := f.record(sender, from, from.Add(delta), "out", balance.TxTransferOut, nil)
	in := f.record(receiver, to, to.Add(currency.FromWL(amountWL)), "in", balance.TxTransferIn, nil)
	return balance.TransferResult{Sender: out, Receiver: in, AmountWL: amountWL}, nil
}

func (f *fakeBalances) FindByReference(_ context.Context, reference string) ([]balance.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []balance.Transaction
	for _, tx := range f.txs {
		if tx.Reference == reference {
			out = append(out, tx)
		}
	}
	return out, nil
}

// fakeInventory — сток в памяти с условным обновлением статуса.
type fakeInventory struct {
	mu       sync.Mutex
	products map[string]*inventory.Product
	stock    []*inventory.StockItem
	nextID   int64

	failRelease error

	// conflicts — сколько продаж подряд отклонить, как будто позиции забрала другая покупка
	conflicts int
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{products: make(map[string]*inventory.Product)}
}

func (f *fakeInventory) addProduct(code string, price int64, contents ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[code] = &inventory.Product{Code: code, Name: "Товар " + code, Price: price, Status: inventory.ProductAvailable}
	for _, c := range contents {
		f.nextID++
		f.stock = append(f.stock, &inventory.StockItem{ID: f.nextID, ProductCode: code, Content: c, Status: inventory.StockAvailable})
	}
}

func (f *fakeInventory) count(code string, st inventory.StockStatus) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, it := range f.stock {
		if it.ProductCode == code && it.Status == st {
			n++
		}
	}
	return n
}

func (f *fakeInventory) GetProduct(_ context.Context, code string) (*inventory.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[code]
	if !ok {
		return nil, common.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeInventory) GetAvailableStock(_ context.Context, code string, quantity int) ([]inventory.StockItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []inventory.StockItem
	for _, it := range f.stock {
		if len(out) == quantity {
			break
		}
		if it.ProductCode == code && it.Status == inventory.StockAvailable {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (f *fakeInventory) UpdateStockStatus(_ context.Context, code string, ids []int64, status inventory.StockStatus, buyerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	from := inventory.StockAvailable
	if status == inventory.StockAvailable {
		from = inventory.StockSold
	}
	if status == inventory.StockSold && f.conflicts > 0 {
		f.conflicts--
		return common.ErrStockConflict
	}
	var matched []*inventory.StockItem
	for _, id := range ids {
		for _, it := range f.stock {
			if it.ID == id && it.ProductCode == code && it.Status == from {
				matched = append(matched, it)
			}
		}
	}
	if len(matched) != len(ids) {
		return common.ErrStockConflict
	}
	for _, it := range matched {
		it.Status = status
		it.BuyerID = buyerID
	}
	return nil
}

func (f *fakeInventory) ReleaseStock(_ context.Context, code string, ids []int64, buyerID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRelease != nil {
		return 0, f.failRelease
	}
	var n int64
	for _, id := range ids {
		for _, it := range f.stock {
			if it.ID == id && it.ProductCode == code && it.Status == inventory.StockSold && it.BuyerID == buyerID {
				it.Status = inventory.StockAvailable
				it.BuyerID = ""
				n++
			}
		}
	}
	return n, nil
}

// fakeJournal — журнал попыток в памяти.
type fakeJournal struct {
	mu       sync.Mutex
	attempts map[string]*Attempt
	now      func() time.Time

	failCreate error
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{attempts: make(map[string]*Attempt), now: time.Now}
}

func (f *fakeJournal) put(a Attempt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[a.ID] = &a
}

func (f *fakeJournal) state(id string) State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.attempts[id]; ok {
		return a.State
	}
	return ""
}

func (f *fakeJournal) only() Attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attempts {
		return *a
	}
	return Attempt{}
}

func (f *fakeJournal) Create(_ context.Context, a *Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return f.failCreate
	}
	a.CreatedAt, a.UpdatedAt = f.now(), f.now()
	cp := *a
	f.attempts[a.ID] = &cp
	return nil
}

func (f *fakeJournal) Update(_ context.Context, a *Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.attempts[a.ID]
	if !ok {
		return common.ErrTransactionNotFound
	}
	a.UpdatedAt = f.now()
	stored.Growid, stored.AmountWL, stored.State, stored.Error = a.Growid, a.AmountWL, a.State, a.Error
	stored.StockIDs = append([]int64(nil), a.StockIDs...)
	stored.UpdatedAt = a.UpdatedAt
	return nil
}

func (f *fakeJournal) Get(_ context.Context, id string) (*Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok {
		return nil, common.ErrTransactionNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeJournal) ListPending(_ context.Context, olderThan time.Time, limit int) ([]Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Attempt
	for _, a := range f.attempts {
		if !a.State.Terminal() && a.UpdatedAt.Before(olderThan) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeJournal) Analytics(_ context.Context, since time.Time, topN int) (Analytics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := Analytics{Since: since, VolumeWL: make(map[Kind]int64), ByKind: make(map[Kind]int64)}
	top := make(map[string]*ProductStat)
	for _, a := range f.attempts {
		if a.CreatedAt.Before(since) {
			continue
		}
		res.add(a.Kind, a.State, 1, a.AmountWL)
		if a.Kind == KindPurchase && a.State == StateCompleted {
			ps, ok := top[a.ProductCode]
			if !ok {
				ps = &ProductStat{Code: a.ProductCode}
				top[a.ProductCode] = ps
			}
			ps.Quantity += int64(a.Quantity)
			ps.TotalWL += a.AmountWL
		}
	}
	for _, ps := range top {
		res.TopProducts = append(res.TopProducts, *ps)
	}
	sort.Slice(res.TopProducts, func(i, j int) bool { return res.TopProducts[i].TotalWL > res.TopProducts[j].TotalWL })
	if len(res.TopProducts) > topN {
		res.TopProducts = res.TopProducts[:topN]
	}
	return res, nil
}
