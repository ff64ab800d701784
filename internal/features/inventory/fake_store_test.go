package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"serotonyl.ru/growstore-bot/internal/common"
)

// fakeStore — Store в памяти с теми же условными обновлениями, что и SQL.
type fakeStore struct {
	mu       sync.Mutex
	products map[string]*Product
	stock    []*StockItem
	world    *WorldInfo
	nextID   int64
	clock    time.Time

	failInsert error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products: make(map[string]*Product),
		clock:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) countLocked(code string, st StockStatus) int64 {
	var n int64
	for _, it := range f.stock {
		if it.ProductCode == code && it.Status == st {
			n++
		}
	}
	return n
}

func (f *fakeStore) statusOf(id int64) StockStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.stock {
		if it.ID == id {
			return it.Status
		}
	}
	return ""
}

func (f *fakeStore) CreateProduct(_ context.Context, in ProductInput) (*Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.products[in.Code]; ok && p.Status != ProductDeleted {
		return nil, common.ErrProductExists
	}
	now := f.tick()
	p := &Product{
		Code: in.Code, Name: in.Name, Price: in.Price, Description: in.Description,
		Status: ProductAvailable, CreatedAt: now, UpdatedAt: now,
	}
	f.products[in.Code] = p
	cp := *p
	return &cp, nil
}

func (f *fakeStore) GetProduct(_ context.Context, code string) (*Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[code]
	if !ok || p.Status == ProductDeleted {
		return nil, common.ErrProductNotFound
	}
	cp := *p
	cp.Stock = f.countLocked(code, StockAvailable)
	return &cp, nil
}

func (f *fakeStore) ListProducts(_ context.Context) ([]Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Product
	for _, p := range f.products {
		if p.Status == ProductDeleted {
			continue
		}
		cp := *p
		cp.Stock = f.countLocked(p.Code, StockAvailable)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (f *fakeStore) UpdateProduct(_ context.Context, code, field string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[code]
	if !ok || p.Status == ProductDeleted {
		return common.ErrProductNotFound
	}
	switch field {
	case "name":
		p.Name = value.(string)
	case "description":
		p.Description = value.(string)
	case "price":
		p.Price = value.(int64)
	}
	p.UpdatedAt = f.tick()
	return nil
}

func (f *fakeStore) DeleteProduct(_ context.Context, code, reason string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[code]
	if !ok || p.Status == ProductDeleted {
		return 0, common.ErrProductNotFound
	}
	now := f.tick()
	p.Status = ProductDeleted
	p.DeleteReason = reason
	p.DeletedAt = &now

	var n int64
	for _, it := range f.stock {
		if it.ProductCode == code && it.Status == StockAvailable {
			it.Status = StockDeleted
			it.Reason = reason
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountStock(_ context.Context, code string, status StockStatus) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countLocked(code, status), nil
}

func (f *fakeStore) StockSummary(_ context.Context) (map[StockStatus]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[StockStatus]int64)
	for _, it := range f.stock {
		out[it.Status]++
	}
	return out, nil
}

func (f *fakeStore) InsertStock(_ context.Context, item StockItem) (*StockItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsert != nil {
		return nil, f.failInsert
	}
	for _, it := range f.stock {
		if it.ProductCode == item.ProductCode && it.ContentHash == item.ContentHash && it.Status != StockDeleted {
			return nil, common.ErrDuplicateStock
		}
	}
	f.nextID++
	now := f.tick()
	item.ID = f.nextID
	item.Status = StockAvailable
	item.CreatedAt, item.UpdatedAt = now, now
	stored := item
	f.stock = append(f.stock, &stored)
	return &item, nil
}

func (f *fakeStore) AvailableStock(_ context.Context, code string, limit int) ([]StockItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []StockItem
	for _, it := range f.stock {
		if len(out) == limit {
			break
		}
		if it.ProductCode == code && it.Status == StockAvailable {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateStockStatus(_ context.Context, code string, ids []int64, from, to StockStatus, buyerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []*StockItem
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
	now := f.tick()
	for _, it := range matched {
		it.Status = to
		it.BuyerID = buyerID
		it.UpdatedAt = now
	}
	return nil
}

func (f *fakeStore) ReleaseStock(_ context.Context, code string, ids []int64, buyerID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, id := range ids {
		for _, it := range f.stock {
			if it.ID == id && it.ProductCode == code && it.Status == StockSold && it.BuyerID == buyerID {
				it.Status = StockAvailable
				it.BuyerID = ""
				n++
			}
		}
	}
	return n, nil
}

func (f *fakeStore) ReduceStock(_ context.Context, code string, quantity int, reason string) ([]StockItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var picked []*StockItem
	for _, it := range f.stock {
		if len(picked) == quantity {
			break
		}
		if it.ProductCode == code && it.Status == StockAvailable {
			picked = append(picked, it)
		}
	}
	if len(picked) < quantity {
		return nil, common.ErrInsufficientStock
	}
	out := make([]StockItem, 0, len(picked))
	for _, it := range picked {
		it.Status = StockReduced
		it.Reason = reason
		out = append(out, *it)
	}
	return out, nil
}

func (f *fakeStore) ListStock(_ context.Context, code string, status StockStatus, limit int) ([]StockItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []StockItem
	for i := len(f.stock) - 1; i >= 0 && len(out) < limit; i-- {
		it := f.stock[i]
		if it.ProductCode == code && (status == "" || it.Status == status) {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (f *fakeStore) GetWorldInfo(_ context.Context) (*WorldInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.world == nil {
		return nil, common.ErrWorldInfoNotFound
	}
	cp := *f.world
	return &cp, nil
}

func (f *fakeStore) UpdateWorldInfo(_ context.Context, w WorldInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.UpdatedAt = f.tick()
	f.world = &w
	return nil
}

// fakeNotifier запоминает отправленные документы.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentDocument
	err  error
}

type sentDocument struct {
	Recipient string
	Filename  string
	Content   string
	Caption   string
}

func (n *fakeNotifier) SendDocument(_ context.Context, recipient, filename string, content []byte, caption string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentDocument{recipient, filename, string(content), caption})
	return nil
}
