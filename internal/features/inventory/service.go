// Package inventory — service.go содержит бизнес-логику товаров и стока:
// создание и правка товаров, загрузка позиций, резерв под покупку и списание.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/cache"
	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/events"
	"serotonyl.ru/growstore-bot/internal/locks"
)

// Notifier доставляет файл со списанным стоком владельцу мира.
type Notifier interface {
	SendDocument(ctx context.Context, recipient, filename string, content []byte, caption string) error
}

// Service управляет товарами и стоком. Только он пишет products, stock и world_info.
type Service struct {
	store    Store
	cache    cache.Store
	locks    locks.Locker
	bus      events.Publisher
	notifier Notifier
	cfg      Settings
	now      func() time.Time
}

// NewService создаёт сервис стока. notifier может быть nil: тогда выгрузка
// списанного стока только логируется.
func NewService(store Store, c cache.Store, l locks.Locker, bus events.Publisher, notifier Notifier, cfg Settings) *Service {
	if cfg.MaxStock <= 0 {
		cfg.MaxStock = DefaultMaxStock
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 10 * time.Second
	}
	if cfg.TTL == (cache.TTLs{}) {
		cfg.TTL = cache.DefaultTTLs()
	}
	return &Service{store: store, cache: c, locks: l, bus: bus, notifier: notifier, cfg: cfg, now: time.Now}
}

// --- Товары ---

// CreateProduct создаёт товар.
func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (*Product, error) {
	in.Code = NormalizeCode(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.Price < MinPrice || in.Price > MaxPrice {
		return nil, common.ErrInvalidPrice
	}
	if err := common.ValidateStruct(in); err != nil {
		return nil, err
	}

	var p *Product
	err := locks.With(ctx, s.locks, locks.ProductCreate(in.Code), s.cfg.LockTimeout, common.ErrLockAcquisitionFailed, func() error {
		var err error
		p, err = s.store.CreateProduct(ctx, in)
		return err
	})
	if err != nil {
		return nil, s.passOrWrap("create_product", err, log.Fields{"product_code": in.Code})
	}

	cache.SetJSON(ctx, s.cache, cache.ProductKey(p.Code), p, s.cfg.TTL.Medium)
	cache.Invalidate(ctx, s.cache, []string{cache.AllProductsKey})

	log.WithFields(log.Fields{"product_code": p.Code, "price": p.Price}).Info("Товар создан")
	s.bus.Publish(ctx, events.ProductCreated{Code: p.Code, Name: p.Name, Price: p.Price})
	return p, nil
}

// UpdateProduct меняет одно поле товара: name, price или description.
func (s *Service) UpdateProduct(ctx context.Context, code, field, value string) (*Product, error) {
	code = NormalizeCode(code)
	field = strings.ToLower(strings.TrimSpace(field))
	value = strings.TrimSpace(value)

	var v any
	switch field {
	case "name":
		if value == "" || len([]rune(value)) > MaxNameLen {
			return nil, common.Validationf("название: от 1 до %d символов", MaxNameLen)
		}
		v = value
	case "description":
		if len([]rune(value)) > MaxDescriptionLen {
			return nil, common.Validationf("описание: максимум %d символов", MaxDescriptionLen)
		}
		v = value
	case "price":
		price, err := strconv.ParseInt(strings.ReplaceAll(value, ",", ""), 10, 64)
		if err != nil || price < MinPrice || price > MaxPrice {
			return nil, common.ErrInvalidPrice
		}
		v = price
	default:
		return nil, common.Validationf("можно изменить только name, price или description")
	}

	err := locks.With(ctx, s.locks, locks.ProductUpdate(code), s.cfg.LockTimeout, common.ErrLockAcquisitionFailed, func() error {
		return s.store.UpdateProduct(ctx, code, field, v)
	})
	if err != nil {
		return nil, s.passOrWrap("update_product", err, log.Fields{"product_code": code, "field": field})
	}

	cache.Invalidate(ctx, s.cache, []string{cache.ProductKey(code), cache.AllProductsKey})
	s.bus.Publish(ctx, events.ProductUpdated{Code: code, Field: field, Value: value})
	return s.GetProduct(ctx, code)
}

// GetProduct возвращает неудалённый товар.
func (s *Service) GetProduct(ctx context.Context, code string) (*Product, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, common.ErrProductNotFound
	}
	if p, ok := cache.GetJSON[Product](ctx, s.cache, cache.ProductKey(code)); ok {
		return &p, nil
	}
	p, err := s.store.GetProduct(ctx, code)
	if err != nil {
		return nil, s.passOrWrap("get_product", err, log.Fields{"product_code": code})
	}
	cache.SetJSON(ctx, s.cache, cache.ProductKey(code), p, s.cfg.TTL.Medium)
	return p, nil
}

// GetAllProducts возвращает витрину: все неудалённые товары с остатками.
func (s *Service) GetAllProducts(ctx context.Context) ([]Product, error) {
	if ps, ok := cache.GetJSON[[]Product](ctx, s.cache, cache.AllProductsKey); ok {
		return ps, nil
	}
	ps, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, s.passOrWrap("list_products", err, nil)
	}
	cache.SetJSON(ctx, s.cache, cache.AllProductsKey, ps, s.cfg.TTL.Short)
	return ps, nil
}

// DeleteProduct мягко удаляет товар вместе с доступным стоком.
// Возвращает число списанных позиций.
func (s *Service) DeleteProduct(ctx context.Context, code, reason string) (int64, error) {
	code = NormalizeCode(code)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "удалён администратором"
	}

	var n int64
	err := locks.With(ctx, s.locks, locks.ProductUpdate(code), s.cfg.LockTimeout, common.ErrLockAcquisitionFailed, func() error {
		var err error
		n, err = s.store.DeleteProduct(ctx, code, reason)
		return err
	})
	if err != nil {
		return 0, s.passOrWrap("delete_product", err, log.Fields{"product_code": code})
	}

	s.invalidateStock(ctx, code)
	log.WithFields(log.Fields{"product_code": code, "stock_invalidated": n, "reason": reason}).Info("Товар удалён")
	s.bus.Publish(ctx, events.ProductDeleted{Code: code, Reason: reason, StockInvalidated: n})
	return n, nil
}

// --- Сток ---

// AddStockItem добавляет одну позицию.
func (s *Service) AddStockItem(ctx context.Context, code, content, addedBy string) (*StockItem, error) {
	code = NormalizeCode(code)
	if _, err := s.GetProduct(ctx, code); err != nil {
		return nil, err
	}
	item, err := s.addOne(ctx, code, content, addedBy)
	if err != nil {
		return nil, err
	}
	s.invalidateStock(ctx, code)
	s.bus.Publish(ctx, events.StockAdded{Code: code, Quantity: 1, AddedBy: addedBy})
	return item, nil
}

// AddStockBulk добавляет позиции из текста, по одной на строку.
// Каждая строка добавляется независимо, ошибки собираются в результат.
func (s *Service) AddStockBulk(ctx context.Context, code, blob, addedBy string) (BulkResult, error) {
	code = NormalizeCode(code)
	if _, err := s.GetProduct(ctx, code); err != nil {
		return BulkResult{}, err
	}

	res := BulkResult{Code: code}
	for i, line := range strings.Split(blob, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			continue
		}
		res.Total++
		if _, err := s.addOne(ctx, code, line, addedBy); err != nil {
			res.Failures = append(res.Failures, BulkFailure{
				Line:    i + 1,
				Content: common.Truncate(line, 40),
				Error:   common.UserMessage(err),
			})
			continue
		}
		res.Added++
	}
	if res.Total == 0 {
		return res, common.Validationf("файл не содержит ни одной позиции")
	}

	if res.Added > 0 {
		s.invalidateStock(ctx, code)
		s.bus.Publish(ctx, events.StockAdded{Code: code, Quantity: res.Added, AddedBy: addedBy})
	}
	log.WithFields(log.Fields{
		"product_code": code,
		"added":        res.Added,
		"total":        res.Total,
		"failed":       len(res.Failures),
	}).Info("Сток загружен")
	return res, nil
}

// addOne проверяет и вставляет позицию под блокировкой её содержимого.
func (s *Service) addOne(ctx context.Context, code, content, addedBy string) (*StockItem, error) {
	content = strings.TrimSpace(content)
	if content == "" || strings.ContainsAny(content, "\r\n") {
		return nil, common.ErrInvalidStockContent
	}

	count, err := s.store.CountStock(ctx, code, StockAvailable)
	if err != nil {
		return nil, s.passOrWrap("count_stock", err, log.Fields{"product_code": code})
	}
	if count >= s.cfg.MaxStock {
		return nil, common.ErrStockLimit
	}

	hash := ContentHash(content)
	var item *StockItem
	err = locks.With(ctx, s.locks, locks.StockAdd(code, hash), s.cfg.LockTimeout, common.ErrLockAcquisitionFailed, func() error {
		var err error
		item, err = s.store.InsertStock(ctx, StockItem{
			ProductCode: code,
			Content:     content,
			ContentHash: hash,
			AddedBy:     addedBy,
		})
		return err
	})
	if err != nil {
		return nil, s.passOrWrap("add_stock", err, log.Fields{"product_code": code})
	}
	return item, nil
}

// GetAvailableStock возвращает до quantity самых старых доступных позиций.
func (s *Service) GetAvailableStock(ctx context.Context, code string, quantity int) ([]StockItem, error) {
	code = NormalizeCode(code)
	if quantity <= 0 {
		return nil, common.Validationf("количество должно быть больше нуля")
	}

	key := cache.StockPageKey(code, quantity)
	if items, ok := cache.GetJSON[[]StockItem](ctx, s.cache, key); ok {
		return items, nil
	}

	var items []StockItem
	err := locks.With(ctx, s.locks, locks.StockGet(code), s.cfg.LockTimeout, common.ErrLockAcquisitionFailed, func() error {
		var err error
		items, err = s.store.AvailableStock(ctx, code, quantity)
		return err
	})
	if err != nil {
		return nil, s.passOrWrap("get_stock", err, log.Fields{"product_code": code})
	}
	cache.SetJSON(ctx, s.cache, key, items, s.cfg.TTL.Short)
	return items, nil
}

// GetStockCount — число доступных позиций товара.
func (s *Service) GetStockCount(ctx context.Context, code string) (int64, error) {
	code = NormalizeCode(code)
	if n, ok := cache.GetJSON[int64](ctx, s.cache, cache.StockCountKey(code)); ok {
		return n, nil
	}
	n, err := s.store.CountStock(ctx, code, StockAvailable)
	if err != nil {
		return 0, s.passOrWrap("count_stock", err, log.Fields{"product_code": code})
	}
	cache.SetJSON(ctx, s.cache, cache.StockCountKey(code), n, s.cfg.TTL.Short)
	return n, nil
}

// UpdateStockStatus переводит позиции в status под блокировкой stock_update_<code>.
// Обновление условное: для available ожидается статус sold, для остальных — available.
// Если хоть одна позиция уже изменена другой операцией, не меняется ничего
// и возвращается ErrStockConflict.
func (s *Service) UpdateStockStatus(ctx context.Context, code string, ids []int64, status StockStatus, buyerID string) error {
	code = NormalizeCode(code)
	if _, err := ParseStockStatus(string(status)); err != nil {
		return err
	}
	if len(ids) == 0 {
		return common.Validationf("не выбраны позиции")
	}
	if hasDuplicates(ids) {
		return common.Validationf("позиции повторяются")
	}

	from := StockAvailable
	if status == StockAvailable {
		from = StockSold
		buyerID = ""
	}

	// кэш сбрасывается под блокировкой, в том числе при конфликте
	err := locks.With(ctx, s.locks, locks.StockUpdate(code), s.cfg.LockTimeout, common.ErrLockAcquisitionFailed, func() error {
		err := s.store.UpdateStockStatus(ctx, code, ids, from, status, buyerID)
		if err == nil || errors.Is(err, common.ErrStockConflict) {
			s.invalidateStock(ctx, code)
		}
		return err
	})
	if err != nil {
		return s.passOrWrap("update_stock", err, log.Fields{"product_code": code, "ids": ids})
	}

	if status == StockSold {
		s.bus.Publish(ctx, events.StockSold{Code: code, IDs: ids, BuyerID: buyerID})
	} else {
		s.bus.Publish(ctx, events.StockUpdated{Code: code, IDs: ids, Status: string(status)})
	}
	return nil
}

// ReleaseStock возвращает в продажу позиции, проданные buyerID.
// Уже возвращённые позиции пропускаются, поэтому вызов можно повторять.
func (s *Service) ReleaseStock(ctx context.Context, code string, ids []int64, buyerID string) (int64, error) {
	code = NormalizeCode(code)
	if len(ids) == 0 {
		return 0, nil
	}

	var n int64
	err := locks.With(ctx, s.locks, locks.StockUpdate(code), s.cfg.LockTimeout, common.ErrLockAcquisitionFailed, func() error {
		var err error
		n, err = s.store.ReleaseStock(ctx, code, ids, buyerID)
		return err
	})
	if err != nil {
		return 0, s.passOrWrap("release_stock", err, log.Fields{"product_code": code, "ids": ids})
	}

	s.invalidateStock(ctx, code)
	if n > 0 {
		s.bus.Publish(ctx, events.StockUpdated{Code: code, IDs: ids, Status: string(StockAvailable)})
	}
	return n, nil
}

// ReduceStock списывает quantity доступных позиций без продажи и отправляет
// их содержимое владельцу мира. Ошибка доставки списание не откатывает.
func (s *Service) ReduceStock(ctx context.Context, code string, quantity int, reason string) (ReduceResult, error) {
	code = NormalizeCode(code)
	fields := log.Fields{"product_code": code, "quantity": quantity}
	if quantity <= 0 {
		return ReduceResult{}, common.Validationf("количество должно быть больше нуля")
	}
	if _, err := s.GetProduct(ctx, code); err != nil {
		return ReduceResult{}, err
	}

	world, err := s.GetWorldInfo(ctx)
	if err != nil {
		return ReduceResult{}, err
	}
	if strings.TrimSpace(world.Owner) == "" {
		return ReduceResult{}, common.Validationf("не задан владелец мира, используйте /setworld")
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "списано администратором"
	}

	var items []StockItem
	err = locks.With(ctx, s.locks, locks.StockUpdate(code), s.cfg.LockTimeout, common.ErrLockAcquisitionFailed, func() error {
		var err error
		items, err = s.store.ReduceStock(ctx, code, quantity, reason)
		return err
	})
	if err != nil {
		return ReduceResult{}, s.passOrWrap("reduce_stock", err, fields)
	}
	s.invalidateStock(ctx, code)

	res := ReduceResult{Code: code, Quantity: len(items), Contents: Contents(items), Owner: world.Owner}
	if s.notifier != nil {
		filename := fmt.Sprintf("%s_reduced_%s.txt", code, s.now().Format("20060102_150405"))
		caption := fmt.Sprintf("Списано %d %s товара %s. Причина: %s",
			len(items), common.PluralizeItems(int64(len(items))), code, reason)
		body := []byte(strings.Join(res.Contents, "\n"))
		if err := s.notifier.SendDocument(ctx, world.Owner, filename, body, caption); err != nil {
			log.WithFields(fields).WithError(err).Warn("Не удалось отправить списанный сток владельцу")
		} else {
			res.Notified = true
		}
	}

	log.WithFields(fields).WithField("notified", res.Notified).Info("Сток списан")
	s.bus.Publish(ctx, events.StockReduced{
		Code: code, Quantity: res.Quantity, Reason: reason,
		Contents: res.Contents, Owner: res.Owner, Notified: res.Notified,
	})
	return res, nil
}

// ListStock — история позиций товара. Пустой status — все статусы.
func (s *Service) ListStock(ctx context.Context, code string, status StockStatus, limit int) ([]StockItem, error) {
	code = NormalizeCode(code)
	if status != "" {
		if _, err := ParseStockStatus(string(status)); err != nil {
			return nil, err
		}
	}
	if limit <= 0 {
		limit = 20
	}
	limit = min(limit, 100)

	items, err := s.store.ListStock(ctx, code, status, limit)
	if err != nil {
		return nil, s.passOrWrap("list_stock", err, log.Fields{"product_code": code})
	}
	return items, nil
}

// StockSummary — число позиций по статусам.
func (s *Service) StockSummary(ctx context.Context) (map[StockStatus]int64, error) {
	sum, err := s.store.StockSummary(ctx)
	if err != nil {
		return nil, s.passOrWrap("stock_summary", err, nil)
	}
	return sum, nil
}

// --- Мир ---

// GetWorldInfo возвращает информацию о мире.
func (s *Service) GetWorldInfo(ctx context.Context) (*WorldInfo, error) {
	if w, ok := cache.GetJSON[WorldInfo](ctx, s.cache, cache.WorldInfoKey); ok {
		return &w, nil
	}
	w, err := s.store.GetWorldInfo(ctx)
	if err != nil {
		return nil, s.passOrWrap("get_world", err, nil)
	}
	cache.SetJSON(ctx, s.cache, cache.WorldInfoKey, w, s.cfg.TTL.Short)
	return w, nil
}

// UpdateWorldInfo перезаписывает информацию о мире.
func (s *Service) UpdateWorldInfo(ctx context.Context, w WorldInfo) (*WorldInfo, error) {
	w.World = strings.ToUpper(strings.TrimSpace(w.World))
	w.Owner = strings.TrimSpace(w.Owner)
	w.Bot = strings.TrimSpace(w.Bot)
	w.Status = strings.TrimSpace(w.Status)
	if w.Status == "" {
		w.Status = "online"
	}
	if err := common.ValidateStruct(w); err != nil {
		return nil, err
	}

	err := locks.With(ctx, s.locks, locks.WorldUpdate(), s.cfg.LockTimeout, common.ErrLockAcquisitionFailed, func() error {
		return s.store.UpdateWorldInfo(ctx, w)
	})
	if err != nil {
		return nil, s.passOrWrap("update_world", err, log.Fields{"world": w.World})
	}

	w.UpdatedAt = s.now()
	cache.SetJSON(ctx, s.cache, cache.WorldInfoKey, w, s.cfg.TTL.Short)
	s.bus.Publish(ctx, events.WorldUpdated{World: w.World, Owner: w.Owner, Bot: w.Bot, Status: w.Status})
	return &w, nil
}

// invalidateStock сбрасывает все ключи кэша, зависящие от стока товара.
func (s *Service) invalidateStock(ctx context.Context, code string) {
	cache.Invalidate(ctx, s.cache,
		[]string{cache.StockCountKey(code), cache.ProductKey(code), cache.AllProductsKey},
		cache.StockPagePattern(code),
	)
}

func hasDuplicates(ids []int64) bool {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return true
		}
		seen[id] = struct{}{}
	}
	return false
}

func (s *Service) passOrWrap(op string, err error, fields log.Fields) error {
	if common.KindOf(err) != common.KindUnknown {
		return err
	}
	log.WithFields(fields).WithFields(log.Fields{
		"component": "inventory",
		"operation": op,
	}).WithError(err).Error("Ошибка хранилища")
	return fmt.Errorf("%w: %v", common.ErrTransactionFailed, err)
}
