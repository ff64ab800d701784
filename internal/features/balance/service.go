// Package balance — service.go содержит бизнес-логику баланса:
// регистрация, изменение баланса, переводы, блокировки счёта и дневные лимиты.
package balance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/cache"
	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/currency"
	"serotonyl.ru/growstore-bot/internal/events"
	"serotonyl.ru/growstore-bot/internal/locks"
)

// Service управляет балансами игроков. Только он пишет users, transactions
// и daily_usage и только он сбрасывает их ключи кэша.
type Service struct {
	store Store
	cache cache.Store
	locks locks.Locker
	bus   events.Publisher
	cfg   Settings
	now   func() time.Time
}

// NewService создаёт сервис баланса.
func NewService(store Store, c cache.Store, l locks.Locker, bus events.Publisher, cfg Settings) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 10 * time.Second
	}
	if cfg.TTL == (cache.TTLs{}) {
		cfg.TTL = cache.DefaultTTLs()
	}
	return &Service{store: store, cache: c, locks: l, bus: bus, cfg: cfg, now: time.Now}
}

// UpdateOption — дополнительный параметр UpdateBalance.
type UpdateOption func(*Change)

// WithReference связывает запись журнала с попыткой операции (id из журнала покупок).
func WithReference(ref string) UpdateOption {
	return func(c *Change) { c.Reference = ref }
}

type lockStatus struct {
	Locked bool   `json:"locked"`
	Reason string `json:"reason,omitempty"`
}

// --- Регистрация ---

// RegisterUser привязывает GrowID к внешнему аккаунту.
// Повторная регистрация того же GrowID тем же аккаунтом — подтверждение, не ошибка.
func (s *Service) RegisterUser(ctx context.Context, externalID, growid string) (*User, error) {
	growid = strings.TrimSpace(growid)
	if !ValidGrowid(growid) {
		return nil, common.ErrInvalidGrowid
	}
	if strings.TrimSpace(externalID) == "" {
		return nil, common.Validationf("не указан аккаунт")
	}

	owner, err := s.store.GetExternalByGrowid(ctx, growid)
	switch {
	case err == nil && owner != externalID:
		return nil, common.ErrGrowidExists
	case err != nil && !errors.Is(err, common.ErrUserNotFound):
		return nil, s.storageError("register", err, log.Fields{"growid": growid})
	}

	var u *User
	err = locks.With(ctx, s.locks, locks.Register(externalID), s.cfg.LockTimeout, common.ErrLockAcquisitionFailed, func() error {
		// старая привязка этого аккаунта больше не актуальна
		if prev, err := s.store.GetGrowidByExternal(ctx, externalID); err == nil && !strings.EqualFold(prev, growid) {
			cache.Invalidate(ctx, s.cache, []string{cache.ExternalKey(prev)})
		}

		var err error
		u, err = s.store.RegisterUser(ctx, externalID, growid, s.cfg.DefaultDailyLimit)
		return err
	})
	if err != nil {
		if common.KindOf(err) == common.KindUnknown {
			return nil, s.storageError("register", err, log.Fields{"growid": growid, "external_id": externalID})
		}
		return nil, err
	}

	cache.SetJSON(ctx, s.cache, cache.GrowidKey(externalID), u.Growid, s.cfg.TTL.Long)
	cache.SetJSON(ctx, s.cache, cache.ExternalKey(u.Growid), externalID, s.cfg.TTL.Long)
	cache.Invalidate(ctx, s.cache, []string{cache.UserKey(u.Growid)})

	log.WithFields(log.Fields{"growid": u.Growid, "external_id": externalID}).Info("Пользователь зарегистрирован")
	s.bus.Publish(ctx, events.UserRegistered{ExternalID: externalID, Growid: u.Growid})
	return u, nil
}

// GetGrowid возвращает GrowID внешнего аккаунта.
func (s *Service) GetGrowid(ctx context.Context, externalID string) (string, error) {
	if g, ok := cache.GetJSON[string](ctx, s.cache, cache.GrowidKey(externalID)); ok {
		return g, nil
	}
	g, err := s.store.GetGrowidByExternal(ctx, externalID)
	if err != nil {
		return "", s.passOrWrap("get_growid", err, log.Fields{"external_id": externalID})
	}
	cache.SetJSON(ctx, s.cache, cache.GrowidKey(externalID), g, s.cfg.TTL.Long)
	return g, nil
}

// GetExternalID возвращает внешний аккаунт владельца GrowID.
func (s *Service) GetExternalID(ctx context.Context, growid string) (string, error) {
	if id, ok := cache.GetJSON[string](ctx, s.cache, cache.ExternalKey(growid)); ok {
		return id, nil
	}
	id, err := s.store.GetExternalByGrowid(ctx, growid)
	if err != nil {
		return "", s.passOrWrap("get_external_id", err, log.Fields{"growid": growid})
	}
	cache.SetJSON(ctx, s.cache, cache.ExternalKey(growid), id, s.cfg.TTL.Long)
	return id, nil
}

// --- Чтение ---

// GetUser возвращает пользователя целиком.
func (s *Service) GetUser(ctx context.Context, growid string) (*User, error) {
	if u, ok := cache.GetJSON[User](ctx, s.cache, cache.UserKey(growid)); ok {
		return &u, nil
	}
	u, err := s.store.GetUser(ctx, growid)
	if err != nil {
		return nil, s.passOrWrap("get_user", err, log.Fields{"growid": growid})
	}
	cache.SetJSON(ctx, s.cache, cache.UserKey(growid), u, s.cfg.TTL.Short)
	return u, nil
}

// GetBalance возвращает баланс. Для заблокированного счёта — ErrBalanceLocked.
func (s *Service) GetBalance(ctx context.Context, growid string) (currency.Balance, error) {
	st, err := s.lockStatus(ctx, growid)
	if err != nil {
		return currency.Balance{}, err
	}
	if st.Locked {
		return currency.Balance{}, common.ErrBalanceLocked
	}

	if b, ok := cache.GetJSON[currency.Balance](ctx, s.cache, cache.BalanceKey(growid)); ok {
		return b, nil
	}
	u, err := s.store.GetUser(ctx, growid)
	if err != nil {
		return currency.Balance{}, s.passOrWrap("get_balance", err, log.Fields{"growid": growid})
	}
	cache.SetJSON(ctx, s.cache, cache.BalanceKey(growid), u.Balance, s.cfg.TTL.Short)
	return u.Balance, nil
}

// IsLocked сообщает, заблокирован ли счёт.
func (s *Service) IsLocked(ctx context.Context, growid string) (bool, error) {
	st, err := s.lockStatus(ctx, growid)
	return st.Locked, err
}

func (s *Service) lockStatus(ctx context.Context, growid string) (lockStatus, error) {
	if st, ok := cache.GetJSON[lockStatus](ctx, s.cache, cache.LockStatusKey(growid)); ok {
		return st, nil
	}

	// кэш заполняется под той же блокировкой, под которой setLocked меняет статус
	key := locks.AccountLock(growid)
	held := s.locks.Acquire(ctx, key, s.cfg.LockTimeout)
	if held {
		defer s.locks.Release(key)
	}

	u, err := s.store.GetUser(ctx, growid)
	if err != nil {
		return lockStatus{}, s.passOrWrap("lock_status", err, log.Fields{"growid": growid})
	}
	st := lockStatus{Locked: u.IsLocked, Reason: u.LockReason}
	if held {
		cache.SetJSON(ctx, s.cache, cache.LockStatusKey(growid), st, s.cfg.TTL.Short)
	}
	return st, nil
}

// --- Изменение баланса ---

// UpdateBalance применяет дельту к балансу.
//
// Порядок проверок:
//   - счёт не заблокирован
//   - дельта в каждом номинале покрывается именно этим номиналом
//   - списание не выводит дневной расход за лимит (кроме админских операций)
//   - итоговый баланс не выше потолка
//
// Подозрительная активность только логируется и публикуется, операцию не останавливает.
func (s *Service) UpdateBalance(ctx context.Context, growid string, delta currency.Balance, details string, txType TxType, opts ...UpdateOption) (Applied, error) {
	if !txType.Valid() {
		return Applied{}, common.ErrInvalidTransactionType
	}
	if delta.IsZero() {
		return Applied{}, common.ErrInvalidAmount
	}

	return s.apply(ctx, growid, delta, details, txType, opts, func(cur currency.Balance) (currency.Balance, error) {
		if (delta.WL < 0 && -delta.WL > cur.WL) ||
			(delta.DL < 0 && -delta.DL > cur.DL) ||
			(delta.BGL < 0 && -delta.BGL > cur.BGL) {
			return currency.Balance{}, common.ErrInsufficientBalance
		}
		next := cur.Add(delta)
		next.WL = max(0, next.WL)
		next.DL = max(0, next.DL)
		next.BGL = max(0, next.BGL)
		return next, nil
	})
}

// Debit списывает amountWL в пересчёте на WL. Номиналы подбирает DebitDelta
// по балансу, прочитанному под блокировкой, так что нужный размен DL и BGL
// делается автоматически.
func (s *Service) Debit(ctx context.Context, growid string, amountWL int64, details string, txType TxType, opts ...UpdateOption) (Applied, error) {
	if !txType.Valid() {
		return Applied{}, common.ErrInvalidTransactionType
	}
	if amountWL <= 0 {
		return Applied{}, common.ErrInvalidAmount
	}

	return s.apply(ctx, growid, currency.Balance{WL: -amountWL}, details, txType, opts, func(cur currency.Balance) (currency.Balance, error) {
		delta, err := currency.DebitDelta(cur, amountWL)
		if err != nil {
			return currency.Balance{}, err
		}
		return cur.Add(delta), nil
	})
}

// ResetBalance обнуляет баланс (admin_reset).
func (s *Service) ResetBalance(ctx context.Context, growid, admin string) (Applied, error) {
	details := fmt.Sprintf("Баланс сброшен администратором %s", admin)
	return s.apply(ctx, growid, currency.Balance{}, details, TxAdminReset, nil, func(currency.Balance) (currency.Balance, error) {
		return currency.Balance{}, nil
	})
}

// apply — общий путь изменения баланса под блокировкой balance_update_<growid>.
// compute получает актуальный баланс из строки, заблокированной в БД.
func (s *Service) apply(ctx context.Context, growid string, delta currency.Balance, details string, txType TxType, opts []UpdateOption, compute func(cur currency.Balance) (currency.Balance, error)) (Applied, error) {
	fields := log.Fields{"growid": growid, "type": string(txType)}

	locked, err := s.IsLocked(ctx, growid)
	if err != nil {
		return Applied{}, err
	}
	if locked {
		return Applied{}, common.ErrBalanceLocked
	}

	ch := Change{Growid: growid, Delta: delta, Details: details, Type: txType}
	for _, opt := range opts {
		opt(&ch)
	}

	key := locks.BalanceUpdate(growid)
	if !s.locks.Acquire(ctx, key, s.cfg.LockTimeout) {
		log.WithFields(fields).WithField("lock_key", key.String()).Warn("Не удалось захватить блокировку баланса")
		return Applied{}, common.ErrLockAcquisitionFailed
	}
	defer s.locks.Release(key)

	now := s.now()
	day := common.DayStart(now, s.cfg.Location)
	since := now.Add(-s.cfg.Policy.BurstWindow)

	var suspicious []string
	applied, err := s.store.ApplyChange(ctx, ch, day, since, func(snap Snapshot) (Mutation, error) {
		if snap.User.IsLocked {
			return Mutation{}, common.ErrBalanceLocked
		}

		cur := snap.User.Balance
		next, err := compute(cur)
		if err != nil {
			return Mutation{}, err
		}
		change := next.TotalWL() - cur.TotalWL()

		var usage int64
		if change < 0 && txType.CountsTowardsDailyLimit() {
			usage = -change
			if snap.User.DailyLimit > 0 && snap.UsedToday+usage > snap.User.DailyLimit {
				return Mutation{}, common.ErrDailyLimitExceeded
			}
		}

		if change > 0 {
			if err := next.Validate(s.cfg.MaxBalanceWL); err != nil {
				return Mutation{}, err
			}
		}

		suspicious = s.cfg.Policy.Check(cur.TotalWL(), change, snap.RecentTx)
		return Mutation{New: next, UsageWL: usage}, nil
	})
	if err != nil {
		if common.KindOf(err) != common.KindUnknown {
			return Applied{}, err
		}
		return Applied{}, s.storageError("update_balance", err, fields)
	}
	applied.Suspicious = suspicious

	cache.SetJSON(ctx, s.cache, cache.BalanceKey(growid), applied.New, s.cfg.TTL.Short)
	cache.Invalidate(ctx, s.cache,
		[]string{cache.UserKey(growid), cache.DailyUsageKey(growid)},
		cache.HistoryPattern(growid),
	)

	log.WithFields(fields).WithFields(log.Fields{
		"old":       applied.Old.Format(),
		"new":       applied.New.Format(),
		"amount_wl": applied.AmountWL,
	}).Info("Баланс обновлён")

	s.bus.Publish(ctx, events.BalanceUpdated{
		Growid: applied.Growid, Old: applied.Old, New: applied.New, Type: string(txType), Details: details,
	})
	s.bus.Publish(ctx, events.TransactionAdded{
		Growid: applied.Growid, TransactionID: applied.TransactionID, Type: string(txType), AmountWL: applied.AmountWL,
	})
	if len(suspicious) > 0 {
		log.WithFields(fields).WithField("reasons", suspicious).Warn("Подозрительная активность")
		s.bus.PublishAsync(ctx, events.SuspiciousActivity{
			Growid: applied.Growid, Type: string(txType), Reasons: suspicious,
			ChangeWL: applied.AmountWL, Old: applied.Old, New: applied.New,
		})
	}
	return applied, nil
}

// --- Переводы ---

// TransferBalance переводит amountWL от sender к receiver.
// Блокировки переводов берутся в каноническом порядке GrowID, поэтому
// встречные переводы не могут взаимно заблокироваться.
// Если зачисление получателю не удалось, отправителю возвращается сумма (transfer_rollback).
func (s *Service) TransferBalance(ctx context.Context, sender, receiver string, amountWL int64) (TransferResult, error) {
	fields := log.Fields{"sender": sender, "receiver": receiver, "amount_wl": amountWL}

	if strings.EqualFold(strings.TrimSpace(sender), strings.TrimSpace(receiver)) {
		return TransferResult{}, common.ErrSelfTransfer
	}
	if amountWL <= 0 {
		return TransferResult{}, common.ErrInvalidAmount
	}
	if s.cfg.MaxTransferWL > 0 && amountWL > s.cfg.MaxTransferWL {
		return TransferResult{}, common.Validationf("максимальная сумма перевода: %s WL", common.FormatNumber(s.cfg.MaxTransferWL))
	}

	for _, g := range []string{sender, receiver} {
		locked, err := s.IsLocked(ctx, g)
		if err != nil {
			return TransferResult{}, err
		}
		if locked {
			return TransferResult{}, common.ErrBalanceLocked
		}
	}

	first, second := locks.Transfer(sender), locks.Transfer(receiver)
	if second.String() < first.String() {
		first, second = second, first
	}
	if !s.locks.Acquire(ctx, first, s.cfg.LockTimeout) {
		return TransferResult{}, common.ErrLockAcquisitionFailed
	}
	defer s.locks.Release(first)
	if !s.locks.Acquire(ctx, second, s.cfg.LockTimeout) {
		return TransferResult{}, common.ErrLockAcquisitionFailed
	}
	defer s.locks.Release(second)

	out, err := s.Debit(ctx, sender, amountWL, fmt.Sprintf("Перевод игроку %s", receiver), TxTransferOut)
	if err != nil {
		return TransferResult{}, err
	}

	credit := currency.FromWL(amountWL)
	in, err := s.UpdateBalance(ctx, receiver, credit, fmt.Sprintf("Перевод от игрока %s", sender), TxTransferIn)
	if err != nil {
		_, rbErr := s.UpdateBalance(ctx, sender, credit,
			fmt.Sprintf("Возврат неудавшегося перевода игроку %s", receiver), TxTransferRollback)
		if rbErr != nil {
			log.WithFields(fields).WithFields(log.Fields{
				"credit_error":   err.Error(),
				"rollback_error": rbErr.Error(),
			}).Error("Не удалось вернуть средства после неудачного перевода")
		} else {
			log.WithFields(fields).WithError(err).Warn("Перевод отменён, средства возвращены отправителю")
		}
		return TransferResult{}, err
	}

	log.WithFields(fields).Info("Перевод выполнен")
	return TransferResult{Sender: out, Receiver: in, AmountWL: amountWL}, nil
}

// --- Блокировка счёта ---

// LockBalance блокирует счёт с причиной.
func (s *Service) LockBalance(ctx context.Context, growid, reason string) error {
	return s.setLocked(ctx, growid, true, strings.TrimSpace(reason))
}

// UnlockBalance снимает блокировку счёта.
func (s *Service) UnlockBalance(ctx context.Context, growid string) error {
	return s.setLocked(ctx, growid, false, "")
}

func (s *Service) setLocked(ctx context.Context, growid string, locked bool, reason string) error {
	err := locks.With(ctx, s.locks, locks.AccountLock(growid), s.cfg.LockTimeout, common.ErrLockAcquisitionFailed, func() error {
		if err := s.store.SetLocked(ctx, growid, locked, reason); err != nil {
			return err
		}
		cache.SetJSON(ctx, s.cache, cache.LockStatusKey(growid), lockStatus{Locked: locked, Reason: reason}, s.cfg.TTL.Short)
		return nil
	})
	if err != nil {
		return s.passOrWrap("set_locked", err, log.Fields{"growid": growid})
	}

	cache.Invalidate(ctx, s.cache, []string{cache.UserKey(growid), cache.BalanceKey(growid)})

	log.WithFields(log.Fields{"growid": growid, "locked": locked, "reason": reason}).Info("Статус блокировки счёта изменён")
	if locked {
		s.bus.Publish(ctx, events.BalanceLocked{Growid: growid, Reason: reason})
	} else {
		s.bus.Publish(ctx, events.BalanceUnlocked{Growid: growid})
	}
	return nil
}

// --- Дневной лимит ---

// SetDailyLimit задаёт дневной лимит списаний в WL. 0 — без лимита.
func (s *Service) SetDailyLimit(ctx context.Context, growid string, limit int64) error {
	if limit < 0 {
		return common.ErrInvalidAmount
	}
	err := locks.With(ctx, s.locks, locks.DailyLimit(growid), s.cfg.LockTimeout, common.ErrLockAcquisitionFailed, func() error {
		return s.store.SetDailyLimit(ctx, growid, limit)
	})
	if err != nil {
		return s.passOrWrap("set_daily_limit", err, log.Fields{"growid": growid})
	}

	cache.SetJSON(ctx, s.cache, cache.DailyLimitKey(growid), limit, s.cfg.TTL.Medium)
	cache.Invalidate(ctx, s.cache, []string{cache.UserKey(growid)})
	s.bus.Publish(ctx, events.DailyLimitUpdated{Growid: growid, Limit: limit})
	return nil
}

// GetDailyLimit возвращает дневной лимит.
func (s *Service) GetDailyLimit(ctx context.Context, growid string) (int64, error) {
	if v, ok := cache.GetJSON[int64](ctx, s.cache, cache.DailyLimitKey(growid)); ok {
		return v, nil
	}
	u, err := s.store.GetUser(ctx, growid)
	if err != nil {
		return 0, s.passOrWrap("get_daily_limit", err, log.Fields{"growid": growid})
	}
	cache.SetJSON(ctx, s.cache, cache.DailyLimitKey(growid), u.DailyLimit, s.cfg.TTL.Medium)
	return u.DailyLimit, nil
}

// GetDailyUsage возвращает расход за сегодня.
func (s *Service) GetDailyUsage(ctx context.Context, growid string) (int64, error) {
	if v, ok := cache.GetJSON[int64](ctx, s.cache, cache.DailyUsageKey(growid)); ok {
		return v, nil
	}
	used, err := s.store.GetDailyUsage(ctx, growid, common.DayStart(s.now(), s.cfg.Location))
	if err != nil {
		return 0, s.passOrWrap("get_daily_usage", err, log.Fields{"growid": growid})
	}
	cache.SetJSON(ctx, s.cache, cache.DailyUsageKey(growid), used, s.cfg.TTL.Short)
	return used, nil
}

// --- История ---

// GetTransactionHistory возвращает страницу истории, новые сверху.
func (s *Service) GetTransactionHistory(ctx context.Context, growid string, limit, offset int, f HistoryFilter) ([]Transaction, error) {
	if limit <= 0 {
		limit = 10
	}
	limit = min(limit, 100)
	offset = max(offset, 0)
	if f.Type != "" && !f.Type.Valid() {
		return nil, common.ErrInvalidTransactionType
	}

	key := cache.HistoryKey(growid, limit, offset, f.hash())
	if txs, ok := cache.GetJSON[[]Transaction](ctx, s.cache, key); ok && len(txs) > 0 {
		return txs, nil
	}

	txs, err := s.store.GetTransactions(ctx, growid, limit, offset, f)
	if err != nil {
		return nil, s.passOrWrap("get_history", err, log.Fields{"growid": growid})
	}
	if len(txs) == 0 {
		return nil, common.ErrNoHistory
	}
	cache.SetJSON(ctx, s.cache, key, txs, s.cfg.TTL.Short)
	return txs, nil
}

// FindByReference возвращает записи журнала, созданные попыткой операции ref.
func (s *Service) FindByReference(ctx context.Context, ref string) ([]Transaction, error) {
	txs, err := s.store.FindByReference(ctx, ref)
	if err != nil {
		return nil, s.passOrWrap("find_by_reference", err, log.Fields{"reference": ref})
	}
	return txs, nil
}

// CountUsers — число пользователей для статистики.
func (s *Service) CountUsers(ctx context.Context) (int64, error) {
	n, err := s.store.CountUsers(ctx)
	if err != nil {
		return 0, s.passOrWrap("count_users", err, nil)
	}
	return n, nil
}

// Location — часовой пояс, в котором считается день.
func (s *Service) Location() *time.Location { return s.cfg.Location }

// passOrWrap отдаёт ошибки с видом как есть, остальные превращает в ErrTransactionFailed.
func (s *Service) passOrWrap(op string, err error, fields log.Fields) error {
	if common.KindOf(err) != common.KindUnknown {
		return err
	}
	return s.storageError(op, err, fields)
}

func (s *Service) storageError(op string, err error, fields log.Fields) error {
	log.WithFields(fields).WithFields(log.Fields{
		"component": "balance",
		"operation": op,
	}).WithError(err).Error("Ошибка хранилища")
	return fmt.Errorf("%w: %v", common.ErrTransactionFailed, err)
}
