// Package transaction — service.go проводит покупку, пополнение и перевод
// по шагам validating → locked → stock_reserving → balance_debiting → notifying → completed.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/currency"
	"serotonyl.ru/growstore-bot/internal/events"
	"serotonyl.ru/growstore-bot/internal/features/balance"
	"serotonyl.ru/growstore-bot/internal/features/inventory"
	"serotonyl.ru/growstore-bot/internal/locks"
)

// Balances — то, что оркестратору нужно от сервиса баланса.
type Balances interface {
	GetGrowid(ctx context.Context, externalID string) (string, error)
	GetBalance(ctx context.Context, growid string) (currency.Balance, error)
	Debit(ctx context.Context, growid string, amountWL int64, details string, txType balance.TxType, opts ...balance.UpdateOption) (balance.Applied, error)
	UpdateBalance(ctx context.Context, growid string, delta currency.Balance, details string, txType balance.TxType, opts ...balance.UpdateOption) (balance.Applied, error)
	TransferBalance(ctx context.Context, sender, receiver string, amountWL int64) (balance.TransferResult, error)
	FindByReference(ctx context.Context, reference string) ([]balance.Transaction, error)
}

// Inventory — то, что оркестратору нужно от сервиса стока.
type Inventory interface {
	GetProduct(ctx context.Context, code string) (*inventory.Product, error)
	GetAvailableStock(ctx context.Context, code string, quantity int) ([]inventory.StockItem, error)
	UpdateStockStatus(ctx context.Context, code string, ids []int64, status inventory.StockStatus, buyerID string) error
	ReleaseStock(ctx context.Context, code string, ids []int64, buyerID string) (int64, error)
}

// reserveAttempts — сколько раз перечитывать сток, если выбранные позиции
// успела забрать другая покупка.
const reserveAttempts = 2

// Service — оркестратор транзакций. Своих таблиц, кроме журнала, не имеет:
// баланс и сток меняются только через их сервисы.
type Service struct {
	balances  Balances
	inventory Inventory
	journal   Journal
	locks     locks.Locker
	bus       events.Publisher
	cfg       Settings
	now       func() time.Time
	newID     func() string
}

// NewService создаёт оркестратор.
func NewService(b Balances, inv Inventory, j Journal, l locks.Locker, bus events.Publisher, cfg Settings) *Service {
	def := DefaultSettings()
	if cfg.MaxQuantity <= 0 {
		cfg.MaxQuantity = def.MaxQuantity
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = def.LockTimeout
	}
	if cfg.PendingMaxAge <= 0 {
		cfg.PendingMaxAge = def.PendingMaxAge
	}
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = def.SweepLimit
	}
	return &Service{
		balances:  b,
		inventory: inv,
		journal:   j,
		locks:     l,
		bus:       bus,
		cfg:       cfg,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// --- Покупка ---

// ProcessPurchase покупает quantity позиций товара для внешнего аккаунта.
//
// Сток резервируется до списания. Если списание не прошло, позиции
// возвращаются в продажу. Если не удалось и это, попытка остаётся в журнале
// незавершённой и её доводит фоновая проверка.
func (s *Service) ProcessPurchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	req.ExternalID = strings.TrimSpace(req.ExternalID)
	req.ProductCode = inventory.NormalizeCode(req.ProductCode)
	if err := common.ValidateStruct(req); err != nil {
		return nil, err
	}
	if req.Quantity > s.cfg.MaxQuantity {
		return nil, common.Validationf("максимум %d шт. за покупку", s.cfg.MaxQuantity)
	}

	key := locks.Purchase(req.ExternalID, req.ProductCode)
	if !s.locks.Acquire(ctx, key, s.cfg.LockTimeout) {
		return nil, common.ErrLockAcquisitionFailed
	}
	defer s.locks.Release(key)

	a := &Attempt{
		ID:          s.newID(),
		Kind:        KindPurchase,
		ExternalID:  req.ExternalID,
		ProductCode: req.ProductCode,
		Quantity:    req.Quantity,
		State:       StateLocked,
	}
	if err := s.start(ctx, a); err != nil {
		return nil, err
	}
	fields := log.Fields{"attempt_id": a.ID, "external_id": a.ExternalID, "product_code": a.ProductCode, "quantity": a.Quantity}

	growid, err := s.balances.GetGrowid(ctx, req.ExternalID)
	if err != nil {
		return nil, s.fail(ctx, a, StateFailed, err)
	}
	a.Growid = growid
	fields["growid"] = growid

	product, err := s.inventory.GetProduct(ctx, req.ProductCode)
	if err != nil {
		return nil, s.fail(ctx, a, StateFailed, err)
	}
	a.AmountWL = product.Price * int64(req.Quantity)

	items, err := s.reserve(ctx, a)
	if err != nil {
		return nil, s.fail(ctx, a, StateFailed, err)
	}

	// сток уже продан, дальше любой отказ требует возврата позиций
	bal, err := s.balances.GetBalance(ctx, growid)
	if err == nil && bal.TotalWL() < a.AmountWL {
		err = common.ErrInsufficientBalance
	}
	if err != nil {
		return nil, s.compensate(ctx, a, err, fields)
	}

	if err := s.save(ctx, a, StateBalanceDebiting, ""); err != nil {
		return nil, s.compensate(ctx, a, err, fields)
	}
	details := fmt.Sprintf("Покупка %d x %s", req.Quantity, product.Code)
	applied, err := s.balances.Debit(ctx, growid, a.AmountWL, details, balance.TxPurchase, balance.WithReference(a.ID))
	if err != nil {
		return nil, s.compensate(ctx, a, err, fields)
	}

	// оплата прошла: ошибки журнала дальше только логируются,
	// фоновая проверка найдёт запись в журнале баланса
	_ = s.save(ctx, a, StateNotifying, "")
	res := &PurchaseResult{
		AttemptID:   a.ID,
		ProductCode: product.Code,
		ProductName: product.Name,
		Quantity:    req.Quantity,
		TotalWL:     a.AmountWL,
		Items:       inventory.Contents(items),
		NewBalance:  applied.New,
	}
	s.bus.Publish(ctx, events.PurchaseCompleted{
		AttemptID: a.ID, ExternalID: a.ExternalID, Growid: growid,
		ProductCode: product.Code, ProductName: product.Name,
		Quantity: req.Quantity, TotalWL: a.AmountWL, NewBalance: applied.New,
	})
	s.complete(ctx, a)

	log.WithFields(fields).WithField("total_wl", a.AmountWL).Info("Покупка завершена")
	return res, nil
}

// reserve выбирает и продаёт позиции. При конфликте со встречной покупкой
// сток перечитывается, после reserveAttempts конфликтов — ErrInsufficientStock.
func (s *Service) reserve(ctx context.Context, a *Attempt) ([]inventory.StockItem, error) {
	for range reserveAttempts {
		items, err := s.inventory.GetAvailableStock(ctx, a.ProductCode, a.Quantity)
		if err != nil {
			return nil, err
		}
		if len(items) < a.Quantity {
			return nil, common.ErrInsufficientStock
		}

		a.StockIDs = inventory.IDs(items)
		if err := s.save(ctx, a, StateStockReserving, ""); err != nil {
			return nil, err
		}
		err = s.inventory.UpdateStockStatus(ctx, a.ProductCode, a.StockIDs, inventory.StockSold, a.ExternalID)
		if err == nil {
			return items, nil
		}
		if !errors.Is(err, common.ErrStockConflict) {
			return nil, err
		}
		log.WithFields(log.Fields{"attempt_id": a.ID, "product_code": a.ProductCode}).
			Debug("Позиции заняты другой покупкой, перечитываем сток")
	}
	// все попытки упёрлись в конфликт
	a.StockIDs = nil
	return nil, common.ErrInsufficientStock
}

// compensate возвращает зарезервированный сток после отказа оплаты.
// Возвращается исходная ошибка.
func (s *Service) compensate(ctx context.Context, a *Attempt, cause error, fields log.Fields) error {
	if _, err := s.inventory.ReleaseStock(ctx, a.ProductCode, a.StockIDs, a.ExternalID); err != nil {
		log.WithFields(fields).WithFields(log.Fields{
			"stock_ids":     a.StockIDs,
			"cause":         cause.Error(),
			"release_error": err.Error(),
		}).Error("Не удалось вернуть сток после неудачной оплаты")
		// попытка остаётся незавершённой, её доведёт фоновая проверка
		a.Error = cause.Error()
		_ = s.save(ctx, a, StateBalanceDebiting, a.Error)
		s.publishFailed(ctx, a, cause)
		return cause
	}
	log.WithFields(fields).WithError(cause).Warn("Оплата не прошла, сток возвращён")
	return s.fail(ctx, a, StateRolledBack, cause)
}

// --- Пополнение ---

// ProcessDeposit зачисляет пополнение на баланс.
func (s *Service) ProcessDeposit(ctx context.Context, req DepositRequest) (*DepositResult, error) {
	req.ExternalID = strings.TrimSpace(req.ExternalID)
	if err := common.ValidateStruct(req); err != nil {
		return nil, err
	}
	amount := req.Amount()
	total := amount.TotalWL()
	if total <= 0 {
		return nil, common.ErrInvalidAmount
	}
	if s.cfg.MaxDepositWL > 0 && total > s.cfg.MaxDepositWL {
		return nil, common.Validationf("максимальное пополнение: %s", currency.FormatWL(s.cfg.MaxDepositWL))
	}

	key := locks.Deposit(req.ExternalID)
	if !s.locks.Acquire(ctx, key, s.cfg.LockTimeout) {
		return nil, common.ErrLockAcquisitionFailed
	}
	defer s.locks.Release(key)

	a := &Attempt{
		ID:         s.newID(),
		Kind:       KindDeposit,
		ExternalID: req.ExternalID,
		AmountWL:   total,
		State:      StateLocked,
	}
	if err := s.start(ctx, a); err != nil {
		return nil, err
	}

	growid, err := s.balances.GetGrowid(ctx, req.ExternalID)
	if err != nil {
		return nil, s.fail(ctx, a, StateFailed, err)
	}
	a.Growid = growid

	if err := s.save(ctx, a, StateBalanceDebiting, ""); err != nil {
		return nil, s.fail(ctx, a, StateFailed, err)
	}
	details := req.Details
	if details == "" {
		details = "Пополнение " + amount.Format()
	}
	applied, err := s.balances.UpdateBalance(ctx, growid, amount, details, balance.TxDeposit, balance.WithReference(a.ID))
	if err != nil {
		return nil, s.fail(ctx, a, StateFailed, err)
	}

	_ = s.save(ctx, a, StateNotifying, "")
	s.bus.Publish(ctx, events.DepositCompleted{
		AttemptID: a.ID, ExternalID: a.ExternalID, Growid: growid, Amount: amount, NewBalance: applied.New,
	})
	s.complete(ctx, a)

	log.WithFields(log.Fields{"attempt_id": a.ID, "growid": growid, "amount": amount.Format()}).Info("Пополнение зачислено")
	return &DepositResult{AttemptID: a.ID, Growid: growid, Amount: amount, NewBalance: applied.New}, nil
}

// --- Перевод ---

// ProcessTransfer переводит средства от владельца внешнего аккаунта игроку receiver.
// Откат при сбое зачисления выполняет сервис баланса.
func (s *Service) ProcessTransfer(ctx context.Context, req TransferRequest) (*balance.TransferResult, error) {
	req.ExternalID = strings.TrimSpace(req.ExternalID)
	req.Receiver = strings.TrimSpace(req.Receiver)
	if err := common.ValidateStruct(req); err != nil {
		return nil, err
	}

	sender, err := s.balances.GetGrowid(ctx, req.ExternalID)
	if err != nil {
		return nil, err
	}
	res, err := s.balances.TransferBalance(ctx, sender, req.Receiver, req.AmountWL)
	if err != nil {
		s.bus.Publish(ctx, events.TransactionFailed{
			Type: string(KindTransfer), ExternalID: req.ExternalID,
			Error: common.UserMessage(err), ErrorKind: string(common.KindOf(err)),
		})
		return nil, err
	}

	s.bus.Publish(ctx, events.TransactionCompleted{Type: string(KindTransfer), Growid: sender, AmountWL: req.AmountWL})
	if s.cfg.LargeWL > 0 && req.AmountWL > s.cfg.LargeWL {
		s.bus.PublishAsync(ctx, events.LargeTransaction{Growid: sender, Type: string(KindTransfer), TotalWL: req.AmountWL})
	}
	return &res, nil
}

// --- Пакет ---

// ProcessBatch выполняет операции по очереди. Ошибка одной не останавливает остальные,
// результаты идут в порядке входа.
func (s *Service) ProcessBatch(ctx context.Context, items []BatchItem) []common.Result {
	out := make([]common.Result, 0, len(items))
	for i, it := range items {
		var res common.Result
		switch {
		case it.Kind == KindPurchase && it.Purchase != nil:
			r, err := s.ProcessPurchase(ctx, *it.Purchase)
			res = common.From(r, err, "покупка выполнена")
		case it.Kind == KindDeposit && it.Deposit != nil:
			r, err := s.ProcessDeposit(ctx, *it.Deposit)
			res = common.From(r, err, "пополнение зачислено")
		default:
			res = common.Fail(common.ErrUnsupportedTransaction)
		}
		if !res.Success {
			log.WithFields(log.Fields{"index": i, "kind": string(it.Kind), "error": res.Error}).
				Warn("Операция пакета не выполнена")
		}
		out = append(out, res)
	}
	return out
}

// --- Восстановление ---

// RecoverTransaction доводит незавершённую попытку до конечного шага.
// Покупка с записью в журнале баланса считается завершённой, без записи —
// её сток возвращается в продажу. Пополнение без записи считается неудачным.
func (s *Service) RecoverTransaction(ctx context.Context, id string) (*Attempt, error) {
	key := locks.Recovery(id)
	if !s.locks.Acquire(ctx, key, s.cfg.LockTimeout) {
		return nil, common.ErrLockAcquisitionFailed
	}
	defer s.locks.Release(key)

	a, err := s.journal.Get(ctx, id)
	if err != nil {
		return nil, s.passOrWrap("get_attempt", err, log.Fields{"attempt_id": id})
	}
	if a.State.Terminal() {
		return a, nil
	}

	// тот же ключ, что у живой операции: восстановление ждёт её завершения
	var opKey locks.Key
	switch a.Kind {
	case KindPurchase:
		opKey = locks.Purchase(a.ExternalID, a.ProductCode)
	case KindDeposit:
		opKey = locks.Deposit(a.ExternalID)
	default:
		return nil, common.ErrUnsupportedTransaction
	}
	if !s.locks.Acquire(ctx, opKey, s.cfg.LockTimeout) {
		return nil, common.ErrLockAcquisitionFailed
	}
	defer s.locks.Release(opKey)

	// пока ждали, операция могла завершиться сама
	if a, err = s.journal.Get(ctx, id); err != nil {
		return nil, s.passOrWrap("get_attempt", err, log.Fields{"attempt_id": id})
	}
	if a.State.Terminal() {
		return a, nil
	}
	fields := log.Fields{"attempt_id": a.ID, "kind": string(a.Kind), "state": string(a.State)}

	refs, err := s.balances.FindByReference(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	paid := len(refs) > 0

	switch a.Kind {
	case KindPurchase:
		if paid {
			s.complete(ctx, a)
			break
		}
		if len(a.StockIDs) > 0 {
			if _, err := s.inventory.ReleaseStock(ctx, a.ProductCode, a.StockIDs, a.ExternalID); err != nil {
				log.WithFields(fields).WithError(err).Error("Не удалось вернуть сток при восстановлении")
				return nil, err
			}
		}
		_ = s.fail(ctx, a, StateRolledBack, errors.New("оплата не найдена, сток возвращён"))
	case KindDeposit:
		if paid {
			s.complete(ctx, a)
			break
		}
		_ = s.fail(ctx, a, StateFailed, errors.New("зачисление не найдено"))
	}

	log.WithFields(fields).WithField("result", string(a.State)).Info("Транзакция восстановлена")
	return a, nil
}

// MonitorPendingTransactions разбирает попытки, зависшие дольше PendingMaxAge.
// Неудачные восстановления остаются в журнале до следующего прохода.
func (s *Service) MonitorPendingTransactions(ctx context.Context) (recovered, failed int, err error) {
	cutoff := s.now().Add(-s.cfg.PendingMaxAge)
	pending, err := s.journal.ListPending(ctx, cutoff, s.cfg.SweepLimit)
	if err != nil {
		return 0, 0, s.passOrWrap("list_pending", err, nil)
	}

	for _, a := range pending {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.RecoverTransaction(ctx, a.ID); err != nil {
			failed++
			log.WithFields(log.Fields{
				"attempt_id": a.ID,
				"kind":       string(a.Kind),
				"state":      string(a.State),
			}).WithError(err).Error("Не удалось восстановить транзакцию")
			continue
		}
		recovered++
	}
	return recovered, failed, nil
}

// GetAttempt возвращает запись журнала.
func (s *Service) GetAttempt(ctx context.Context, id string) (*Attempt, error) {
	a, err := s.journal.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, s.passOrWrap("get_attempt", err, log.Fields{"attempt_id": id})
	}
	return a, nil
}

// GetAnalytics — сводка по журналу за период.
func (s *Service) GetAnalytics(ctx context.Context, period Period) (Analytics, error) {
	switch period {
	case PeriodDay, PeriodWeek, PeriodMonth:
	default:
		return Analytics{}, common.Validationf("период: daily, weekly или monthly")
	}
	res, err := s.journal.Analytics(ctx, period.Since(s.now()), 5)
	if err != nil {
		return Analytics{}, s.passOrWrap("analytics", err, nil)
	}
	res.Period = period
	return res, nil
}

// --- Журнал ---

func (s *Service) start(ctx context.Context, a *Attempt) error {
	if err := s.journal.Create(ctx, a); err != nil {
		return s.passOrWrap("journal_create", err, log.Fields{"attempt_id": a.ID})
	}
	s.bus.Publish(ctx, events.TransactionStarted{AttemptID: a.ID, Type: string(a.Kind), ExternalID: a.ExternalID})
	return nil
}

func (s *Service) save(ctx context.Context, a *Attempt, state State, errMsg string) error {
	a.State, a.Error = state, errMsg
	if err := s.journal.Update(ctx, a); err != nil {
		return s.passOrWrap("journal_update", err, log.Fields{"attempt_id": a.ID, "state": string(state)})
	}
	return nil
}

// fail переводит попытку в конечный state и возвращает cause.
func (s *Service) fail(ctx context.Context, a *Attempt, state State, cause error) error {
	_ = s.save(ctx, a, state, cause.Error())
	s.publishFailed(ctx, a, cause)
	return cause
}

func (s *Service) publishFailed(ctx context.Context, a *Attempt, cause error) {
	s.bus.Publish(ctx, events.TransactionFailed{
		AttemptID: a.ID, Type: string(a.Kind), ExternalID: a.ExternalID,
		Error: common.UserMessage(cause), ErrorKind: string(common.KindOf(cause)),
	})
}

func (s *Service) complete(ctx context.Context, a *Attempt) {
	_ = s.save(ctx, a, StateCompleted, "")
	s.bus.Publish(ctx, events.TransactionCompleted{AttemptID: a.ID, Type: string(a.Kind), Growid: a.Growid, AmountWL: a.AmountWL})
	if s.cfg.LargeWL > 0 && a.AmountWL > s.cfg.LargeWL {
		log.WithFields(log.Fields{"attempt_id": a.ID, "growid": a.Growid, "amount_wl": a.AmountWL}).Warn("Крупная транзакция")
		s.bus.PublishAsync(ctx, events.LargeTransaction{AttemptID: a.ID, Growid: a.Growid, Type: string(a.Kind), TotalWL: a.AmountWL})
	}
}

func (s *Service) passOrWrap(op string, err error, fields log.Fields) error {
	if common.KindOf(err) != common.KindUnknown {
		return err
	}
	log.WithFields(fields).WithFields(log.Fields{
		"component": "transaction",
		"operation": op,
	}).WithError(err).Error("Ошибка журнала транзакций")
	return fmt.Errorf("%w: %v", common.ErrTransactionFailed, err)
}
