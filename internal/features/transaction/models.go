// Package transaction собирает покупки, пополнения и переводы из вызовов
// сервисов баланса и стока. Каждая попытка покупки или пополнения пишется
// в журнал, по которому фоновая проверка доводит зависшие попытки до конца.
package transaction

import (
	"time"

	"serotonyl.ru/growstore-bot/internal/currency"
)

// Kind — вид операции.
type Kind string

const (
	KindPurchase Kind = "purchase"
	KindDeposit  Kind = "deposit"
	KindTransfer Kind = "transfer"
)

// State — шаг попытки операции.
type State string

const (
	StateValidating      State = "validating"
	StateLocked          State = "locked"
	StateStockReserving  State = "stock_reserving"
	StateBalanceDebiting State = "balance_debiting"
	StateNotifying       State = "notifying"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
	StateRolledBack      State = "rolled_back"
)

// Terminal сообщает, что попытка завершена и восстановление ей не нужно.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateRolledBack:
		return true
	}
	return false
}

// PendingStates — незавершённые шаги, которые ищет фоновая проверка.
var PendingStates = []State{
	StateValidating, StateLocked, StateStockReserving, StateBalanceDebiting, StateNotifying,
}

// Attempt — запись журнала попыток.
type Attempt struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	ExternalID  string    `json:"external_id"`
	Growid      string    `json:"growid,omitempty"`
	ProductCode string    `json:"product_code,omitempty"`
	Quantity    int       `json:"quantity,omitempty"`
	AmountWL    int64     `json:"amount_wl"`
	StockIDs    []int64   `json:"stock_ids,omitempty"`
	State       State     `json:"state"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PurchaseRequest — запрос покупки.
type PurchaseRequest struct {
	ExternalID  string `json:"external_id" label:"покупатель" validate:"required"`
	ProductCode string `json:"product_code" label:"код товара" validate:"required,alphanum,max=20"`
	Quantity    int    `json:"quantity" label:"количество" validate:"min=1,max=999"`
}

// DepositRequest — запрос пополнения в трёх номиналах.
type DepositRequest struct {
	ExternalID string `json:"external_id" label:"пользователь" validate:"required"`
	WL         int64  `json:"wl" label:"WL" validate:"gte=0"`
	DL         int64  `json:"dl" label:"DL" validate:"gte=0"`
	BGL        int64  `json:"bgl" label:"BGL" validate:"gte=0"`
	Details    string `json:"details,omitempty" label:"описание" validate:"max=200"`
}

// Amount — сумма пополнения.
func (r DepositRequest) Amount() currency.Balance {
	return currency.Balance{WL: r.WL, DL: r.DL, BGL: r.BGL}
}

// TransferRequest — перевод другому игроку.
type TransferRequest struct {
	ExternalID string `json:"external_id" label:"отправитель" validate:"required"`
	Receiver   string `json:"receiver" label:"получатель" validate:"required,min=3,max=30"`
	AmountWL   int64  `json:"amount_wl" label:"сумма" validate:"min=1"`
}

// PurchaseResult — итог успешной покупки.
type PurchaseResult struct {
	AttemptID   string           `json:"attempt_id"`
	ProductCode string           `json:"product_code"`
	ProductName string           `json:"product_name"`
	Quantity    int              `json:"quantity"`
	TotalWL     int64            `json:"total_wl"`
	Items       []string         `json:"items"`
	NewBalance  currency.Balance `json:"new_balance"`
}

// DepositResult — итог пополнения.
type DepositResult struct {
	AttemptID  string           `json:"attempt_id"`
	Growid     string           `json:"growid"`
	Amount     currency.Balance `json:"amount"`
	NewBalance currency.Balance `json:"new_balance"`
}

// BatchItem — одна операция пакета. Заполняется ровно одно из полей.
type BatchItem struct {
	Kind     Kind             `json:"kind"`
	Purchase *PurchaseRequest `json:"purchase,omitempty"`
	Deposit  *DepositRequest  `json:"deposit,omitempty"`
}

// Period — окно аналитики.
type Period string

const (
	PeriodDay   Period = "daily"
	PeriodWeek  Period = "weekly"
	PeriodMonth Period = "monthly"
)

// Since возвращает начало окна относительно now.
func (p Period) Since(now time.Time) time.Time {
	switch p {
	case PeriodWeek:
		return now.AddDate(0, 0, -7)
	case PeriodMonth:
		return now.AddDate(0, -1, 0)
	default:
		return now.AddDate(0, 0, -1)
	}
}

// ProductStat — продажи одного товара.
type ProductStat struct {
	Code     string `json:"code"`
	Quantity int64  `json:"quantity"`
	TotalWL  int64  `json:"total_wl"`
}

// Analytics — сводка по журналу за период.
type Analytics struct {
	Period      Period         `json:"period"`
	Since       time.Time      `json:"since"`
	Total       int64          `json:"total"`
	Completed   int64          `json:"completed"`
	Failed      int64          `json:"failed"`
	RolledBack  int64          `json:"rolled_back"`
	Pending     int64          `json:"pending"`
	VolumeWL    map[Kind]int64 `json:"volume_wl"`
	ByKind      map[Kind]int64 `json:"by_kind"`
	TopProducts []ProductStat  `json:"top_products"`
}

// SuccessRate — доля завершённых среди закончившихся попыток, в процентах.
func (a Analytics) SuccessRate() float64 {
	done := a.Completed + a.Failed + a.RolledBack
	if done == 0 {
		return 0
	}
	return float64(a.Completed) * 100 / float64(done)
}

// Settings — параметры оркестратора.
type Settings struct {
	MaxQuantity   int
	MaxDepositWL  int64
	LargeWL       int64
	LockTimeout   time.Duration
	PendingMaxAge time.Duration
	// SweepLimit — сколько зависших попыток разбирать за один проход.
	SweepLimit int
}

// DefaultSettings — значения по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		MaxQuantity:   999,
		MaxDepositWL:  10_000_000,
		LargeWL:       100_000,
		LockTimeout:   10 * time.Second,
		PendingMaxAge: 5 * time.Minute,
		SweepLimit:    100,
	}
}
