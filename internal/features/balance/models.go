// Package balance — models.go описывает пользователей, транзакции и параметры сервиса баланса.
package balance

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"serotonyl.ru/growstore-bot/internal/cache"
	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/currency"
)

// Границы длины GrowID.
const (
	MinGrowidLen = 3
	MaxGrowidLen = 30
)

// ValidGrowid проверяет формат GrowID: только латинские буквы и цифры, как в игре.
func ValidGrowid(growid string) bool {
	n := len(growid)
	if n < MinGrowidLen || n > MaxGrowidLen {
		return false
	}
	return common.Validator().Var(growid, "alphanum") == nil
}

// TxType — тип записи в журнале транзакций.
type TxType string

const (
	TxPurchase         TxType = "purchase"
	TxDeposit          TxType = "deposit"
	TxWithdrawal       TxType = "withdrawal"
	TxDonation         TxType = "donation"
	TxAdminAdd         TxType = "admin_add"
	TxAdminRemove      TxType = "admin_remove"
	TxAdminReset       TxType = "admin_reset"
	TxRefund           TxType = "refund"
	TxTransfer         TxType = "transfer"
	TxTransferIn       TxType = "transfer_in"
	TxTransferOut      TxType = "transfer_out"
	TxTransferRollback TxType = "transfer_rollback"
)

var txTypes = map[TxType]string{
	TxPurchase:         "Покупка",
	TxDeposit:          "Пополнение",
	TxWithdrawal:       "Вывод",
	TxDonation:         "Донат",
	TxAdminAdd:         "Начисление админом",
	TxAdminRemove:      "Списание админом",
	TxAdminReset:       "Сброс админом",
	TxRefund:           "Возврат",
	TxTransfer:         "Перевод",
	TxTransferIn:       "Входящий перевод",
	TxTransferOut:      "Исходящий перевод",
	TxTransferRollback: "Отмена перевода",
}

// ParseTxType проверяет, что тип известен.
func ParseTxType(s string) (TxType, error) {
	t := TxType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := txTypes[t]; !ok {
		return "", common.ErrInvalidTransactionType
	}
	return t, nil
}

// Valid — тип известен.
func (t TxType) Valid() bool {
	_, ok := txTypes[t]
	return ok
}

// Title — название типа для истории.
func (t TxType) Title() string {
	if title, ok := txTypes[t]; ok {
		return title
	}
	return string(t)
}

// IsAdmin — операция выполнена администратором.
func (t TxType) IsAdmin() bool {
	return t == TxAdminAdd || t == TxAdminRemove || t == TxAdminReset
}

// CountsTowardsDailyLimit — списание этого типа учитывается в дневном лимите.
// Админские операции и возврат неудавшегося перевода не считаются.
func (t TxType) CountsTowardsDailyLimit() bool {
	return !t.IsAdmin() && t != TxTransferRollback
}

// User — игрок магазина.
type User struct {
	Growid     string           `json:"growid"`
	Balance    currency.Balance `json:"balance"`
	DailyLimit int64            `json:"daily_limit"`
	IsLocked   bool             `json:"is_locked"`
	LockReason string           `json:"lock_reason,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Transaction — неизменяемая запись об изменении баланса.
type Transaction struct {
	ID         int64     `json:"id"`
	Growid     string    `json:"growid"`
	Type       TxType    `json:"type"`
	Details    string    `json:"details"`
	OldBalance string    `json:"old_balance"`
	NewBalance string    `json:"new_balance"`
	AmountWL   int64     `json:"amount_wl"`
	Reference  string    `json:"reference,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Change — запрошенное изменение баланса.
type Change struct {
	Growid    string
	Delta     currency.Balance
	Details   string
	Type      TxType
	Reference string
}

// Snapshot — состояние пользователя под блокировкой строки в транзакции БД.
type Snapshot struct {
	User      User
	UsedToday int64
	RecentTx  int
}

// Mutation — что записать: новый баланс и прибавка к дневному расходу.
type Mutation struct {
	New     currency.Balance
	UsageWL int64
}

// Applied — результат применённого изменения.
type Applied struct {
	Growid        string           `json:"growid"`
	Old           currency.Balance `json:"old_balance"`
	New           currency.Balance `json:"new_balance"`
	AmountWL      int64            `json:"amount_wl"`
	TransactionID int64            `json:"transaction_id"`
	Suspicious    []string         `json:"suspicious,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// TransferResult — итог перевода.
type TransferResult struct {
	Sender   Applied `json:"sender"`
	Receiver Applied `json:"receiver"`
	AmountWL int64   `json:"amount_wl"`
}

// HistoryFilter — фильтр истории транзакций. Нулевые поля не фильтруют.
type HistoryFilter struct {
	Type  TxType
	Start time.Time
	End   time.Time
}

// hash — короткий отпечаток фильтра для ключа кэша.
func (f HistoryFilter) hash() string {
	if f.Type == "" && f.Start.IsZero() && f.End.IsZero() {
		return "all"
	}
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%s|%d|%d", f.Type, f.Start.Unix(), f.End.Unix())))
	return hex.EncodeToString(sum[:6])
}

// Settings — параметры сервиса баланса.
type Settings struct {
	DefaultDailyLimit int64
	// MaxBalanceWL — потолок баланса в WL, 0 — без потолка.
	MaxBalanceWL  int64
	MaxTransferWL int64
	LockTimeout   time.Duration
	TTL           cache.TTLs
	Policy        SuspiciousPolicy
	Location      *time.Location
}

// DefaultSettings — значения как у боевого бота.
func DefaultSettings() Settings {
	return Settings{
		DefaultDailyLimit: 1_000_000,
		MaxBalanceWL:      1_000_000,
		MaxTransferWL:     10_000_000,
		LockTimeout:       10 * time.Second,
		TTL:               cache.DefaultTTLs(),
		Policy:            DefaultSuspiciousPolicy(),
		Location:          common.LoadLocation("Europe/Moscow"),
	}
}

// FormatTransaction — строка истории: дата, тип, изменение и итоговый баланс.
func FormatTransaction(t Transaction, loc *time.Location) string {
	change := t.AmountWL
	if oldB, err := currency.Parse(t.OldBalance); err == nil {
		if newB, err := currency.Parse(t.NewBalance); err == nil {
			change = newB.TotalWL() - oldB.TotalWL()
		}
	}
	sign := "+"
	if change < 0 {
		sign = ""
	}
	line := fmt.Sprintf("%s | %s | %s%s WL | баланс: %s",
		common.FormatDateTime(t.CreatedAt, loc),
		t.Type.Title(),
		sign, common.FormatNumber(change),
		t.NewBalance,
	)
	if t.Details != "" {
		line += "\n   " + common.Truncate(t.Details, 80)
	}
	return line
}
