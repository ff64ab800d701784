package locks

import "strings"

// Kind — пространство имён ключа. Ключи разных видов не пересекаются,
// даже если их строковое представление совпадает.
type Kind string

const (
	KindRegister      Kind = "register"
	KindBalanceUpdate Kind = "balance_update"
	KindTransfer      Kind = "transfer"
	KindAccountLock   Kind = "account_lock"
	KindDailyLimit    Kind = "daily_limit"
	KindPurchase      Kind = "purchase"
	KindDeposit       Kind = "deposit"
	KindProductCreate Kind = "product_create"
	KindProductUpdate Kind = "product_update"
	KindStockAdd      Kind = "stock_add"
	KindStockGet      Kind = "stock_get"
	KindStockUpdate   Kind = "stock_update"
	KindWorldUpdate   Kind = "world_update"
	KindRecovery      Kind = "recovery"

	// KindResponse — ключи уровня представления (один запрос пользователя за раз).
	KindResponse Kind = "response"
)

// Key — типизированный ключ блокировки. Создаётся только фабриками ниже.
type Key struct {
	kind Kind
	id   string
}

// Kind возвращает пространство имён ключа.
func (k Key) Kind() Kind { return k.kind }

func (k Key) String() string { return string(k.kind) + "_" + k.id }

func fold(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Register — регистрация внешнего аккаунта.
func Register(externalID string) Key { return Key{KindRegister, externalID} }

// BalanceUpdate — любые изменения баланса одного GrowID.
func BalanceUpdate(growid string) Key { return Key{KindBalanceUpdate, fold(growid)} }

// Transfer — сторона перевода.
func Transfer(growid string) Key { return Key{KindTransfer, fold(growid)} }

// AccountLock — блокировка/разблокировка счёта.
func AccountLock(growid string) Key { return Key{KindAccountLock, fold(growid)} }

// DailyLimit — изменение дневного лимита.
func DailyLimit(growid string) Key { return Key{KindDailyLimit, fold(growid)} }

// Purchase — покупка товара code покупателем buyerID.
func Purchase(buyerID, code string) Key {
	return Key{KindPurchase, buyerID + "_" + strings.ToUpper(code)}
}

// Deposit — пополнение от внешнего аккаунта.
func Deposit(externalID string) Key { return Key{KindDeposit, externalID} }

// ProductCreate — создание товара с кодом code.
func ProductCreate(code string) Key { return Key{KindProductCreate, strings.ToUpper(code)} }

// ProductUpdate — правка товара.
func ProductUpdate(code string) Key { return Key{KindProductUpdate, strings.ToUpper(code)} }

// StockAdd — добавление конкретной строки стока, contentHash — хеш содержимого.
func StockAdd(code, contentHash string) Key {
	return Key{KindStockAdd, strings.ToUpper(code) + "_" + contentHash}
}

// StockGet — выборка доступного стока.
func StockGet(code string) Key { return Key{KindStockGet, strings.ToUpper(code)} }

// StockUpdate — смена статусов стока товара (резерв, удаление, списание).
func StockUpdate(code string) Key { return Key{KindStockUpdate, strings.ToUpper(code)} }

// WorldUpdate — единственная запись о мире.
func WorldUpdate() Key { return Key{KindWorldUpdate, "singleton"} }

// Recovery — восстановление записи журнала.
func Recovery(attemptID string) Key { return Key{KindRecovery, attemptID} }

// Response — ключ уровня представления, id — идентификатор запроса или пользователя.
func Response(id string) Key { return Key{KindResponse, id} }
