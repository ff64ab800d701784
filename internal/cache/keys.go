package cache

import (
	"fmt"
	"strings"
)

// Ключи кэша. Писать и сбрасывать их может только сервис-владелец данных.

func fold(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// literal экранирует символы glob, чтобы часть ключа в шаблоне совпадала только сама с собой.
// Экранирование через \ понимают и path.Match, и SCAN MATCH в Redis.
var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`)

func literal(s string) string { return globEscaper.Replace(s) }

// --- BalanceService ---

func GrowidKey(externalID string) string { return "growid_" + externalID }
func ExternalKey(growid string) string   { return "external_id_" + fold(growid) }
func BalanceKey(growid string) string    { return "balance_" + fold(growid) }
func LockStatusKey(growid string) string { return "lock_status_" + fold(growid) }
func DailyLimitKey(growid string) string { return "daily_limit_" + fold(growid) }
func DailyUsageKey(growid string) string { return "daily_usage_" + fold(growid) }
func UserKey(growid string) string       { return "user_" + fold(growid) }
func HistoryPattern(growid string) string {
	return "trx_history_" + literal(fold(growid)) + "_*"
}

// HistoryKey — страница истории с фильтром, filterHash описывает фильтр.
func HistoryKey(growid string, limit, offset int, filterHash string) string {
	return fmt.Sprintf("trx_history_%s_%d_%d_%s", fold(growid), limit, offset, filterHash)
}

// --- InventoryService ---

const AllProductsKey = "all_products"
const WorldInfoKey = "world_info"

func ProductKey(code string) string    { return "product_" + strings.ToUpper(code) }
func StockCountKey(code string) string { return "stock_count_" + strings.ToUpper(code) }

// StockPageKey — выборка доступного стока для количества qty.
func StockPageKey(code string, qty int) string {
	return fmt.Sprintf("stock_%s_q%d", strings.ToUpper(code), qty)
}

func StockPagePattern(code string) string {
	return "stock_" + literal(strings.ToUpper(code)) + "_q*"
}

// --- Admin ---

const MaintenanceKey = "maintenance_mode"

func BlacklistKey(externalID string) string { return "blacklist_" + externalID }
