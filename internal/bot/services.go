package bot

import (
	"context"
	"time"

	"serotonyl.ru/growstore-bot/internal/currency"
	"serotonyl.ru/growstore-bot/internal/features/admin"
	"serotonyl.ru/growstore-bot/internal/features/balance"
	"serotonyl.ru/growstore-bot/internal/features/inventory"
	"serotonyl.ru/growstore-bot/internal/features/transaction"
)

// Balances — операции сервиса баланса, доступные командам.
type Balances interface {
	RegisterUser(ctx context.Context, externalID, growid string) (*balance.User, error)
	GetGrowid(ctx context.Context, externalID string) (string, error)
	GetExternalID(ctx context.Context, growid string) (string, error)
	GetUser(ctx context.Context, growid string) (*balance.User, error)
	GetBalance(ctx context.Context, growid string) (currency.Balance, error)
	GetDailyUsage(ctx context.Context, growid string) (int64, error)
	GetTransactionHistory(ctx context.Context, growid string, limit, offset int, f balance.HistoryFilter) ([]balance.Transaction, error)
	UpdateBalance(ctx context.Context, growid string, delta currency.Balance, details string, txType balance.TxType, opts ...balance.UpdateOption) (balance.Applied, error)
	Debit(ctx context.Context, growid string, amountWL int64, details string, txType balance.TxType, opts ...balance.UpdateOption) (balance.Applied, error)
	ResetBalance(ctx context.Context, growid, admin string) (balance.Applied, error)
	LockBalance(ctx context.Context, growid, reason string) error
	UnlockBalance(ctx context.Context, growid string) error
	SetDailyLimit(ctx context.Context, growid string, limit int64) error
	Location() *time.Location
}

// Inventory — операции сервиса стока.
type Inventory interface {
	CreateProduct(ctx context.Context, in inventory.ProductInput) (*inventory.Product, error)
	UpdateProduct(ctx context.Context, code, field, value string) (*inventory.Product, error)
	DeleteProduct(ctx context.Context, code, reason string) (int64, error)
	GetProduct(ctx context.Context, code string) (*inventory.Product, error)
	GetAllProducts(ctx context.Context) ([]inventory.Product, error)
	GetStockCount(ctx context.Context, code string) (int64, error)
	AddStockItem(ctx context.Context, code, content, addedBy string) (*inventory.StockItem, error)
	AddStockBulk(ctx context.Context, code, blob, addedBy string) (inventory.BulkResult, error)
	ReduceStock(ctx context.Context, code string, quantity int, reason string) (inventory.ReduceResult, error)
	ListStock(ctx context.Context, code string, status inventory.StockStatus, limit int) ([]inventory.StockItem, error)
	GetWorldInfo(ctx context.Context) (*inventory.WorldInfo, error)
	UpdateWorldInfo(ctx context.Context, w inventory.WorldInfo) (*inventory.WorldInfo, error)
}

// Orders — операции оркестратора транзакций.
type Orders interface {
	ProcessPurchase(ctx context.Context, req transaction.PurchaseRequest) (*transaction.PurchaseResult, error)
	ProcessDeposit(ctx context.Context, req transaction.DepositRequest) (*transaction.DepositResult, error)
	ProcessTransfer(ctx context.Context, req transaction.TransferRequest) (*balance.TransferResult, error)
	RecoverTransaction(ctx context.Context, id string) (*transaction.Attempt, error)
	GetAnalytics(ctx context.Context, period transaction.Period) (transaction.Analytics, error)
}

// Admin — админка: права, сессии, техобслуживание, чёрный список.
type Admin interface {
	IsAdmin(externalID string) bool
	Login(ctx context.Context, externalID, password string) (*admin.Session, error)
	Authorize(ctx context.Context, externalID string) error
	Logout(ctx context.Context, externalID string) error
	SetMaintenance(ctx context.Context, enabled bool, reason, admin string) (admin.Maintenance, error)
	Maintenance(ctx context.Context) admin.Maintenance
	IsMaintenance(ctx context.Context) bool
	IsBlacklisted(ctx context.Context, externalID string) (bool, error)
	AddToBlacklist(ctx context.Context, externalID, reason, admin string) error
	RemoveFromBlacklist(ctx context.Context, externalID, admin string) error
	Blacklist(ctx context.Context) ([]admin.BlacklistEntry, error)
	SystemStats(ctx context.Context) (admin.SystemStats, error)
}

// Services — всё, чем пользуются команды.
type Services struct {
	Balances  Balances
	Inventory Inventory
	Orders    Orders
	Admin     Admin
}

var (
	_ Balances  = (*balance.Service)(nil)
	_ Inventory = (*inventory.Service)(nil)
	_ Orders    = (*transaction.Service)(nil)
	_ Admin     = (*admin.Service)(nil)
)
