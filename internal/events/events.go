package events

import "serotonyl.ru/growstore-bot/internal/currency"

// Kind — вид события.
type Kind string

const (
	KindUserRegistered       Kind = "user_registered"
	KindBalanceUpdated       Kind = "balance_updated"
	KindTransactionAdded     Kind = "transaction_added"
	KindSuspiciousActivity   Kind = "suspicious_activity"
	KindBalanceLocked        Kind = "balance_locked"
	KindBalanceUnlocked      Kind = "balance_unlocked"
	KindDailyLimitUpdated    Kind = "limit_updated"
	KindProductCreated       Kind = "product_created"
	KindProductUpdated       Kind = "product_updated"
	KindProductDeleted       Kind = "product_deleted"
	KindStockAdded           Kind = "stock_added"
	KindStockUpdated         Kind = "stock_updated"
	KindStockSold            Kind = "stock_sold"
	KindStockReduced         Kind = "stock_reduced"
	KindWorldUpdated         Kind = "world_updated"
	KindTransactionStarted   Kind = "transaction_started"
	KindTransactionCompleted Kind = "transaction_completed"
	KindTransactionFailed    Kind = "transaction_failed"
	KindPurchaseCompleted    Kind = "purchase_completed"
	KindDepositCompleted     Kind = "deposit_completed"
	KindLargeTransaction     Kind = "large_transaction"
	KindMaintenanceChanged   Kind = "maintenance_changed"
	KindError                Kind = "error"
)

// --- Баланс ---

type UserRegistered struct {
	ExternalID string
	Growid     string
}

type BalanceUpdated struct {
	Growid  string
	Old     currency.Balance
	New     currency.Balance
	Type    string
	Details string
}

type TransactionAdded struct {
	Growid        string
	TransactionID int64
	Type          string
	AmountWL      int64
}

type SuspiciousActivity struct {
	Growid   string
	Type     string
	Reasons  []string
	ChangeWL int64
	Old      currency.Balance
	New      currency.Balance
}

type BalanceLocked struct {
	Growid string
	Reason string
}

type BalanceUnlocked struct {
	Growid string
}

type DailyLimitUpdated struct {
	Growid string
	Limit  int64
}

// --- Товары и сток ---

type ProductCreated struct {
	Code  string
	Name  string
	Price int64
}

type ProductUpdated struct {
	Code  string
	Field string
	Value string
}

type ProductDeleted struct {
	Code             string
	Reason           string
	StockInvalidated int64
}

type StockAdded struct {
	Code     string
	Quantity int
	AddedBy  string
}

type StockUpdated struct {
	Code   string
	IDs    []int64
	Status string
}

type StockSold struct {
	Code    string
	IDs     []int64
	BuyerID string
}

type StockReduced struct {
	Code     string
	Quantity int
	Reason   string
	Contents []string
	Owner    string
	Notified bool
}

type WorldUpdated struct {
	World  string
	Owner  string
	Bot    string
	Status string
}

// --- Транзакции ---

type TransactionStarted struct {
	AttemptID  string
	Type       string
	ExternalID string
}

type TransactionCompleted struct {
	AttemptID string
	Type      string
	Growid    string
	AmountWL  int64
}

type TransactionFailed struct {
	AttemptID  string
	Type       string
	ExternalID string
	Error      string
	ErrorKind  string
}

type PurchaseCompleted struct {
	AttemptID   string
	ExternalID  string
	Growid      string
	ProductCode string
	ProductName string
	Quantity    int
	TotalWL     int64
	NewBalance  currency.Balance
}

type DepositCompleted struct {
	AttemptID  string
	ExternalID string
	Growid     string
	Amount     currency.Balance
	NewBalance currency.Balance
}

type LargeTransaction struct {
	AttemptID string
	Growid    string
	Type      string
	TotalWL   int64
}

// --- Админка ---

type MaintenanceChanged struct {
	Enabled bool
	Reason  string
	Admin   string
}

// ErrorOccurred — сбой операции, который стоит показать в канале логов.
type ErrorOccurred struct {
	Operation string
	Err       string
}

func (UserRegistered) Kind() Kind       { return KindUserRegistered }
func (BalanceUpdated) Kind() Kind       { return KindBalanceUpdated }
func (TransactionAdded) Kind() Kind     { return KindTransactionAdded }
func (SuspiciousActivity) Kind() Kind   { return KindSuspiciousActivity }
func (BalanceLocked) Kind() Kind        { return KindBalanceLocked }
func (BalanceUnlocked) Kind() Kind      { return KindBalanceUnlocked }
func (DailyLimitUpdated) Kind() Kind    { return KindDailyLimitUpdated }
func (ProductCreated) Kind() Kind       { return KindProductCreated }
func (ProductUpdated) Kind() Kind       { return KindProductUpdated }
func (ProductDeleted) Kind() Kind       { return KindProductDeleted }
func (StockAdded) Kind() Kind           { return KindStockAdded }
func (StockUpdated) Kind() Kind         { return KindStockUpdated }
func (StockSold) Kind() Kind            { return KindStockSold }
func (StockReduced) Kind() Kind         { return KindStockReduced }
func (WorldUpdated) Kind() Kind         { return KindWorldUpdated }
func (TransactionStarted) Kind() Kind   { return KindTransactionStarted }
func (TransactionCompleted) Kind() Kind { return KindTransactionCompleted }
func (TransactionFailed) Kind() Kind    { return KindTransactionFailed }
func (PurchaseCompleted) Kind() Kind    { return KindPurchaseCompleted }
func (DepositCompleted) Kind() Kind     { return KindDepositCompleted }
func (LargeTransaction) Kind() Kind     { return KindLargeTransaction }
func (MaintenanceChanged) Kind() Kind   { return KindMaintenanceChanged }
func (ErrorOccurred) Kind() Kind        { return KindError }
