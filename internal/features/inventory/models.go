// Package inventory — models.go содержит товары, позиции стока и информацию о мире.
package inventory

import (
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"serotonyl.ru/growstore-bot/internal/cache"
	"serotonyl.ru/growstore-bot/internal/common"
)

// Пределы товара и стока.
const (
	MaxCodeLen        = 20
	MaxNameLen        = 50
	MaxDescriptionLen = 200
	MinPrice          = 1
	MaxPrice          = 999_999_999
	DefaultMaxStock   = 999_999
	// BulkFailuresShown — сколько ошибок пакетной загрузки показывать пользователю.
	BulkFailuresShown = 5
)

// ProductStatus — статус товара.
type ProductStatus string

const (
	ProductAvailable ProductStatus = "available"
	ProductDeleted   ProductStatus = "deleted"
)

// StockStatus — статус позиции стока.
type StockStatus string

const (
	StockAvailable StockStatus = "available"
	StockSold      StockStatus = "sold"
	StockDeleted   StockStatus = "deleted"
	StockReduced   StockStatus = "reduced"
)

// ParseStockStatus проверяет статус позиции.
func ParseStockStatus(s string) (StockStatus, error) {
	st := StockStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StockAvailable, StockSold, StockDeleted, StockReduced:
		return st, nil
	}
	return "", common.ErrInvalidStatus
}

// Product — товар магазина.
type Product struct {
	Code         string        `json:"code"`
	Name         string        `json:"name"`
	Price        int64         `json:"price"`
	Description  string        `json:"description,omitempty"`
	Status       ProductStatus `json:"status"`
	Stock        int64         `json:"stock"`
	DeleteReason string        `json:"delete_reason,omitempty"`
	DeletedAt    *time.Time    `json:"deleted_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// ProductInput — данные нового товара от администратора.
type ProductInput struct {
	Code        string `label:"код" validate:"required,alphanum,max=20"`
	Name        string `label:"название" validate:"required,max=50"`
	Price       int64  `label:"цена" validate:"min=1,max=999999999"`
	Description string `label:"описание" validate:"max=200"`
}

// StockItem — одна позиция стока.
type StockItem struct {
	ID          int64       `json:"id"`
	ProductCode string      `json:"product_code"`
	Content     string      `json:"content"`
	ContentHash string      `json:"-"`
	Status      StockStatus `json:"status"`
	BuyerID     string      `json:"buyer_id,omitempty"`
	AddedBy     string      `json:"added_by,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// IDs возвращает идентификаторы позиций.
func IDs(items []StockItem) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

// Contents возвращает содержимое позиций.
func Contents(items []StockItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Content
	}
	return out
}

// WorldInfo — мир, в котором выдаётся товар. Только для отображения.
type WorldInfo struct {
	World     string    `json:"world" label:"мир" validate:"required,alphanum,max=24"`
	Owner     string    `json:"owner" label:"владелец" validate:"max=50"`
	Bot       string    `json:"bot" label:"бот" validate:"max=50"`
	Status    string    `json:"status" label:"статус" validate:"max=30"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BulkFailure — строка пакетной загрузки, которую не удалось добавить.
type BulkFailure struct {
	Line    int    `json:"line"`
	Content string `json:"content"`
	Error   string `json:"error"`
}

// BulkResult — итог пакетной загрузки стока.
type BulkResult struct {
	Code     string        `json:"code"`
	Added    int           `json:"added"`
	Total    int           `json:"total"`
	Failures []BulkFailure `json:"failures,omitempty"`
}

// ShownFailures — первые BulkFailuresShown ошибок для ответа пользователю.
func (r BulkResult) ShownFailures() []BulkFailure {
	if len(r.Failures) <= BulkFailuresShown {
		return r.Failures
	}
	return r.Failures[:BulkFailuresShown]
}

// ReduceResult — итог списания стока администратором.
type ReduceResult struct {
	Code     string   `json:"code"`
	Quantity int      `json:"quantity"`
	Contents []string `json:"contents"`
	Owner    string   `json:"owner"`
	Notified bool     `json:"notified"`
}

// Settings — параметры сервиса стока.
type Settings struct {
	MaxStock    int64
	LockTimeout time.Duration
	TTL         cache.TTLs
}

// DefaultSettings — значения по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		MaxStock:    DefaultMaxStock,
		LockTimeout: 10 * time.Second,
		TTL:         cache.DefaultTTLs(),
	}
}

// NormalizeCode приводит код товара к каноническому виду.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ContentHash — BLAKE2b-256 содержимого позиции в hex.
func ContentHash(content string) string {
	sum := blake2b.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
