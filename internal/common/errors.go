// Package common — errors.go определяет ошибки магазина и их виды (Kind).
// Каждая ошибка знает свой вид, поэтому слой команд может отличить
// отказ бизнес-правила от сбоя хранилища и показать пользователю понятный текст.
package common

import (
	"errors"
	"fmt"
)

// Kind — вид ошибки. По нему решается, что показать пользователю и можно ли повторить.
type Kind string

const (
	KindUnknown               Kind = "unknown"
	KindValidation            Kind = "validation"
	KindLockAcquisitionFailed Kind = "lock_acquisition_failed"
	KindInsufficientBalance   Kind = "insufficient_balance"
	KindInsufficientStock     Kind = "insufficient_stock"
	KindDailyLimitExceeded    Kind = "daily_limit_exceeded"
	KindBalanceLocked         Kind = "balance_locked"
	KindProcessing            Kind = "processing"
	KindNotFound              Kind = "not_found"
	KindConflict              Kind = "conflict"
	KindForbidden             Kind = "forbidden"
)

// Error — ошибка с видом. Сравнивается по указателю, поэтому errors.Is
// работает и после обёртки через fmt.Errorf("...: %w", err).
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// NewError создаёт ошибку заданного вида.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Validationf создаёт ошибку валидации с форматированным текстом.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// KindOf возвращает вид ошибки. Для ошибок без вида — KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// UserMessage возвращает текст, который можно показать пользователю.
// Внутренние детали хранилища наружу не отдаются.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindProcessing {
		return ErrTransactionFailed.Message
	}
	return e.Message
}

// Ошибки пользователей и регистрации
var (
	// ErrNotRegistered — у внешнего аккаунта нет привязанного GrowID
	ErrNotRegistered = NewError(KindNotFound, "вы не зарегистрированы, используйте !register <growid>")
	// ErrUserNotFound — GrowID не найден в базе
	ErrUserNotFound = NewError(KindNotFound, "пользователь не найден")
	// ErrGrowidExists — GrowID уже привязан к другому аккаунту
	ErrGrowidExists = NewError(KindConflict, "этот GrowID уже зарегистрирован другим пользователем")
	// ErrInvalidGrowid — неверный формат GrowID
	ErrInvalidGrowid = NewError(KindValidation, "GrowID: от 3 до 30 латинских букв и цифр")
)

// Ошибки баланса
var (
	// ErrInsufficientBalance — не хватает средств в конкретной валюте
	ErrInsufficientBalance = NewError(KindInsufficientBalance, "недостаточно средств на балансе")
	// ErrDailyLimitExceeded — превышен дневной лимит списаний
	ErrDailyLimitExceeded = NewError(KindDailyLimitExceeded, "превышен дневной лимит операций")
	// ErrBalanceLocked — счёт заблокирован администратором
	ErrBalanceLocked = NewError(KindBalanceLocked, "баланс заблокирован")
	// ErrInvalidAmount — некорректная сумма
	ErrInvalidAmount = NewError(KindValidation, "некорректная сумма")
	// ErrSelfTransfer — перевод самому себе
	ErrSelfTransfer = NewError(KindValidation, "нельзя переводить самому себе")
	// ErrNoHistory — история транзакций пуста
	ErrNoHistory = NewError(KindNotFound, "история транзакций пуста")
	// ErrInvalidTransactionType — неизвестный тип транзакции
	ErrInvalidTransactionType = NewError(KindValidation, "неизвестный тип транзакции")
)

// Ошибки товаров и стока
var (
	// ErrProductNotFound — товар не найден или удалён
	ErrProductNotFound = NewError(KindNotFound, "товар не найден")
	// ErrProductExists — товар с таким кодом уже есть
	ErrProductExists = NewError(KindConflict, "товар с таким кодом уже существует")
	// ErrInvalidPrice — цена вне допустимого диапазона
	ErrInvalidPrice = NewError(KindValidation, "некорректная цена")
	// ErrInsufficientStock — не хватает доступного стока
	ErrInsufficientStock = NewError(KindInsufficientStock, "недостаточно товара в наличии")
	// ErrStockConflict — часть выбранных позиций уже изменена другой операцией
	ErrStockConflict = NewError(KindInsufficientStock, "часть товара уже продана, попробуйте ещё раз")
	// ErrDuplicateStock — такая позиция уже есть у товара
	ErrDuplicateStock = NewError(KindConflict, "такая позиция уже добавлена")
	// ErrInvalidStockContent — пустая или многострочная позиция
	ErrInvalidStockContent = NewError(KindValidation, "позиция должна быть одной непустой строкой")
	// ErrFileTooLarge — файл стока больше допустимого
	ErrFileTooLarge = NewError(KindValidation, "файл слишком большой")
	// ErrStockLimit — достигнут потолок стока для товара
	ErrStockLimit = NewError(KindValidation, "достигнут максимальный объём стока")
	// ErrInvalidStatus — неизвестный статус позиции
	ErrInvalidStatus = NewError(KindValidation, "неизвестный статус позиции")
	// ErrWorldInfoNotFound — информация о мире не задана
	ErrWorldInfoNotFound = NewError(KindNotFound, "информация о мире не задана")
)

// Ошибки транзакций
var (
	// ErrLockAcquisitionFailed — не удалось взять блокировку за отведённое время
	ErrLockAcquisitionFailed = NewError(KindLockAcquisitionFailed, "система занята, попробуйте через пару секунд")
	// ErrTransactionFailed — сбой хранилища посреди операции
	ErrTransactionFailed = NewError(KindProcessing, "не удалось выполнить операцию, попробуйте позже")
	// ErrTransactionNotFound — запись журнала не найдена
	ErrTransactionNotFound = NewError(KindNotFound, "транзакция не найдена")
	// ErrUnsupportedTransaction — тип операции не поддерживается пакетной обработкой
	ErrUnsupportedTransaction = NewError(KindValidation, "тип операции не поддерживается")
)

// Ошибки командного слоя
var (
	// ErrRateLimited — пользователь превысил лимит запросов
	ErrRateLimited = NewError(KindForbidden, "слишком много запросов, подождите немного")
	// ErrRequestInProgress — предыдущая команда пользователя ещё выполняется
	ErrRequestInProgress = NewError(KindLockAcquisitionFailed, "предыдущая команда ещё выполняется")
	// ErrUnknownCommand — команда не найдена
	ErrUnknownCommand = NewError(KindNotFound, "неизвестная команда, список команд: !help")
)

// Ошибки админки
var (
	// ErrNotAdmin — пользователь не является администратором
	ErrNotAdmin = NewError(KindForbidden, "у вас нет прав администратора")
	// ErrWrongPassword — неверный пароль
	ErrWrongPassword = NewError(KindForbidden, "неверный пароль")
	// ErrTooManyAttempts — слишком много неудачных попыток входа
	ErrTooManyAttempts = NewError(KindForbidden, "слишком много попыток, подождите 1 час")
	// ErrSessionExpired — сессия истекла
	ErrSessionExpired = NewError(KindForbidden, "сессия истекла, авторизуйтесь заново: /login <пароль>")
	// ErrMaintenance — магазин на техобслуживании
	ErrMaintenance = NewError(KindForbidden, "магазин на техническом обслуживании")
	// ErrBlacklisted — пользователь в чёрном списке
	ErrBlacklisted = NewError(KindForbidden, "доступ к магазину ограничен")
	// ErrNotBlacklisted — пользователя нет в чёрном списке
	ErrNotBlacklisted = NewError(KindNotFound, "пользователь не в чёрном списке")
	// ErrBlacklistAdmin — администратора нельзя занести в чёрный список
	ErrBlacklistAdmin = NewError(KindValidation, "нельзя заблокировать администратора")
)
