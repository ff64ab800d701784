package common

import "time"

// Result — единый ответ команды: успех, данные, ошибка и текст для пользователя.
type Result struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Kind      Kind      `json:"kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OK собирает успешный ответ.
func OK(data any, message string) Result {
	return Result{Success: true, Data: data, Message: message, Timestamp: time.Now().UTC()}
}

// Fail собирает ответ об ошибке. Текст ошибки безопасен для показа пользователю.
func Fail(err error) Result {
	return Result{
		Success:   false,
		Error:     UserMessage(err),
		Kind:      KindOf(err),
		Timestamp: time.Now().UTC(),
	}
}

// From превращает пару (data, err) сервиса в Result.
func From(data any, err error, message string) Result {
	if err != nil {
		return Fail(err)
	}
	return OK(data, message)
}
