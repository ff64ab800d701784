// Package common содержит общие утилиты, используемые во всём проекте:
// ошибки с видами, единый Result, форматирование чисел и работу с временем.
package common

import (
	"strconv"
	"strings"
	"time"
)

// FormatNumber форматирует целое число с разделителем тысяч.
// Пример: FormatNumber(1234567) → "1,234,567"
func FormatNumber(n int64) string {
	s := strconv.FormatInt(n, 10)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	if len(s) <= 3 {
		return sign + s
	}

	var sb strings.Builder
	head := len(s) % 3
	if head > 0 {
		sb.WriteString(s[:head])
	}
	for i := head; i < len(s); i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(s[i : i+3])
	}
	return sign + sb.String()
}

// LoadLocation загружает часовой пояс. Если tzdata недоступна — UTC+3 для Москвы, иначе UTC.
func LoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc
	}
	if name == "Europe/Moscow" {
		return time.FixedZone("MSK", 3*60*60)
	}
	return time.UTC
}

// DayStart возвращает начало календарного дня t в поясе loc.
// Дневной лимит сбрасывается на этой границе.
func DayStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// FormatDateTime форматирует время в "02.01.2006 15:04" в поясе loc.
func FormatDateTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("02.01.2006 15:04")
}

// Truncate обрезает строку до n рун и добавляет "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
