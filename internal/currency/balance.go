// Package currency описывает трёхуровневую валюту Growtopia: WL, DL и BGL.
// 1 DL = 100 WL, 1 BGL = 10 000 WL. Все суммы — целые числа, без float.
package currency

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"serotonyl.ru/growstore-bot/internal/common"
)

// Курсы в World Lock.
const (
	RateWL  int64 = 1
	RateDL  int64 = 100
	RateBGL int64 = 10000
)

// Code — код валюты.
type Code string

const (
	WL  Code = "WL"
	DL  Code = "DL"
	BGL Code = "BGL"
)

// Supported — поддерживаемые валюты в порядке убывания курса.
var Supported = []Code{BGL, DL, WL}

// Пределы одной админской операции в единицах своей валюты.
var (
	MinAmounts = map[Code]int64{WL: 1, DL: 1, BGL: 1}
	MaxAmounts = map[Code]int64{WL: 10000, DL: 100, BGL: 10}
)

// CheckAdminAmount проверяет сумму одной админской операции в валюте c.
func CheckAdminAmount(amount int64, c Code) error {
	lo, hi := MinAmounts[c], MaxAmounts[c]
	if amount < lo || amount > hi {
		return common.Validationf("сумма в %s должна быть от %d до %d", c, lo, hi)
	}
	return nil
}

// ParseCode разбирает код валюты без учёта регистра.
func ParseCode(s string) (Code, error) {
	c := Code(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case WL, DL, BGL:
		return c, nil
	}
	return "", common.Validationf("неизвестная валюта %q, используйте WL, DL или BGL", s)
}

// Rate возвращает курс валюты в WL.
func (c Code) Rate() int64 {
	switch c {
	case DL:
		return RateDL
	case BGL:
		return RateBGL
	default:
		return RateWL
	}
}

// ToWL переводит сумму в валюте c в WL.
func ToWL(amount int64, c Code) int64 {
	return amount * c.Rate()
}

// Balance — баланс по трём номиналам. Для дельт поля могут быть отрицательными.
type Balance struct {
	WL  int64 `json:"wl"`
	DL  int64 `json:"dl"`
	BGL int64 `json:"bgl"`
}

// Of собирает баланс из суммы в одной валюте.
func Of(amount int64, c Code) Balance {
	switch c {
	case DL:
		return Balance{DL: amount}
	case BGL:
		return Balance{BGL: amount}
	default:
		return Balance{WL: amount}
	}
}

// FromWL раскладывает сумму в WL по номиналам (максимум крупных).
func FromWL(total int64) Balance {
	if total < 0 {
		total = 0
	}
	return Balance{
		BGL: total / RateBGL,
		DL:  (total % RateBGL) / RateDL,
		WL:  total % RateDL,
	}
}

// TotalWL — эквивалент баланса в WL.
func (b Balance) TotalWL() int64 {
	return b.WL + b.DL*RateDL + b.BGL*RateBGL
}

// IsZero — все номиналы нулевые.
func (b Balance) IsZero() bool {
	return b.WL == 0 && b.DL == 0 && b.BGL == 0
}

// Equal сравнивает балансы по эквиваленту в WL.
func (b Balance) Equal(o Balance) bool {
	return b.TotalWL() == o.TotalWL()
}

// Add складывает номиналы покомпонентно.
func (b Balance) Add(o Balance) Balance {
	return Balance{WL: b.WL + o.WL, DL: b.DL + o.DL, BGL: b.BGL + o.BGL}
}

// Negate меняет знак всех номиналов.
func (b Balance) Negate() Balance {
	return Balance{WL: -b.WL, DL: -b.DL, BGL: -b.BGL}
}

// Validate проверяет, что номиналы неотрицательны и эквивалент не больше maxWL.
// maxWL <= 0 — без верхней границы.
func (b Balance) Validate(maxWL int64) error {
	if b.WL < 0 || b.DL < 0 || b.BGL < 0 {
		return common.ErrInvalidAmount
	}
	if maxWL > 0 && b.TotalWL() > maxWL {
		return common.Validationf("баланс не может превышать %s WL", common.FormatNumber(maxWL))
	}
	return nil
}

// Format — строка для показа: "1,000 BGL, 5 DL, 3 WL". Пустой баланс — "0 WL".
func (b Balance) Format() string {
	var parts []string
	if b.BGL != 0 {
		parts = append(parts, common.FormatNumber(b.BGL)+" BGL")
	}
	if b.DL != 0 {
		parts = append(parts, common.FormatNumber(b.DL)+" DL")
	}
	if b.WL != 0 || len(parts) == 0 {
		parts = append(parts, common.FormatNumber(b.WL)+" WL")
	}
	return strings.Join(parts, ", ")
}

func (b Balance) String() string { return b.Format() }

var partRe = regexp.MustCompile(`(?i)(-?[\d,]+)\s*(BGL|DL|WL)\b`)

// Parse разбирает строку вида Format обратно в Balance.
// Разделители тысяч допускаются. Пустая строка — нулевой баланс.
func Parse(s string) (Balance, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Balance{}, nil
	}

	matches := partRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return Balance{}, common.Validationf("не удалось разобрать сумму %q", s)
	}

	var b Balance
	for _, m := range matches {
		n, err := strconv.ParseInt(strings.ReplaceAll(m[1], ",", ""), 10, 64)
		if err != nil {
			return Balance{}, fmt.Errorf("разбор суммы %q: %w", m[0], common.ErrInvalidAmount)
		}
		switch Code(strings.ToUpper(m[2])) {
		case BGL:
			b.BGL += n
		case DL:
			b.DL += n
		case WL:
			b.WL += n
		}
	}
	return b, nil
}

// FormatWL показывает сумму в WL крупными номиналами: 12 345 → "1 BGL, 23 DL, 45 WL".
// Знак сохраняется.
func FormatWL(amount int64) string {
	if amount < 0 {
		return "-" + FromWL(-amount).Format()
	}
	return FromWL(amount).Format()
}

// DebitDelta подбирает дельту для списания amount WL с баланса cur.
// Сначала тратятся WL, затем разменивается минимум DL и BGL. Ни один номинал
// в результате не уходит в минус, поэтому дельта проходит пономинальную проверку.
func DebitDelta(cur Balance, amount int64) (Balance, error) {
	if amount <= 0 {
		return Balance{}, common.ErrInvalidAmount
	}
	left := cur.TotalWL() - amount
	if left < 0 {
		return Balance{}, common.ErrInsufficientBalance
	}

	bgl := min(cur.BGL, left/RateBGL)
	rest := left - bgl*RateBGL
	dl := min(rest/RateDL, cur.DL+(cur.BGL-bgl)*(RateBGL/RateDL))
	wl := rest - dl*RateDL

	next := Balance{WL: wl, DL: dl, BGL: bgl}
	return next.Add(cur.Negate()), nil
}
