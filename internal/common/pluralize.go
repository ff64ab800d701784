package common

// Pluralize выбирает форму слова для числа n по правилам русского языка.
//
//	Pluralize(1, "позиция", "позиции", "позиций")  → "позиция"
//	Pluralize(3, "позиция", "позиции", "позиций")  → "позиции"
//	Pluralize(11, "позиция", "позиции", "позиций") → "позиций"
func Pluralize(n int64, one, few, many string) string {
	if n < 0 {
		n = -n
	}
	lastDigit := n % 10
	lastTwoDigits := n % 100

	if lastDigit == 1 && lastTwoDigits != 11 {
		return one
	}
	if lastDigit >= 2 && lastDigit <= 4 && (lastTwoDigits < 12 || lastTwoDigits > 14) {
		return few
	}
	return many
}

// PluralizeItems — «позиция» для количества стока.
func PluralizeItems(n int64) string {
	return Pluralize(n, "позиция", "позиции", "позиций")
}

// PluralizeTransactions — «транзакция» для истории.
func PluralizeTransactions(n int64) string {
	return Pluralize(n, "транзакция", "транзакции", "транзакций")
}
