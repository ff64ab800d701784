package balance

import (
	"fmt"
	"time"

	"serotonyl.ru/growstore-bot/internal/common"
)

// SuspiciousPolicy — пороги эвристики подозрительной активности.
// Срабатывание только сообщается, операцию оно не останавливает.
type SuspiciousPolicy struct {
	// ShareOfBalance — доля от баланса до операции (0.5 = 50%).
	ShareOfBalance float64
	// LargeWL — крупная операция в WL-эквиваленте.
	LargeWL int64
	// BurstCount — сколько транзакций за BurstWindow ещё нормально.
	BurstCount  int
	BurstWindow time.Duration
}

// DefaultSuspiciousPolicy — 50% баланса, 100 000 WL, больше 5 транзакций за 5 минут.
func DefaultSuspiciousPolicy() SuspiciousPolicy {
	return SuspiciousPolicy{
		ShareOfBalance: 0.5,
		LargeWL:        100_000,
		BurstCount:     5,
		BurstWindow:    5 * time.Minute,
	}
}

// Check возвращает причины срабатывания. Пустой срез — всё спокойно.
//   - oldTotal: баланс до операции в WL
//   - changeWL: изменение в WL со знаком
//   - recent: число транзакций пользователя за BurstWindow до этой
func (p SuspiciousPolicy) Check(oldTotal, changeWL int64, recent int) []string {
	abs := changeWL
	if abs < 0 {
		abs = -abs
	}

	var reasons []string
	if oldTotal > 0 && p.ShareOfBalance > 0 && float64(abs) > float64(oldTotal)*p.ShareOfBalance {
		reasons = append(reasons, fmt.Sprintf("изменение больше %.0f%% баланса", p.ShareOfBalance*100))
	}
	if p.LargeWL > 0 && abs > p.LargeWL {
		reasons = append(reasons, fmt.Sprintf("крупная операция: %s WL", common.FormatNumber(abs)))
	}
	if p.BurstCount > 0 && recent > p.BurstCount {
		reasons = append(reasons, fmt.Sprintf("%d транзакций за %s", recent, p.BurstWindow))
	}
	return reasons
}
