package bot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/currency"
	"serotonyl.ru/growstore-bot/internal/features/admin"
	"serotonyl.ru/growstore-bot/internal/features/inventory"
	"serotonyl.ru/growstore-bot/internal/features/transaction"
)

func formatWorld(w *inventory.WorldInfo) string {
	var sb strings.Builder
	sb.WriteString("🌍 Мир: " + w.World)
	if w.Owner != "" {
		sb.WriteString("\nВладелец: " + w.Owner)
	}
	if w.Bot != "" {
		sb.WriteString("\nБот: " + w.Bot)
	}
	if w.Status != "" {
		sb.WriteString("\nСтатус: " + w.Status)
	}
	return sb.String()
}

func formatBulk(res inventory.BulkResult) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📦 %s: добавлено %d из %d", res.Code, res.Added, res.Total))
	if len(res.Failures) == 0 {
		return sb.String()
	}
	sb.WriteString(fmt.Sprintf("\n\nОшибки (%d):\n", len(res.Failures)))
	for _, f := range res.ShownFailures() {
		sb.WriteString(fmt.Sprintf("строка %d «%s»: %s\n", f.Line, f.Content, f.Error))
	}
	if hidden := len(res.Failures) - len(res.ShownFailures()); hidden > 0 {
		sb.WriteString(fmt.Sprintf("...и ещё %d", hidden))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatStockItems(code string, items []inventory.StockItem, loc *time.Location) string {
	if len(items) == 0 {
		return fmt.Sprintf("📦 %s: позиций не найдено", code)
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📦 История стока %s:\n\n", code))
	for _, it := range items {
		sb.WriteString(fmt.Sprintf("#%d [%s] %s %s", it.ID, it.Status, common.FormatDateTime(it.UpdatedAt, loc), common.Truncate(it.Content, 30)))
		if it.BuyerID != "" {
			sb.WriteString(" → " + it.BuyerID)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

var periodTitles = map[transaction.Period]string{
	transaction.PeriodDay:   "сутки",
	transaction.PeriodWeek:  "неделю",
	transaction.PeriodMonth: "месяц",
}

func formatAnalytics(a transaction.Analytics) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📊 Операции за %s\n\n", periodTitles[a.Period]))
	sb.WriteString(fmt.Sprintf("Всего: %d\n", a.Total))
	sb.WriteString(fmt.Sprintf("Успешно: %d | Ошибки: %d | Откаты: %d | В работе: %d\n",
		a.Completed, a.Failed, a.RolledBack, a.Pending))
	sb.WriteString(fmt.Sprintf("Успешность: %.1f%%\n", a.SuccessRate()))

	kinds := make([]string, 0, len(a.ByKind))
	for k := range a.ByKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		kind := transaction.Kind(k)
		sb.WriteString(fmt.Sprintf("%s: %d, оборот %s\n", k, a.ByKind[kind], currency.FormatWL(a.VolumeWL[kind])))
	}

	if len(a.TopProducts) > 0 {
		sb.WriteString("\n🏆 Топ товаров:\n")
		for i, p := range a.TopProducts {
			sb.WriteString(fmt.Sprintf("%d. %s — %d шт, %s\n", i+1, p.Code, p.Quantity, currency.FormatWL(p.TotalWL)))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatBlacklist(list []admin.BlacklistEntry, loc *time.Location) string {
	if len(list) == 0 {
		return "✅ Чёрный список пуст"
	}
	var sb strings.Builder
	sb.WriteString("⛔ Чёрный список:\n\n")
	for _, e := range list {
		sb.WriteString(fmt.Sprintf("%s — %s (добавил %s, %s)\n", e.ExternalID, e.Reason, e.AddedBy, common.FormatDateTime(e.CreatedAt, loc)))
	}
	return strings.TrimRight(sb.String(), "\n")
}
