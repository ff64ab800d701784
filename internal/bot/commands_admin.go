package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/currency"
	"serotonyl.ru/growstore-bot/internal/features/admin"
	"serotonyl.ru/growstore-bot/internal/features/balance"
	"serotonyl.ru/growstore-bot/internal/features/inventory"
	"serotonyl.ru/growstore-bot/internal/features/transaction"
)

func (d *Dispatcher) adminCommands() []*command {
	return []*command{
		{name: "login", usage: "login <пароль> — вход в админку", minArgs: 1, run: d.cmdLogin},
		{name: "logout", usage: "logout — выход из админки", run: d.cmdLogout},
		{name: "addproduct", usage: "addproduct <код> <цена> <название> [| описание]", minArgs: 3, run: d.cmdAddProduct},
		{name: "editproduct", usage: "editproduct <код> <name|price|description> <значение>", minArgs: 3, run: d.cmdEditProduct},
		{name: "deleteproduct", usage: "deleteproduct <код> [причина]", minArgs: 1, run: d.cmdDeleteProduct},
		{name: "addstock", usage: "addstock <код> [позиция] — или приложите .txt файл", minArgs: 1, run: d.cmdAddStock},
		{name: "reducestock", usage: "reducestock <код> <кол-во> [причина]", minArgs: 2, run: d.cmdReduceStock},
		{name: "stockhistory", usage: "stockhistory <код> [статус] [кол-во]", minArgs: 1, run: d.cmdStockHistory},
		{name: "setworld", usage: "setworld <мир> [владелец] [бот]", minArgs: 1, run: d.cmdSetWorld},
		{name: "addbal", usage: "addbal <growid> <сумма> <WL|DL|BGL>", minArgs: 3, run: d.cmdAddBalance},
		{name: "removebal", usage: "removebal <growid> <сумма> <WL|DL|BGL>", minArgs: 3, run: d.cmdRemoveBalance},
		{name: "credit", usage: "credit <external_id> <сумма> <WL|DL|BGL> — подтвердить пополнение", minArgs: 3, run: d.cmdCredit},
		{name: "checkbal", usage: "checkbal <growid>", minArgs: 1, run: d.cmdCheckBalance},
		{name: "resetuser", usage: "resetuser <growid> — обнулить баланс", minArgs: 1, run: d.cmdResetUser},
		{name: "lockbal", usage: "lockbal <growid> [причина]", minArgs: 1, run: d.cmdLockBalance},
		{name: "unlockbal", usage: "unlockbal <growid>", minArgs: 1, run: d.cmdUnlockBalance},
		{name: "setlimit", usage: "setlimit <growid> <лимит WL>", minArgs: 2, run: d.cmdSetLimit},
		{name: "trxhistory", usage: "trxhistory <growid> [кол-во] [тип]", minArgs: 1, run: d.cmdTrxHistory},
		{name: "analytics", usage: "analytics [daily|weekly|monthly]", run: d.cmdAnalytics},
		{name: "recover", usage: "recover <id операции>", minArgs: 1, run: d.cmdRecover},
		{name: "systeminfo", usage: "systeminfo — состояние системы", run: d.cmdSystemInfo},
		{name: "maintenance", usage: "maintenance [on|off] [причина]", run: d.cmdMaintenance},
		{name: "blacklist", usage: "blacklist <add|remove|list> [external_id] [причина]", minArgs: 1, run: d.cmdBlacklist},
	}
}

// --- Вход ---

func (d *Dispatcher) cmdLogin(ctx context.Context, c *Call) (string, error) {
	session, err := d.svc.Admin.Login(ctx, c.Invoker, c.Rest(0))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Аутентификация успешна\nСессия до %s",
		common.FormatDateTime(session.ExpiresAt, d.svc.Balances.Location())), nil
}

func (d *Dispatcher) cmdLogout(ctx context.Context, c *Call) (string, error) {
	if err := d.svc.Admin.Logout(ctx, c.Invoker); err != nil {
		return "", err
	}
	return "👋 Сессия закрыта", nil
}

// --- Товары и сток ---

func (d *Dispatcher) cmdAddProduct(ctx context.Context, c *Call) (string, error) {
	price, err := parseAmountWL(c.Args[1:2])
	if err != nil {
		return "", common.ErrInvalidPrice
	}
	name, description, _ := strings.Cut(c.Rest(2), "|")

	p, err := d.svc.Inventory.CreateProduct(ctx, inventory.ProductInput{
		Code:        c.Arg(0),
		Name:        strings.TrimSpace(name),
		Price:       price,
		Description: strings.TrimSpace(description),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Товар %s создан: %s, %s", p.Code, p.Name, currency.FormatWL(p.Price)), nil
}

func (d *Dispatcher) cmdEditProduct(ctx context.Context, c *Call) (string, error) {
	p, err := d.svc.Inventory.UpdateProduct(ctx, c.Arg(0), c.Arg(1), c.Rest(2))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Товар %s обновлён: %s, %s", p.Code, p.Name, currency.FormatWL(p.Price)), nil
}

func (d *Dispatcher) cmdDeleteProduct(ctx context.Context, c *Call) (string, error) {
	n, err := d.svc.Inventory.DeleteProduct(ctx, c.Arg(0), c.Rest(1))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("🗑 Товар %s удалён, списано %d %s",
		strings.ToUpper(c.Arg(0)), n, common.PluralizeItems(n)), nil
}

func (d *Dispatcher) cmdAddStock(ctx context.Context, c *Call) (string, error) {
	code := c.Arg(0)

	file, err := c.Req.Attachment(ctx)
	if err != nil {
		return "", err
	}
	if file == nil {
		if len(c.Args) < 2 {
			return "", common.Validationf("приложите файл со стоком или укажите позицию")
		}
		item, err := d.svc.Inventory.AddStockItem(ctx, code, c.Rest(1), c.Invoker)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("✅ Позиция #%d добавлена в %s", item.ID, item.ProductCode), nil
	}

	if file.Size > d.cfg.MaxFileBytes || int64(len(file.Data)) > d.cfg.MaxFileBytes {
		return "", common.Validationf("файл больше %d KB", d.cfg.MaxFileBytes/1024)
	}

	res, err := d.svc.Inventory.AddStockBulk(ctx, code, string(file.Data), c.Invoker)
	if err != nil {
		return "", err
	}
	return formatBulk(res), nil
}

func (d *Dispatcher) cmdReduceStock(ctx context.Context, c *Call) (string, error) {
	qty, err := strconv.Atoi(c.Arg(1))
	if err != nil {
		return "", common.Validationf("количество должно быть числом")
	}
	res, err := d.svc.Inventory.ReduceStock(ctx, c.Arg(0), qty, c.Rest(2))
	if err != nil {
		return "", err
	}

	text := fmt.Sprintf("📤 Списано %d %s %s для %s", res.Quantity, common.PluralizeItems(int64(res.Quantity)), res.Code, res.Owner)
	if res.Notified {
		return text + "\nФайл отправлен владельцу мира", nil
	}
	return text + "\n⚠️ Не удалось отправить файл владельцу, позиции:\n" + strings.Join(res.Contents, "\n"), nil
}

func (d *Dispatcher) cmdStockHistory(ctx context.Context, c *Call) (string, error) {
	var status inventory.StockStatus
	limit := 20
	for _, a := range c.Args[1:] {
		if n, err := strconv.Atoi(a); err == nil {
			limit = n
			continue
		}
		st, err := inventory.ParseStockStatus(a)
		if err != nil {
			return "", err
		}
		status = st
	}

	items, err := d.svc.Inventory.ListStock(ctx, c.Arg(0), status, limit)
	if err != nil {
		return "", err
	}
	return formatStockItems(strings.ToUpper(c.Arg(0)), items, d.svc.Balances.Location()), nil
}

func (d *Dispatcher) cmdSetWorld(ctx context.Context, c *Call) (string, error) {
	w, err := d.svc.Inventory.UpdateWorldInfo(ctx, inventory.WorldInfo{
		World: c.Arg(0),
		Owner: c.Arg(1),
		Bot:   c.Arg(2),
	})
	if err != nil {
		return "", err
	}
	return "✅ Мир обновлён\n\n" + formatWorld(w), nil
}

// --- Балансы ---

// adminAmount разбирает <сумма> <валюта> и проверяет пределы одной операции.
func adminAmount(rawAmount, rawCode string) (int64, currency.Code, error) {
	code, err := currency.ParseCode(rawCode)
	if err != nil {
		return 0, "", err
	}
	amount, err := strconv.ParseInt(strings.ReplaceAll(rawAmount, ",", ""), 10, 64)
	if err != nil {
		return 0, "", common.ErrInvalidAmount
	}
	if err := currency.CheckAdminAmount(amount, code); err != nil {
		return 0, "", err
	}
	return amount, code, nil
}

func (d *Dispatcher) cmdAddBalance(ctx context.Context, c *Call) (string, error) {
	amount, code, err := adminAmount(c.Arg(1), c.Arg(2))
	if err != nil {
		return "", err
	}
	res, err := d.svc.Balances.UpdateBalance(ctx, c.Arg(0), currency.Of(amount, code),
		fmt.Sprintf("Начислено администратором %s", c.Invoker), balance.TxAdminAdd)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ %s: +%d %s\nБаланс: %s", res.Growid, amount, code, res.New.Format()), nil
}

func (d *Dispatcher) cmdRemoveBalance(ctx context.Context, c *Call) (string, error) {
	amount, code, err := adminAmount(c.Arg(1), c.Arg(2))
	if err != nil {
		return "", err
	}
	res, err := d.svc.Balances.Debit(ctx, c.Arg(0), currency.ToWL(amount, code),
		fmt.Sprintf("Списано администратором %s", c.Invoker), balance.TxAdminRemove)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ %s: -%d %s\nБаланс: %s", res.Growid, amount, code, res.New.Format()), nil
}

func (d *Dispatcher) cmdCredit(ctx context.Context, c *Call) (string, error) {
	amount, code, err := adminAmount(c.Arg(1), c.Arg(2))
	if err != nil {
		return "", err
	}
	b := currency.Of(amount, code)
	res, err := d.svc.Orders.ProcessDeposit(ctx, transaction.DepositRequest{
		ExternalID: c.Arg(0),
		WL:         b.WL,
		DL:         b.DL,
		BGL:        b.BGL,
		Details:    fmt.Sprintf("Пополнение подтвердил %s", c.Invoker),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Пополнение %s зачислено %s\nБаланс: %s\nID операции: %s",
		res.Amount.Format(), res.Growid, res.NewBalance.Format(), res.AttemptID), nil
}

func (d *Dispatcher) cmdCheckBalance(ctx context.Context, c *Call) (string, error) {
	text, err := d.describeUser(ctx, c.Arg(0))
	if err != nil {
		return "", err
	}
	if ext, err := d.svc.Balances.GetExternalID(ctx, c.Arg(0)); err == nil {
		text += "\nАккаунт: " + ext
	}
	return text, nil
}

func (d *Dispatcher) cmdResetUser(ctx context.Context, c *Call) (string, error) {
	res, err := d.svc.Balances.ResetBalance(ctx, c.Arg(0), c.Invoker)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("♻️ Баланс %s обнулён (было %s)", res.Growid, res.Old.Format()), nil
}

func (d *Dispatcher) cmdLockBalance(ctx context.Context, c *Call) (string, error) {
	reason := c.Rest(1)
	if reason == "" {
		reason = "заблокирован администратором"
	}
	if err := d.svc.Balances.LockBalance(ctx, c.Arg(0), reason); err != nil {
		return "", err
	}
	return fmt.Sprintf("🔒 Счёт %s заблокирован: %s", c.Arg(0), reason), nil
}

func (d *Dispatcher) cmdUnlockBalance(ctx context.Context, c *Call) (string, error) {
	if err := d.svc.Balances.UnlockBalance(ctx, c.Arg(0)); err != nil {
		return "", err
	}
	return fmt.Sprintf("🔓 Счёт %s разблокирован", c.Arg(0)), nil
}

func (d *Dispatcher) cmdSetLimit(ctx context.Context, c *Call) (string, error) {
	limit, err := parseAmountWL(c.Args[1:])
	if err != nil {
		return "", err
	}
	if err := d.svc.Balances.SetDailyLimit(ctx, c.Arg(0), limit); err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Дневной лимит %s: %s WL", c.Arg(0), common.FormatNumber(limit)), nil
}

func (d *Dispatcher) cmdTrxHistory(ctx context.Context, c *Call) (string, error) {
	limit, filter, err := parseHistoryArgs(c.Args[1:])
	if err != nil {
		return "", err
	}
	return d.history(ctx, c.Arg(0), limit, filter)
}

// --- Транзакции ---

func (d *Dispatcher) cmdAnalytics(ctx context.Context, c *Call) (string, error) {
	period := transaction.PeriodDay
	switch strings.ToLower(c.Arg(0)) {
	case "", "daily", "day":
	case "weekly", "week":
		period = transaction.PeriodWeek
	case "monthly", "month":
		period = transaction.PeriodMonth
	default:
		return "", common.Validationf("период: daily, weekly или monthly")
	}

	a, err := d.svc.Orders.GetAnalytics(ctx, period)
	if err != nil {
		return "", err
	}
	return formatAnalytics(a), nil
}

func (d *Dispatcher) cmdRecover(ctx context.Context, c *Call) (string, error) {
	a, err := d.svc.Orders.RecoverTransaction(ctx, c.Arg(0))
	if err != nil {
		return "", err
	}
	text := fmt.Sprintf("🔁 Операция %s (%s): %s", a.ID, a.Kind, a.State)
	if a.Error != "" {
		text += "\nОшибка: " + a.Error
	}
	return text, nil
}

// --- Система ---

func (d *Dispatcher) cmdSystemInfo(ctx context.Context, _ *Call) (string, error) {
	st, err := d.svc.Admin.SystemStats(ctx)
	if err != nil {
		return "", err
	}
	return admin.FormatStats(st), nil
}

func (d *Dispatcher) cmdMaintenance(ctx context.Context, c *Call) (string, error) {
	var enabled bool
	switch strings.ToLower(c.Arg(0)) {
	case "":
		m := d.svc.Admin.Maintenance(ctx)
		if !m.Enabled {
			return "✅ Магазин работает в обычном режиме", nil
		}
		return fmt.Sprintf("🛠 Техобслуживание с %s (%s): %s",
			common.FormatDateTime(m.Timestamp, d.svc.Balances.Location()), m.Admin, m.Reason), nil
	case "on", "вкл":
		enabled = true
	case "off", "выкл":
	default:
		return "", common.Validationf("использование: maintenance [on|off] [причина]")
	}

	m, err := d.svc.Admin.SetMaintenance(ctx, enabled, c.Rest(1), c.Invoker)
	if err != nil {
		return "", err
	}
	if m.Enabled {
		return "🛠 Режим техобслуживания включён", nil
	}
	return "✅ Режим техобслуживания выключен", nil
}

func (d *Dispatcher) cmdBlacklist(ctx context.Context, c *Call) (string, error) {
	switch strings.ToLower(c.Arg(0)) {
	case "add":
		if err := d.svc.Admin.AddToBlacklist(ctx, c.Arg(1), c.Rest(2), c.Invoker); err != nil {
			return "", err
		}
		return fmt.Sprintf("⛔ %s добавлен в чёрный список", c.Arg(1)), nil
	case "remove", "del":
		if err := d.svc.Admin.RemoveFromBlacklist(ctx, c.Arg(1), c.Invoker); err != nil {
			return "", err
		}
		return fmt.Sprintf("✅ %s убран из чёрного списка", c.Arg(1)), nil
	case "list":
		list, err := d.svc.Admin.Blacklist(ctx)
		if err != nil {
			return "", err
		}
		return formatBlacklist(list, d.svc.Balances.Location()), nil
	}
	return "", common.Validationf("использование: blacklist <add|remove|list> [external_id] [причина]")
}
