package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/currency"
	"serotonyl.ru/growstore-bot/internal/features/balance"
	"serotonyl.ru/growstore-bot/internal/features/transaction"
)

func (d *Dispatcher) userCommands() []*command {
	return []*command{
		{name: "help", aliases: []string{"start", "помощь"}, usage: "help — список команд", run: d.cmdHelp},
		{name: "register", aliases: []string{"рег"}, usage: "register <growid> — привязать GrowID", minArgs: 1, run: d.cmdRegister},
		{name: "growid", usage: "growid — ваш GrowID", run: d.cmdGrowid},
		{name: "balance", aliases: []string{"bal", "баланс"}, usage: "balance — баланс и дневной лимит", run: d.cmdBalance},
		{name: "history", usage: "history [кол-во] [тип] — история операций", run: d.cmdHistory},
		{name: "products", aliases: []string{"shop"}, usage: "products — витрина", run: d.cmdProducts},
		{name: "stock", usage: "stock <код> — наличие товара", minArgs: 1, run: d.cmdStock},
		{name: "buy", aliases: []string{"купить"}, usage: "buy <код> [кол-во] — купить товар", minArgs: 1, run: d.cmdBuy},
		{name: "transfer", usage: "transfer <growid> <сумма> — перевод игроку", minArgs: 2, run: d.cmdTransfer},
		{name: "deposit", usage: "deposit — как пополнить баланс", run: d.cmdDeposit},
		{name: "world", usage: "world — мир для пополнения", run: d.cmdWorld},
	}
}

func (d *Dispatcher) cmdHelp(_ context.Context, c *Call) (string, error) {
	return d.help(c.Invoker), nil
}

func (d *Dispatcher) cmdRegister(ctx context.Context, c *Call) (string, error) {
	u, err := d.svc.Balances.RegisterUser(ctx, c.Invoker, c.Arg(0))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ GrowID %s привязан к вашему аккаунту", u.Growid), nil
}

func (d *Dispatcher) cmdGrowid(ctx context.Context, c *Call) (string, error) {
	growid, err := d.svc.Balances.GetGrowid(ctx, c.Invoker)
	if err != nil {
		return "", err
	}
	return "🆔 Ваш GrowID: " + growid, nil
}

func (d *Dispatcher) cmdBalance(ctx context.Context, c *Call) (string, error) {
	growid, err := d.svc.Balances.GetGrowid(ctx, c.Invoker)
	if err != nil {
		return "", err
	}
	return d.describeUser(ctx, growid)
}

// describeUser — баланс, лимит и статус счёта.
func (d *Dispatcher) describeUser(ctx context.Context, growid string) (string, error) {
	u, err := d.svc.Balances.GetUser(ctx, growid)
	if err != nil {
		return "", err
	}
	used, err := d.svc.Balances.GetDailyUsage(ctx, growid)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("💰 Баланс %s\n\n", u.Growid))
	sb.WriteString(fmt.Sprintf("%s\n", u.Balance.Format()))
	sb.WriteString(fmt.Sprintf("Всего: %s WL\n", common.FormatNumber(u.Balance.TotalWL())))
	sb.WriteString(fmt.Sprintf("Дневной лимит: %s / %s WL", common.FormatNumber(used), common.FormatNumber(u.DailyLimit)))
	if u.IsLocked {
		sb.WriteString("\n\n🔒 Счёт заблокирован")
		if u.LockReason != "" {
			sb.WriteString(": " + u.LockReason)
		}
	}
	return sb.String(), nil
}

func (d *Dispatcher) cmdHistory(ctx context.Context, c *Call) (string, error) {
	growid, err := d.svc.Balances.GetGrowid(ctx, c.Invoker)
	if err != nil {
		return "", err
	}
	limit, filter, err := parseHistoryArgs(c.Args)
	if err != nil {
		return "", err
	}
	return d.history(ctx, growid, limit, filter)
}

func (d *Dispatcher) history(ctx context.Context, growid string, limit int, f balance.HistoryFilter) (string, error) {
	txs, err := d.svc.Balances.GetTransactionHistory(ctx, growid, limit, 0, f)
	if err != nil {
		return "", err
	}
	if len(txs) == 0 {
		return "", common.ErrNoHistory
	}
	loc := d.svc.Balances.Location()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📜 Последние операции %s:\n\n", growid))
	for _, t := range txs {
		sb.WriteString(balance.FormatTransaction(t, loc))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// parseHistoryArgs разбирает [кол-во] [тип] в любом порядке.
func parseHistoryArgs(args []string) (int, balance.HistoryFilter, error) {
	limit := 10
	var f balance.HistoryFilter
	for _, a := range args {
		if n, err := strconv.Atoi(a); err == nil {
			if n < 1 || n > 50 {
				return 0, f, common.Validationf("количество записей от 1 до 50")
			}
			limit = n
			continue
		}
		t, err := balance.ParseTxType(a)
		if err != nil {
			return 0, f, err
		}
		f.Type = t
	}
	return limit, f, nil
}

func (d *Dispatcher) cmdProducts(ctx context.Context, _ *Call) (string, error) {
	products, err := d.svc.Inventory.GetAllProducts(ctx)
	if err != nil {
		return "", err
	}
	if len(products) == 0 {
		return "🛒 Витрина пока пуста", nil
	}

	var sb strings.Builder
	sb.WriteString("🛒 Товары:\n\n")
	for _, p := range products {
		sb.WriteString(fmt.Sprintf("%s — %s\n", p.Code, p.Name))
		sb.WriteString(fmt.Sprintf("   Цена: %s | В наличии: %s\n", currency.FormatWL(p.Price), common.FormatNumber(p.Stock)))
	}
	sb.WriteString("\nКупить: !buy <код> [кол-во]")
	return sb.String(), nil
}

func (d *Dispatcher) cmdStock(ctx context.Context, c *Call) (string, error) {
	p, err := d.svc.Inventory.GetProduct(ctx, c.Arg(0))
	if err != nil {
		return "", err
	}
	stock, err := d.svc.Inventory.GetStockCount(ctx, p.Code)
	if err != nil {
		return "", err
	}

	text := fmt.Sprintf("📦 %s (%s)\nЦена: %s\nВ наличии: %s %s",
		p.Name, p.Code, currency.FormatWL(p.Price), common.FormatNumber(stock), common.PluralizeItems(stock))
	if p.Description != "" {
		text += "\n\n" + p.Description
	}
	return text, nil
}

func (d *Dispatcher) cmdBuy(ctx context.Context, c *Call) (string, error) {
	qty := 1
	if raw := c.Arg(1); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return "", common.Validationf("количество должно быть числом")
		}
		qty = n
	}

	res, err := d.svc.Orders.ProcessPurchase(ctx, transaction.PurchaseRequest{
		ExternalID:  c.Invoker,
		ProductCode: c.Arg(0),
		Quantity:    qty,
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("✅ Покупка: %d × %s\n", res.Quantity, res.ProductName))
	sb.WriteString(fmt.Sprintf("Списано: %s\n", currency.FormatWL(res.TotalWL)))
	sb.WriteString(fmt.Sprintf("Баланс: %s\n\n", res.NewBalance.Format()))
	sb.WriteString("Ваши товары:\n")
	for i, item := range res.Items {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, item))
	}
	sb.WriteString(fmt.Sprintf("\nID операции: %s", res.AttemptID))
	return sb.String(), nil
}

func (d *Dispatcher) cmdTransfer(ctx context.Context, c *Call) (string, error) {
	amount, err := parseAmountWL(c.Args[1:])
	if err != nil {
		return "", err
	}
	res, err := d.svc.Orders.ProcessTransfer(ctx, transaction.TransferRequest{
		ExternalID: c.Invoker,
		Receiver:   c.Arg(0),
		AmountWL:   amount,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Переведено %s игроку %s\nВаш баланс: %s",
		currency.FormatWL(res.AmountWL), res.Receiver.Growid, res.Sender.New.Format()), nil
}

func (d *Dispatcher) cmdDeposit(ctx context.Context, c *Call) (string, error) {
	growid, err := d.svc.Balances.GetGrowid(ctx, c.Invoker)
	if err != nil {
		return "", err
	}
	w, err := d.svc.Inventory.GetWorldInfo(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("💎 Пополнение баланса\n\n"+
		"1. Зайдите в мир %s\n"+
		"2. Положите WL/DL/BGL в donation box бота %s\n"+
		"3. Пополнение придёт на GrowID %s после проверки администратором",
		w.World, w.Bot, growid), nil
}

func (d *Dispatcher) cmdWorld(ctx context.Context, _ *Call) (string, error) {
	w, err := d.svc.Inventory.GetWorldInfo(ctx)
	if err != nil {
		return "", err
	}
	return formatWorld(w), nil
}

// parseAmountWL разбирает сумму: "1500", "1,500", "15 DL", "1 BGL 5 DL".
func parseAmountWL(args []string) (int64, error) {
	raw := strings.TrimSpace(strings.Join(args, " "))
	if raw == "" {
		return 0, common.ErrInvalidAmount
	}
	if n, err := strconv.ParseInt(strings.ReplaceAll(raw, ",", ""), 10, 64); err == nil {
		if n <= 0 {
			return 0, common.ErrInvalidAmount
		}
		return n, nil
	}
	b, err := currency.Parse(raw)
	if err != nil {
		return 0, err
	}
	if b.TotalWL() <= 0 {
		return 0, common.ErrInvalidAmount
	}
	return b.TotalWL(), nil
}
