package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/currency"
	"serotonyl.ru/growstore-bot/internal/events"
	"serotonyl.ru/growstore-bot/internal/features/inventory"
)

// Sender — отправка сообщений в мессенджер по id чата.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendFile(ctx context.Context, chatID int64, filename string, content []byte, caption string) error
}

// AccountResolver находит внешний аккаунт по GrowID.
type AccountResolver interface {
	GetExternalID(ctx context.Context, growid string) (string, error)
}

// Notifier рассылает уведомления: файлы списанного стока владельцу мира,
// события магазина в канал уведомлений или администраторам.
type Notifier struct {
	sender   Sender
	accounts AccountResolver
	chatID   int64
	adminIDs []int64
	timeout  time.Duration
	wg       sync.WaitGroup
}

var _ inventory.Notifier = (*Notifier)(nil)

// NewNotifier создаёт рассыльщик. chatID == 0 — события уходят администраторам в личку.
func NewNotifier(sender Sender, accounts AccountResolver, chatID int64, adminIDs []int64) *Notifier {
	return &Notifier{
		sender:   sender,
		accounts: accounts,
		chatID:   chatID,
		adminIDs: adminIDs,
		timeout:  15 * time.Second,
	}
}

// SendDocument отправляет файл получателю. recipient — id чата или GrowID
// зарегистрированного пользователя.
func (n *Notifier) SendDocument(ctx context.Context, recipient, filename string, content []byte, caption string) error {
	chatID, err := n.resolve(ctx, recipient)
	if err != nil {
		return err
	}
	return n.sender.SendFile(ctx, chatID, filename, content, caption)
}

func (n *Notifier) resolve(ctx context.Context, recipient string) (int64, error) {
	recipient = strings.TrimSpace(recipient)
	if id, err := strconv.ParseInt(recipient, 10, 64); err == nil {
		return id, nil
	}
	ext, err := n.accounts.GetExternalID(ctx, recipient)
	if err != nil {
		return 0, fmt.Errorf("получатель %q: %w", recipient, err)
	}
	id, err := strconv.ParseInt(ext, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("получатель %q: некорректный id %q", recipient, ext)
	}
	return id, nil
}

// Subscribe подписывает рассыльщик на события магазина.
func (n *Notifier) Subscribe(bus *events.Bus) {
	events.On(bus, func(ctx context.Context, e events.PurchaseCompleted) {
		n.broadcast(ctx, fmt.Sprintf("🛒 %s купил %d × %s (%s) на %s",
			e.Growid, e.Quantity, e.ProductName, e.ProductCode, currency.FormatWL(e.TotalWL)))
	})
	events.On(bus, func(ctx context.Context, e events.DepositCompleted) {
		n.broadcast(ctx, fmt.Sprintf("💎 Пополнение %s: %s", e.Growid, e.Amount.Format()))
		if id, err := strconv.ParseInt(e.ExternalID, 10, 64); err == nil {
			n.send(ctx, id, fmt.Sprintf("💎 Баланс пополнен на %s\nТеперь: %s", e.Amount.Format(), e.NewBalance.Format()))
		}
	})
	events.On(bus, func(ctx context.Context, e events.LargeTransaction) {
		n.broadcast(ctx, fmt.Sprintf("💰 Крупная операция %s: %s на %s (%s)",
			e.Type, e.Growid, currency.FormatWL(e.TotalWL), e.AttemptID))
	})
	events.On(bus, func(ctx context.Context, e events.SuspiciousActivity) {
		n.broadcast(ctx, fmt.Sprintf("⚠️ Подозрительная операция %s у %s: %s\n%s → %s",
			e.Type, e.Growid, strings.Join(e.Reasons, ", "), e.Old.Format(), e.New.Format()))
	})
	events.On(bus, func(ctx context.Context, e events.StockReduced) {
		n.broadcast(ctx, fmt.Sprintf("📤 Списано %d × %s для %s: %s", e.Quantity, e.Code, e.Owner, e.Reason))
	})
	events.On(bus, func(ctx context.Context, e events.MaintenanceChanged) {
		if e.Enabled {
			n.broadcast(ctx, "🛠 Включён режим техобслуживания: "+e.Reason)
			return
		}
		n.broadcast(ctx, "✅ Режим техобслуживания выключен")
	})
	events.On(bus, func(ctx context.Context, e events.TransactionFailed) {
		if e.ErrorKind != string(common.KindProcessing) {
			return
		}
		n.broadcast(ctx, fmt.Sprintf("❗ Сбой операции %s (%s) у %s: %s", e.Type, e.AttemptID, e.ExternalID, e.Error))
	})
}

// broadcast отправляет текст в канал уведомлений или всем администраторам.
func (n *Notifier) broadcast(ctx context.Context, text string) {
	if n.chatID != 0 {
		n.send(ctx, n.chatID, text)
		return
	}
	for _, id := range n.adminIDs {
		n.send(ctx, id, text)
	}
}

// send не блокирует публикатора события.
func (n *Notifier) send(ctx context.Context, chatID int64, text string) {
	ctx = context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()
		if err := n.sender.SendText(ctx, chatID, text); err != nil {
			log.WithError(err).WithField("chat_id", chatID).Warn("Не удалось отправить уведомление")
		}
	}()
}

// Wait ждёт отправки уведомлений (shutdown и тесты).
func (n *Notifier) Wait() {
	n.wg.Wait()
}
