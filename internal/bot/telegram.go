// Package bot — командный слой магазина: разбор команд, проверка доступа,
// вызов сервисов и транспорт Telegram.
package bot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/bot/middleware"
	"serotonyl.ru/growstore-bot/internal/common"
)

// Bot — long polling Telegram поверх Dispatcher.
type Bot struct {
	api        *telego.Bot
	dispatcher *Dispatcher
	maxFile    int64
	timeoutSec int

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
}

// NewAPI создаёт клиент Telegram с логированием через logrus.
func NewAPI(token string) (*telego.Bot, error) {
	api, err := telego.NewBot(token, telego.WithLogger(log.StandardLogger()))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return api, nil
}

// New создаёт бота.
func New(api *telego.Bot, dispatcher *Dispatcher, maxInflight, timeoutSec int) *Bot {
	if maxInflight <= 0 {
		maxInflight = 64
	}
	if timeoutSec <= 0 {
		timeoutSec = 60
	}
	return &Bot{
		api:        api,
		dispatcher: dispatcher,
		maxFile:    dispatcher.cfg.MaxFileBytes,
		timeoutSec: timeoutSec,
		inflight:   make(chan struct{}, maxInflight),
	}
}

// Start запускает polling и блокируется до отмены ctx.
func (b *Bot) Start(ctx context.Context) error {
	b.setMenu(ctx)

	updates, err := b.api.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        b.timeoutSec,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return fmt.Errorf("long polling: %w", err)
	}

	log.WithFields(log.Fields{
		"max_inflight": cap(b.inflight),
		"timeout_sec":  b.timeoutSec,
	}).Info("Бот запущен и ожидает сообщения...")

	for update := range updates {
		if update.Message == nil || update.Message.From == nil {
			continue
		}

		// лимит параллелизма
		select {
		case b.inflight <- struct{}{}:
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			return nil
		}
		go func(msg *telego.Message) {
			defer func() { <-b.inflight }()
			b.handleMessage(ctx, msg)
		}(update.Message)
	}

	log.Info("Канал updates закрыт, бот остановлен")
	return nil
}

// Drain ждёт завершения обрабатываемых апдейтов.
func (b *Bot) Drain() {
	for i := 0; i < cap(b.inflight); i++ {
		b.inflight <- struct{}{}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *telego.Message) {
	defer middleware.RecoverFromPanic(log.Fields{
		"user_id": msg.From.ID,
		"chat_id": msg.Chat.ID,
	})

	req := &telegramRequest{api: b.api, msg: msg, maxFile: b.maxFile}
	if req.Text() == "" {
		return
	}
	b.dispatcher.Handle(ctx, req)
}

func (b *Bot) setMenu(ctx context.Context) {
	var cmds []telego.BotCommand
	for _, m := range b.dispatcher.Menu() {
		cmds = append(cmds, telego.BotCommand{Command: m.Command, Description: m.Description})
	}
	if err := b.api.SetMyCommands(ctx, &telego.SetMyCommandsParams{Commands: cmds}); err != nil {
		log.WithError(err).Warn("Не удалось обновить меню команд")
	}
}

// telegramRequest — сообщение Telegram как Request.
type telegramRequest struct {
	api     *telego.Bot
	msg     *telego.Message
	maxFile int64
}

func (r *telegramRequest) InvokerID() string {
	return strconv.FormatInt(r.msg.From.ID, 10)
}

// Text — текст сообщения или подпись к файлу.
func (r *telegramRequest) Text() string {
	if r.msg.Text != "" {
		return r.msg.Text
	}
	return r.msg.Caption
}

func (r *telegramRequest) Reply(ctx context.Context, text string) error {
	_, err := r.api.SendMessage(ctx, tu.Message(tu.ID(r.msg.Chat.ID), text))
	return err
}

func (r *telegramRequest) Attachment(ctx context.Context) (*Attachment, error) {
	doc := r.msg.Document
	if doc == nil {
		return nil, nil
	}
	if r.maxFile > 0 && doc.FileSize > r.maxFile {
		return nil, common.ErrFileTooLarge
	}

	file, err := r.api.GetFile(ctx, &telego.GetFileParams{FileID: doc.FileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	data, err := download(ctx, r.api.FileDownloadURL(file.FilePath), r.maxFile)
	if err != nil {
		return nil, err
	}
	return &Attachment{Name: doc.FileName, Size: int64(len(data)), Data: data}, nil
}

// download скачивает файл не больше limit байт.
func download(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, common.ErrFileTooLarge
	}
	return data, nil
}

// TelegramSender — Sender поверх Telegram API.
type TelegramSender struct {
	api *telego.Bot
}

var _ Sender = (*TelegramSender)(nil)

func NewTelegramSender(api *telego.Bot) *TelegramSender {
	return &TelegramSender{api: api}
}

func (s *TelegramSender) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := s.api.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	return err
}

func (s *TelegramSender) SendFile(ctx context.Context, chatID int64, filename string, content []byte, caption string) error {
	doc := tu.Document(tu.ID(chatID), tu.File(tu.NameReader(bytes.NewReader(content), filename)))
	if caption != "" {
		doc = doc.WithCaption(caption)
	}
	_, err := s.api.SendDocument(ctx, doc)
	return err
}
