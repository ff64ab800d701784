package bot

import "context"

// Attachment — файл, приложенный к команде.
type Attachment struct {
	Name string
	Size int64
	Data []byte
}

// Request — одна команда пользователя, независимо от транспорта.
type Request interface {
	// InvokerID — внешний идентификатор пользователя (id аккаунта в мессенджере).
	InvokerID() string
	// Text — исходный текст сообщения.
	Text() string
	Reply(ctx context.Context, text string) error
	// Attachment скачивает приложенный файл. Без файла — (nil, nil).
	Attachment(ctx context.Context) (*Attachment, error)
}
