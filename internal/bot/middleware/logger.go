// Package middleware содержит промежуточные обработчики для логирования,
// восстановления после паники и rate-limiting.
package middleware

import (
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/common"
)

// LogCommand логирует входящую команду.
// Записывает: external_id, команду, аргументы (первые 50 символов).
func LogCommand(externalID, command string, args []string) {
	log.WithFields(log.Fields{
		"external_id": externalID,
		"command":     command,
		"args":        common.Truncate(strings.Join(args, " "), 50),
		"time":        time.Now().Format("15:04:05"),
	}).Debug("Входящая команда")
}

// LogResult логирует итог команды. Отказы бизнес-правил идут в Info, сбои — в Warn.
func LogResult(externalID, command string, took time.Duration, err error) {
	entry := log.WithFields(log.Fields{
		"external_id": externalID,
		"command":     command,
		"took_ms":     took.Milliseconds(),
	})
	switch kind := common.KindOf(err); kind {
	case "":
		entry.Debug("Команда выполнена")
	case common.KindProcessing, common.KindUnknown:
		entry.WithError(err).Warn("Команда завершилась ошибкой")
	default:
		entry.WithField("kind", kind).Info("Команда отклонена")
	}
}
