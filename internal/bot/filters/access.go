// Package filters решает, допускать ли пользователя к командам магазина.
package filters

import (
	"context"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/common"
)

// Gatekeeper — то, что нужно фильтру от админки.
type Gatekeeper interface {
	IsAdmin(externalID string) bool
	IsMaintenance(ctx context.Context) bool
	IsBlacklisted(ctx context.Context, externalID string) (bool, error)
}

// AccessFilter пропускает пользователя к командам с учётом чёрного списка
// и режима техобслуживания. Администраторы проходят всегда.
type AccessFilter struct {
	gate Gatekeeper
}

// NewAccessFilter создаёт фильтр.
func NewAccessFilter(gate Gatekeeper) *AccessFilter {
	return &AccessFilter{gate: gate}
}

// Check возвращает nil, если пользователя можно обслужить.
func (f *AccessFilter) Check(ctx context.Context, externalID string) error {
	logger := log.WithFields(log.Fields{
		"component":   "AccessFilter",
		"external_id": externalID,
	})

	if externalID == "" {
		logger.Warn("пустой external_id (служебное сообщение?)")
		return common.ErrBlacklisted
	}
	if f.gate.IsAdmin(externalID) {
		return nil
	}

	listed, err := f.gate.IsBlacklisted(ctx, externalID)
	if err != nil {
		// чёрный список недоступен: пропускаем
		logger.WithError(err).Error("blacklist check failed")
	} else if listed {
		logger.Info("deny: blacklisted")
		return common.ErrBlacklisted
	}

	if f.gate.IsMaintenance(ctx) {
		logger.Debug("deny: maintenance")
		return common.ErrMaintenance
	}
	return nil
}
