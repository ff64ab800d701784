// Package admin — service.go содержит проверку прав, вход по паролю,
// режим техобслуживания, чёрный список и сбор статистики.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/cache"
	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/events"
	"serotonyl.ru/growstore-bot/internal/features/inventory"
)

// Users — источник числа пользователей.
type Users interface {
	CountUsers(ctx context.Context) (int64, error)
}

// Catalog — источник сведений о товарах и стоке.
type Catalog interface {
	GetAllProducts(ctx context.Context) ([]inventory.Product, error)
	StockSummary(ctx context.Context) (map[inventory.StockStatus]int64, error)
}

// LockCounter — реестр блокировок, умеющий считать свои ключи.
type LockCounter interface {
	Len() int
}

// Service управляет админкой.
type Service struct {
	store   Store
	cache   cache.Store
	bus     events.Publisher
	users   Users
	catalog Catalog
	locks   LockCounter
	cfg     Settings
	started time.Time
	now     func() time.Time
}

// NewService создаёт сервис админки.
func NewService(store Store, c cache.Store, bus events.Publisher, users Users, catalog Catalog, l LockCounter, cfg Settings) *Service {
	def := DefaultSettings()
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}
	if cfg.MaintenanceTTL <= 0 {
		cfg.MaintenanceTTL = def.MaintenanceTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = def.AttemptWindow
	}
	if cfg.BlacklistTTL <= 0 {
		cfg.BlacklistTTL = def.BlacklistTTL
	}
	return &Service{
		store:   store,
		cache:   c,
		bus:     bus,
		users:   users,
		catalog: catalog,
		locks:   l,
		cfg:     cfg,
		started: time.Now(),
		now:     time.Now,
	}
}

// IsAdmin проверяет, входит ли аккаунт в ADMIN_IDS.
func (s *Service) IsAdmin(externalID string) bool {
	return externalID != "" && slices.Contains(s.cfg.AdminIDs, externalID)
}

// --- Вход ---

// Login проверяет пароль администратора (Argon2id) и открывает сессию.
// После MaxAttempts неудачных попыток за AttemptWindow вход закрыт.
func (s *Service) Login(ctx context.Context, externalID, password string) (*Session, error) {
	if !s.IsAdmin(externalID) {
		return nil, common.ErrNotAdmin
	}

	now := s.now()
	attempts, err := s.store.CountFailedAttempts(ctx, externalID, now.Add(-s.cfg.AttemptWindow))
	if err != nil {
		return nil, s.passOrWrap("count_attempts", err, log.Fields{"external_id": externalID})
	}
	if attempts >= s.cfg.MaxAttempts {
		log.WithField("external_id", externalID).Warn("Вход администратора заблокирован: слишком много попыток")
		return nil, common.ErrTooManyAttempts
	}

	match := verifyArgon2id(password, s.cfg.PasswordHash)

	if err := s.store.LogAttempt(ctx, externalID, match); err != nil {
		log.WithError(err).WithField("external_id", externalID).Warn("Не удалось записать попытку входа")
	}

	if !match {
		return nil, common.ErrWrongPassword
	}

	session := &Session{
		ExternalID:   externalID,
		SessionToken: generateSecureToken(),
		ExpiresAt:    now.Add(s.cfg.SessionTTL),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, s.passOrWrap("create_session", err, log.Fields{"external_id": externalID})
	}

	log.WithField("external_id", externalID).Info("Администратор вошёл")
	return session, nil
}

// HasActiveSession проверяет, есть ли у пользователя активная сессия.
func (s *Service) HasActiveSession(ctx context.Context, externalID string) bool {
	session, err := s.store.GetActiveSession(ctx, externalID, s.now())
	if err != nil {
		log.WithError(err).WithField("external_id", externalID).Warn("Ошибка проверки сессии")
		return false
	}
	return session != nil
}

// Authorize пропускает администратора с действующей сессией и продлевает её активность.
func (s *Service) Authorize(ctx context.Context, externalID string) error {
	if !s.IsAdmin(externalID) {
		return common.ErrNotAdmin
	}
	if !s.HasActiveSession(ctx, externalID) {
		return common.ErrSessionExpired
	}
	if err := s.store.UpdateActivity(ctx, externalID); err != nil {
		log.WithError(err).WithField("external_id", externalID).Debug("Не удалось обновить активность")
	}
	return nil
}

// Logout закрывает сессию.
func (s *Service) Logout(ctx context.Context, externalID string) error {
	if err := s.store.DeactivateSession(ctx, externalID); err != nil {
		return s.passOrWrap("logout", err, log.Fields{"external_id": externalID})
	}
	return nil
}

// --- Техобслуживание ---

// SetMaintenance включает или выключает режим техобслуживания.
// Флаг живёт в кэше MaintenanceTTL и после этого сам снимается.
func (s *Service) SetMaintenance(ctx context.Context, enabled bool, reason, admin string) (Maintenance, error) {
	m := Maintenance{
		Enabled:   enabled,
		Reason:    strings.TrimSpace(reason),
		Admin:     admin,
		Timestamp: s.now().UTC(),
	}

	if enabled {
		raw, err := json.Marshal(m)
		if err != nil {
			return m, s.passOrWrap("maintenance_encode", err, nil)
		}
		if err := s.cache.Set(ctx, cache.MaintenanceKey, raw, s.cfg.MaintenanceTTL); err != nil {
			return m, s.passOrWrap("maintenance_set", err, nil)
		}
	} else if err := s.cache.Delete(ctx, cache.MaintenanceKey); err != nil {
		return m, s.passOrWrap("maintenance_clear", err, nil)
	}

	log.WithFields(log.Fields{
		"enabled": enabled,
		"reason":  m.Reason,
		"admin":   admin,
	}).Warn("Режим техобслуживания изменён")

	s.bus.Publish(ctx, events.MaintenanceChanged{Enabled: enabled, Reason: m.Reason, Admin: admin})
	return m, nil
}

// Maintenance возвращает текущее состояние режима.
func (s *Service) Maintenance(ctx context.Context) Maintenance {
	m, ok := cache.GetJSON[Maintenance](ctx, s.cache, cache.MaintenanceKey)
	if !ok {
		return Maintenance{}
	}
	return m
}

// IsMaintenance — включён ли режим техобслуживания.
func (s *Service) IsMaintenance(ctx context.Context) bool {
	return s.Maintenance(ctx).Enabled
}

// --- Чёрный список ---

// AddToBlacklist закрывает пользователю доступ к магазину.
func (s *Service) AddToBlacklist(ctx context.Context, externalID, reason, admin string) error {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return common.Validationf("укажите пользователя")
	}
	if s.IsAdmin(externalID) {
		return common.ErrBlacklistAdmin
	}

	e := BlacklistEntry{ExternalID: externalID, Reason: strings.TrimSpace(reason), AddedBy: admin}
	if err := s.store.AddBlacklist(ctx, e); err != nil {
		return s.passOrWrap("blacklist_add", err, log.Fields{"external_id": externalID})
	}
	cache.Invalidate(ctx, s.cache, []string{cache.BlacklistKey(externalID)})

	log.WithFields(log.Fields{"external_id": externalID, "admin": admin, "reason": e.Reason}).
		Warn("Пользователь добавлен в чёрный список")
	return nil
}

// RemoveFromBlacklist возвращает пользователю доступ.
func (s *Service) RemoveFromBlacklist(ctx context.Context, externalID, admin string) error {
	externalID = strings.TrimSpace(externalID)
	removed, err := s.store.RemoveBlacklist(ctx, externalID)
	if err != nil {
		return s.passOrWrap("blacklist_remove", err, log.Fields{"external_id": externalID})
	}
	cache.Invalidate(ctx, s.cache, []string{cache.BlacklistKey(externalID)})
	if !removed {
		return common.ErrNotBlacklisted
	}

	log.WithFields(log.Fields{"external_id": externalID, "admin": admin}).Info("Пользователь убран из чёрного списка")
	return nil
}

// IsBlacklisted проверяет пользователя. Администраторы в список не попадают.
func (s *Service) IsBlacklisted(ctx context.Context, externalID string) (bool, error) {
	if s.IsAdmin(externalID) {
		return false, nil
	}
	key := cache.BlacklistKey(externalID)
	if v, ok := cache.GetJSON[bool](ctx, s.cache, key); ok {
		return v, nil
	}

	e, err := s.store.GetBlacklist(ctx, externalID)
	if err != nil {
		return false, s.passOrWrap("blacklist_get", err, log.Fields{"external_id": externalID})
	}
	listed := e != nil
	cache.SetJSON(ctx, s.cache, key, listed, s.cfg.BlacklistTTL)
	return listed, nil
}

// Blacklist — весь чёрный список.
func (s *Service) Blacklist(ctx context.Context) ([]BlacklistEntry, error) {
	list, err := s.store.ListBlacklist(ctx)
	if err != nil {
		return nil, s.passOrWrap("blacklist_list", err, nil)
	}
	return list, nil
}

// --- Статистика ---

// SystemStats собирает сводку: память процесса, кэш, блокировки и объёмы данных.
func (s *Service) SystemStats(ctx context.Context) (SystemStats, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	st := SystemStats{
		Uptime:      s.now().Sub(s.started).Round(time.Second),
		Goroutines:  runtime.NumGoroutine(),
		AllocMB:     float64(mem.Alloc) / 1024 / 1024,
		SysMB:       float64(mem.Sys) / 1024 / 1024,
		NumGC:       mem.NumGC,
		Cache:       s.cache.Stats(ctx),
		Maintenance: s.IsMaintenance(ctx),
	}
	if s.locks != nil {
		st.ActiveLocks = s.locks.Len()
	}

	users, err := s.users.CountUsers(ctx)
	if err != nil {
		return st, err
	}
	st.Users = users

	products, err := s.catalog.GetAllProducts(ctx)
	if err != nil {
		return st, err
	}
	st.Products = len(products)

	stock, err := s.catalog.StockSummary(ctx)
	if err != nil {
		return st, err
	}
	st.Stock = stock
	return st, nil
}

// FormatStats — текст для systeminfo.
func FormatStats(st SystemStats) string {
	var sb strings.Builder
	sb.WriteString("🖥 Состояние системы\n\n")
	sb.WriteString(fmt.Sprintf("Аптайм: %s\n", st.Uptime))
	sb.WriteString(fmt.Sprintf("Горутины: %d\n", st.Goroutines))
	sb.WriteString(fmt.Sprintf("Память: %.1f MB (sys %.1f MB), GC: %d\n", st.AllocMB, st.SysMB, st.NumGC))
	sb.WriteString(fmt.Sprintf("Кэш (%s): %d ключей, попаданий %.0f%%\n", st.Cache.Backend, st.Cache.Items, st.Cache.HitRate*100))
	sb.WriteString(fmt.Sprintf("Блокировки: %d\n", st.ActiveLocks))
	sb.WriteString(fmt.Sprintf("Пользователи: %s\n", common.FormatNumber(st.Users)))
	sb.WriteString(fmt.Sprintf("Товары: %d\n", st.Products))
	sb.WriteString(fmt.Sprintf("Сток: доступно %s, продано %s\n",
		common.FormatNumber(st.Stock[inventory.StockAvailable]),
		common.FormatNumber(st.Stock[inventory.StockSold])))
	if st.Maintenance {
		sb.WriteString("\n🛠 Включён режим техобслуживания")
	}
	return sb.String()
}

// passOrWrap отдаёт ошибки с видом как есть, остальные превращает в ErrTransactionFailed.
func (s *Service) passOrWrap(op string, err error, fields log.Fields) error {
	if common.KindOf(err) != common.KindUnknown {
		return err
	}
	log.WithFields(fields).WithFields(log.Fields{
		"component": "admin",
		"operation": op,
	}).WithError(err).Error("Ошибка хранилища")
	return fmt.Errorf("%w: %v", common.ErrTransactionFailed, err)
}
