// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт БД-пул, кеш, блокировки, шину событий,
// репозитории, сервисы и собирает всё в один объект Bot.
package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/bot"
	"serotonyl.ru/growstore-bot/internal/bot/middleware"
	"serotonyl.ru/growstore-bot/internal/cache"
	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/config"
	"serotonyl.ru/growstore-bot/internal/db/postgres"
	"serotonyl.ru/growstore-bot/internal/events"
	"serotonyl.ru/growstore-bot/internal/features/admin"
	"serotonyl.ru/growstore-bot/internal/features/balance"
	"serotonyl.ru/growstore-bot/internal/features/inventory"
	"serotonyl.ru/growstore-bot/internal/features/transaction"
	"serotonyl.ru/growstore-bot/internal/jobs"
	"serotonyl.ru/growstore-bot/internal/locks"
)

// App содержит все компоненты приложения.
type App struct {
	Bot       *bot.Bot
	Scheduler *jobs.Scheduler
	DB        *pgxpool.Pool
	Bus       *events.Bus
	Notifier  *bot.Notifier

	limiter *middleware.RateLimiter
	closers []func() error
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	loc := common.LoadLocation(cfg.AppTimezone)
	a := &App{}

	// === 1. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}
	a.DB = pool

	if err := postgres.RunMigrations(ctx, pool, migrations); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	// === 2. Кеш ===
	ttl := cache.TTLs{Short: cfg.CacheTTLShort, Medium: cfg.CacheTTLMedium, Long: cfg.CacheTTLLong}
	var store cache.Store
	var sweeper jobs.Sweeper
	switch cfg.CacheBackend {
	case "redis":
		r, err := cache.ConnectRedis(ctx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			pool.Close()
			return nil, err
		}
		a.closers = append(a.closers, r.Close)
		store = r
	default:
		mem := cache.NewMemory()
		store, sweeper = mem, mem
	}
	log.WithField("backend", cfg.CacheBackend).Info("Кеш готов")

	// === 3. Блокировки и события ===
	registry := locks.NewRegistry(cfg.LockHardCap)
	bus := events.NewBus()
	a.Bus = bus

	// === 4. Telegram Bot API ===
	api, err := bot.NewAPI(cfg.TelegramBotToken)
	if err != nil {
		a.Close()
		return nil, err
	}

	// === 5. Репозитории ===
	balanceRepo := balance.NewRepository(pool)
	inventoryRepo := inventory.NewRepository(pool)
	journal := transaction.NewRepository(pool)
	adminRepo := admin.NewRepository(pool)

	// === 6. Сервисы ===
	balanceService := balance.NewService(balanceRepo, store, registry, bus, balance.Settings{
		DefaultDailyLimit: cfg.BalanceDefaultDailyLimit,
		MaxBalanceWL:      cfg.BalanceMaxTotalWL,
		MaxTransferWL:     cfg.MaxTransferWL,
		LockTimeout:       cfg.LockTimeout,
		TTL:               ttl,
		Policy: balance.SuspiciousPolicy{
			ShareOfBalance: cfg.SuspiciousShareOfBalance,
			LargeWL:        cfg.SuspiciousLargeWL,
			BurstCount:     cfg.SuspiciousBurstCount,
			BurstWindow:    cfg.SuspiciousBurstWindow,
		},
		Location: loc,
	})

	notifier := bot.NewNotifier(bot.NewTelegramSender(api), balanceService, cfg.NotifyChatID, cfg.AdminIDs)
	notifier.Subscribe(bus)
	a.Notifier = notifier

	inventoryService := inventory.NewService(inventoryRepo, store, registry, bus, notifier, inventory.Settings{
		MaxStock:    cfg.StockMaxPerProduct,
		LockTimeout: cfg.LockTimeout,
		TTL:         ttl,
	})

	orders := transaction.NewService(balanceService, inventoryService, journal, registry, bus, transaction.Settings{
		MaxQuantity:   cfg.PurchaseMaxQuantity,
		MaxDepositWL:  cfg.MaxDepositWL,
		LargeWL:       cfg.LargeTransactionWL,
		LockTimeout:   cfg.LockTimeout,
		PendingMaxAge: cfg.PendingMaxAge,
	})

	adminSettings := admin.DefaultSettings()
	adminSettings.AdminIDs = formatIDs(cfg.AdminIDs)
	adminSettings.PasswordHash = cfg.AdminPasswordHash
	adminSettings.SessionTTL = cfg.AdminSessionTTL
	adminSettings.MaintenanceTTL = cfg.MaintenanceTTL
	adminService := admin.NewService(adminRepo, store, bus, balanceService, inventoryService, registry, adminSettings)

	// === 7. Собираем бота ===
	a.limiter = middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	dispatcher := bot.NewDispatcher(bot.Services{
		Balances:  balanceService,
		Inventory: inventoryService,
		Orders:    orders,
		Admin:     adminService,
	}, registry, a.limiter, bot.Settings{
		ResponseWait: cfg.LockHardCap,
		MaxFileBytes: cfg.StockMaxFileBytes,
	})
	a.Bot = bot.New(api, dispatcher, cfg.BotMaxInflight, cfg.BotUpdateTimeoutSeconds)

	// === 8. Планировщик задач ===
	a.Scheduler = jobs.NewScheduler(orders, sweeper, registry, jobs.Settings{
		PendingSpec: cfg.PendingSweepEvery,
		Location:    loc,
	})

	return a, nil
}

// Close освобождает ресурсы в обратном порядке: сначала ждём фоновые
// рассылки, потом закрываем кеш и БД.
func (a *App) Close() {
	if a.limiter != nil {
		a.limiter.Close()
	}
	if a.Bus != nil {
		a.Bus.Wait()
	}
	if a.Notifier != nil {
		a.Notifier.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.WithError(err).Warn("Ошибка закрытия ресурса")
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func formatIDs(ids []int64) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, strconv.FormatInt(id, 10))
	}
	return out
}
