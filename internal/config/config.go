// Package config загружает конфигурацию бота из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры,
// godotenv — для необязательного .env файла при локальном запуске.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Telegram ---
	TelegramBotToken string  `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	AdminIDsRaw      string  `envconfig:"ADMIN_IDS" required:"true"`
	AdminIDs         []int64 `envconfig:"-"` // заполним вручную
	// Чат для уведомлений о покупках и подозрительных операциях (0 — только админам в личку)
	NotifyChatID int64 `envconfig:"NOTIFY_CHAT_ID" default:"0"`

	// --- Database ---
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"botuser"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"growstore"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Cache ---
	CacheBackend   string        `envconfig:"CACHE_BACKEND" default:"memory"` // memory | redis
	RedisAddr      string        `envconfig:"REDIS_ADDR" default:"redis:6379"`
	RedisPassword  string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix    string        `envconfig:"REDIS_PREFIX" default:"growstore:"`
	CacheTTLShort  time.Duration `envconfig:"CACHE_TTL_SHORT" default:"5m"`
	CacheTTLMedium time.Duration `envconfig:"CACHE_TTL_MEDIUM" default:"1h"`
	CacheTTLLong   time.Duration `envconfig:"CACHE_TTL_LONG" default:"24h"`

	// --- Locks ---
	LockTimeout time.Duration `envconfig:"LOCK_TIMEOUT" default:"10s"`
	LockHardCap time.Duration `envconfig:"LOCK_HARD_CAP" default:"5s"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`

	// --- Bot runtime ---
	BotMaxInflight          int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	BotUpdateTimeoutSeconds int `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`

	// --- Admin ---
	AdminPasswordHash string        `envconfig:"ADMIN_PASSWORD_HASH" required:"true"`
	AdminSessionTTL   time.Duration `envconfig:"ADMIN_SESSION_TTL" default:"24h"`
	MaintenanceTTL    time.Duration `envconfig:"MAINTENANCE_TTL" default:"24h"`

	// --- Balance ---
	BalanceDefaultDailyLimit int64 `envconfig:"BALANCE_DEFAULT_DAILY_LIMIT" default:"1000000"`
	BalanceMaxTotalWL        int64 `envconfig:"BALANCE_MAX_TOTAL_WL" default:"1000000"`
	MaxTransferWL            int64 `envconfig:"MAX_TRANSFER_WL" default:"10000000"`
	MaxDepositWL             int64 `envconfig:"MAX_DEPOSIT_WL" default:"100000000"`

	// --- Suspicious activity ---
	SuspiciousShareOfBalance float64       `envconfig:"SUSPICIOUS_SHARE_OF_BALANCE" default:"0.5"`
	SuspiciousLargeWL        int64         `envconfig:"SUSPICIOUS_LARGE_WL" default:"100000"`
	SuspiciousBurstCount     int           `envconfig:"SUSPICIOUS_BURST_COUNT" default:"5"`
	SuspiciousBurstWindow    time.Duration `envconfig:"SUSPICIOUS_BURST_WINDOW" default:"5m"`

	// --- Inventory ---
	StockMaxPerProduct int64 `envconfig:"STOCK_MAX_PER_PRODUCT" default:"999999"`
	StockMaxFileBytes  int64 `envconfig:"STOCK_MAX_FILE_BYTES" default:"5242880"`

	// --- Transactions ---
	PurchaseMaxQuantity int           `envconfig:"PURCHASE_MAX_QUANTITY" default:"999"`
	LargeTransactionWL  int64         `envconfig:"LARGE_TRANSACTION_WL" default:"100000"`
	PendingSweepEvery   string        `envconfig:"PENDING_SWEEP_SCHEDULE" default:"@every 5m"`
	PendingMaxAge       time.Duration `envconfig:"PENDING_MAX_AGE" default:"5m"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// Validate проверяет диапазоны значений.
func (c *Config) Validate() error {
	if c.BotMaxInflight <= 0 {
		return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
	}
	if c.BotUpdateTimeoutSeconds <= 0 {
		return fmt.Errorf("BOT_UPDATE_TIMEOUT_SECONDS должен быть > 0")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.CacheBackend != "memory" && c.CacheBackend != "redis" {
		return fmt.Errorf("CACHE_BACKEND должен быть memory или redis, получено %q", c.CacheBackend)
	}
	if c.LockTimeout <= 0 || c.LockHardCap <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT и LOCK_HARD_CAP должны быть > 0")
	}
	if c.BalanceDefaultDailyLimit < 0 {
		return fmt.Errorf("BALANCE_DEFAULT_DAILY_LIMIT не может быть отрицательным")
	}
	if c.SuspiciousShareOfBalance <= 0 || c.SuspiciousShareOfBalance > 1 {
		return fmt.Errorf("SUSPICIOUS_SHARE_OF_BALANCE должен быть в (0, 1]")
	}
	if c.PurchaseMaxQuantity <= 0 {
		return fmt.Errorf("PURCHASE_MAX_QUANTITY должен быть > 0")
	}
	if c.StockMaxPerProduct <= 0 || c.StockMaxFileBytes <= 0 {
		return fmt.Errorf("STOCK_MAX_PER_PRODUCT и STOCK_MAX_FILE_BYTES должны быть > 0")
	}
	return nil
}

// Load читает .env (если есть) и переменные окружения, заполняет Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("ошибка чтения .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	ids, err := parseInt64CSV(cfg.AdminIDsRaw)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS parse: %w", err)
	}
	cfg.AdminIDs = ids

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseInt64CSV(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad int64 %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
