// Package main — точка входа бота магазина.
// Загружает конфигурацию, инициализирует приложение и запускает.
// Поддерживает graceful shutdown по SIGINT/SIGTERM.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/app"
	"serotonyl.ru/growstore-bot/internal/config"
)

func main() {
	// Настраиваем логирование
	setupLogging()

	log.Info("=== Бот запускается ===")

	// Загружаем конфигурацию из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Не удалось загрузить конфигурацию")
	}

	// Устанавливаем уровень логирования из конфига
	level, err := log.ParseLevel(cfg.AppLogLevel)
	if err == nil {
		log.SetLevel(level)
	}

	// Контекст отменяется по Ctrl+C и docker stop
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Инициализируем приложение (БД, кеш, сервисы, бот)
	application, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Не удалось инициализировать приложение")
	}
	defer application.Close()

	// Запускаем планировщик задач (cron)
	if err := application.Scheduler.Start(ctx); err != nil {
		log.WithError(err).Fatal("Не удалось запустить планировщик")
	}
	defer application.Scheduler.Stop()

	log.Info("=== Бот готов к работе ===")

	// Блокируемся до отмены контекста
	if err := application.Bot.Start(ctx); err != nil {
		log.WithError(err).Error("Polling остановлен с ошибкой")
	}

	// Дожидаемся команд, которые уже выполняются
	application.Bot.Drain()

	log.Info("=== Бот остановлен ===")
}

// setupLogging настраивает формат логов.
func setupLogging() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.DebugLevel)
}
