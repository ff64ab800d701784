// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: проверку зависших транзакций,
// очистку кеша в памяти и реестра блокировок.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// PendingMonitor восстанавливает зависшие записи журнала.
type PendingMonitor interface {
	MonitorPendingTransactions(ctx context.Context) (recovered, failed int, err error)
}

// Sweeper удаляет просроченные записи кеша.
type Sweeper interface {
	Sweep() int
}

// Compactor убирает давно не используемые блокировки.
type Compactor interface {
	Compact(idle time.Duration) int
}

// Settings — расписание задач в формате cron.
type Settings struct {
	PendingSpec string
	SweepSpec   string
	CompactSpec string
	// LockIdle — блокировки без обращений дольше этого удаляются.
	LockIdle time.Duration
	Location *time.Location
}

// DefaultSettings — значения по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		PendingSpec: "@every 5m",
		SweepSpec:   "@every 1m",
		CompactSpec: "30 4 * * *",
		LockIdle:    time.Hour,
	}
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron    *cron.Cron
	cfg     Settings
	pending PendingMonitor
	sweeper Sweeper
	locks   Compactor
}

// NewScheduler создаёт планировщик. sweeper и locks могут быть nil.
func NewScheduler(pending PendingMonitor, sweeper Sweeper, locks Compactor, cfg Settings) *Scheduler {
	def := DefaultSettings()
	if cfg.PendingSpec == "" {
		cfg.PendingSpec = def.PendingSpec
	}
	if cfg.SweepSpec == "" {
		cfg.SweepSpec = def.SweepSpec
	}
	if cfg.CompactSpec == "" {
		cfg.CompactSpec = def.CompactSpec
	}
	if cfg.LockIdle <= 0 {
		cfg.LockIdle = def.LockIdle
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	c := cron.New(cron.WithLocation(cfg.Location), cron.WithChain(cron.Recover(cronLogger{})))

	return &Scheduler{
		cron:    c,
		cfg:     cfg,
		pending: pending,
		sweeper: sweeper,
		locks:   locks,
	}
}

// Start регистрирует задачи и запускает планировщик.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.PendingSpec, func() { s.checkPending(ctx) }); err != nil {
		return err
	}

	if s.sweeper != nil {
		if _, err := s.cron.AddFunc(s.cfg.SweepSpec, s.sweepCache); err != nil {
			return err
		}
	}

	if s.locks != nil {
		if _, err := s.cron.AddFunc(s.cfg.CompactSpec, s.compactLocks); err != nil {
			return err
		}
	}

	s.cron.Start()
	log.WithFields(log.Fields{
		"pending":  s.cfg.PendingSpec,
		"timezone": s.cfg.Location.String(),
	}).Info("Планировщик задач запущен")
	return nil
}

func (s *Scheduler) checkPending(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	log.Debug("[CRON] Проверка зависших транзакций")
	recovered, failed, err := s.pending.MonitorPendingTransactions(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка проверки зависших транзакций")
		return
	}
	if recovered > 0 || failed > 0 {
		log.WithFields(log.Fields{
			"recovered": recovered,
			"failed":    failed,
		}).Warn("[CRON] Зависшие транзакции обработаны")
	}
}

func (s *Scheduler) sweepCache() {
	if n := s.sweeper.Sweep(); n > 0 {
		log.WithField("removed", n).Debug("[CRON] Очистка кеша")
	}
}

func (s *Scheduler) compactLocks() {
	n := s.locks.Compact(s.cfg.LockIdle)
	log.WithField("removed", n).Info("[CRON] Очистка реестра блокировок")
}

// Stop останавливает планировщик и ждёт выполняющиеся задачи.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}

// cronLogger — cron.Logger поверх logrus.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.WithFields(pairs(keysAndValues)).Debug("[CRON] " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.WithError(err).WithFields(pairs(keysAndValues)).Error("[CRON] " + msg)
}

func pairs(kv []interface{}) log.Fields {
	f := log.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			f[k] = kv[i+1]
		}
	}
	return f
}
