package middleware

import (
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// RecoverFromPanic гасит панику обработчика. Вызывается через defer.
func RecoverFromPanic(fields log.Fields) {
	if r := recover(); r != nil {
		log.WithFields(fields).WithFields(log.Fields{
			"component": "panic_recovery",
			"panic":     fmt.Sprintf("%v", r),
			"stack":     string(debug.Stack()),
		}).Error("ПАНИКА в обработчике — восстановлено")
	}
}
