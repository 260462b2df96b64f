// Package goroutine запуск фоновых горутин с перехватом паники.
package goroutine

import (
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
)

// SafeGo запускает fn в горутине. Паника логируется со стеком и не роняет процесс.
func SafeGo(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Recover логирует панику; вызывать только через defer
func Recover(logger *zap.Logger, name string) {
	if r := recover(); r != nil {
		logger.Error("goroutine panicked",
			zap.String("goroutine", name),
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.String("stack", string(debug.Stack())),
		)
	}
}
