package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it at error level with its stack.
// It must be called directly in a defer statement.
//
//	defer observability.RecoverPanic(logger, "cleanup sweep")
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logPanic(logger, context, r)
	}
}

// RecoverPanicWithCallback recovers and logs a panic, then runs callback.
// The callback only runs when a panic occurred, which lets callers turn a
// panic into a soft failure:
//
//	defer observability.RecoverPanicWithCallback(logger, "grant permission", func() {
//		ok = false
//	})
func RecoverPanicWithCallback(logger *Logger, context string, callback func()) {
	if r := recover(); r != nil {
		logPanic(logger, context, r)
		if callback != nil {
			callback()
		}
	}
}

func logPanic(logger *Logger, context string, r interface{}) {
	if logger == nil {
		logger = NewNopLogger()
	}
	logger.WithFields(map[string]interface{}{
		"panic":   fmt.Sprint(r),
		"stack":   string(debug.Stack()),
		"context": context,
	}).Error("PANIC recovered")
}
