package async

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/assessly/pkg/observability"
)

// Group tracks background tasks so callers can wait for them to drain.
// The zero value is ready to use.
type Group struct {
	wg sync.WaitGroup
}

// Go runs fn in a goroutine with a timeout, panic recovery and error logging.
// Cancellation of parentCtx is ignored so work started by a request outlives it;
// values such as request IDs are kept.
func (g *Group) Go(parentCtx context.Context, timeout time.Duration, taskName string, logger *observability.Logger, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithField("task", taskName).WithError(err).Warn("background task failed")
		}
	}()
}

// Wait blocks until every task started with Go has returned
func (g *Group) Wait() {
	g.wg.Wait()
}
