// Package async runs fire-and-forget background work with panic recovery,
// timeouts and error logging.
//
//	var g async.Group
//	g.Go(ctx, 5*time.Second, "audit grant", logger, func(ctx context.Context) error {
//		return auditLogger.Log(ctx, event)
//	})
//	g.Wait() // during shutdown or in tests
package async
