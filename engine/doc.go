// Package engine builds the whole notification pipeline from a
// herald.Config and owns its lifecycle.
//
// Build connects the shared key-value store and wires everything that
// hangs off it: the Redis job store and queue with the mail handlers, the
// event bus on Redis pub/sub, the realtime gateway bridged to the bus, the
// response cache and the Prometheus collector. The [Notifier] is the
// business-facing entry point: one call per domain action, each fanning out
// to cache invalidation, bus events and queued mail.
//
//	eng, err := engine.Build(ctx, cfg, engine.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := eng.Start(ctx); err != nil {
//	    return err
//	}
//	defer eng.Stop(shutdownCtx)
//
//	http.ListenAndServe(cfg.HTTP.Addr, eng.Handler())
//
//	eng.Notifier().Enrolled(ctx, engine.Enrollment{UserID: "u1", CourseID: "c1", ...})
//
// Start brings up the gateway bridge before the workers. Stop tears down in
// dependency order: gateway, queue, bus, store.
package engine
