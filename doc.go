// Package herald provides the real-time notification pipeline for a course
// platform: a Redis-backed key-value store and response cache, a retrying
// email job queue, a pub/sub event bus, and an authenticated WebSocket
// gateway that turns bus messages into per-user and per-room client events.
//
// Herald is designed as a library. Each subsystem lives in its own package
// and is constructed explicitly; the engine package wires them together
// from a Config and owns the process lifecycle.
//
// # Quick Start
//
//	cfg, err := herald.LoadConfig("herald.yaml")
//	eng, err := engine.Build(ctx, cfg, engine.WithLogger(logger))
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(ctx)
//
//	// Business code talks to the notifier only.
//	err = eng.Notifier().Enrolled(ctx, engine.Enrollment{
//	    UserID: userID, Email: email,
//	    CourseID: courseID, CourseName: "Go Concurrency",
//	})
//
// # Architecture
//
// Data flows one way: a business action invalidates cached reads, publishes
// on the event bus, and enqueues email jobs. The gateway subscribes to the
// bus and pushes to connected users; workers drain the job queue with
// exponential backoff and park exhausted jobs in the failed list.
//
// Shutdown runs in dependency order: gateway, job queue, event bus, store.
package herald
