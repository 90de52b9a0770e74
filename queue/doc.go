// Package queue is the email job queue.
//
// [Queue] accepts jobs of the five notification types, persists them in a
// [store.Store] and drains them with a bounded worker pool. Among waiting
// jobs high priority strictly precedes medium, which precedes low; within
// a priority FIFO order is kept. A failed attempt is retried after an
// exponential backoff until the attempt budget (default 3) is spent, after
// which the job moves to the failed list where an operator can retry or
// discard it by ID.
//
//	q := queue.New(store, registry,
//	    queue.WithConcurrency(5),
//	    queue.WithLimits(queue.Limit{Type: "welcome", RateLimit: 5, RateBurst: 10}),
//	)
//	q.Start(ctx)
//	j, err := q.Enqueue(ctx, job.TypeWelcome, "new@example.com", data,
//	    job.WithPriority(job.PriorityLow))
//
// # Rate limits
//
// [Manager] enforces per-type limits when a worker claims a job, using a
// token bucket (golang.org/x/time/rate) and an active-count gate. A job
// that is over its limit goes back to the delayed set for one poll
// interval without spending an attempt.
package queue
