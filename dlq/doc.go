// Package dlq keeps jobs that exhausted their attempts so an operator can
// inspect, retry or discard them.
//
// When the last attempt fails the executor calls [Service.Push], which
// records the job's payload, priority, attempt count and final error as an
// [Entry] keyed by the job ID, then enforces the [Retention] bound: entries
// older than MaxAge are purged and only the MaxEntries most recent are kept.
//
//	svc := dlq.NewService(store, jobStore, dlq.WithRetention(dlq.Retention{
//	    MaxEntries: 1000,
//	    MaxAge:     7 * 24 * time.Hour,
//	}))
//
//	entries, _ := svc.List(ctx, dlq.ListOpts{Limit: 50})
//	j, _ := svc.Retry(ctx, entries[0].JobID) // back to waiting, same ID
//	_ = svc.Discard(ctx, entries[1].JobID)
package dlq
