// Package store defines the aggregate persistence interface for the email
// job queue.
//
// The composite interface:
//
//	type Store interface {
//	    job.Store
//	    dlq.Store
//
//	    Ping(ctx context.Context) error
//	    Close() error
//	}
//
// # Available Backends
//
//   - store/memory: in-memory store for development and testing
//   - store/redis: Redis backend sharing the process's key-value connection
//
// # Usage
//
//	kvs := kv.New(cfg.Redis.URL)
//	if err := kvs.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	s := redisstore.New(kvs.Client())
package store
