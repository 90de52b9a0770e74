// Package redis implements store.Store on Redis. It shares the process's
// single Redis connection: the caller passes the client owned by kv.Store
// and keeps ownership of its lifecycle.
//
// Layout:
//
//	herald:job:{id}        Hash   job fields; "payload" holds {type,email,data}
//	herald:jobs:waiting    ZSet   rank*1e13 + seq  (ZPOPMIN = next job)
//	herald:jobs:delayed    ZSet   RunAt in ms
//	herald:jobs:active     Set    claimed job IDs
//	herald:jobs:seq        String FIFO sequence
//	herald:jobs:completed  String completed counter
//	herald:failed:{id}     Hash   failed entry
//	herald:failed_idx      ZSet   FailedAt in µs
//
// Dequeue runs as one Lua script: due delayed jobs are promoted to waiting,
// then the lowest-scored waiting job is popped and marked active.
package redis
