package redis

// Redis key naming conventions for herald data.
// All keys are prefixed with "herald:" to avoid collisions with the
// response cache ("cache:") and application keys.

const keyPrefix = "herald:"

// ── Job keys ──

// jobKeyPrefix is passed to Lua scripts that address job hashes by ID.
const jobKeyPrefix = keyPrefix + "job:"

// jobKey returns the key for a job entity: herald:job:{id}
func jobKey(id string) string { return jobKeyPrefix + id }

// waitingKey is the Sorted Set of waiting job IDs scored by
// rank*rankStride + seq, so ZPOPMIN yields the highest priority, oldest job.
const waitingKey = keyPrefix + "jobs:waiting"

// delayedKey is the Sorted Set of delayed job IDs scored by RunAt (ms).
const delayedKey = keyPrefix + "jobs:delayed"

// activeKey is the Set of job IDs currently claimed by a worker.
const activeKey = keyPrefix + "jobs:active"

// seqKey is the counter that orders jobs within a priority tier.
const seqKey = keyPrefix + "jobs:seq"

// completedKey counts jobs that finished successfully.
const completedKey = keyPrefix + "jobs:completed"

// ── Failed list keys ──

// failedKey returns the key for a failed entry: herald:failed:{jobID}
func failedKey(jobID string) string { return keyPrefix + "failed:" + jobID }

// failedIndexKey is the Sorted Set of failed job IDs scored by FailedAt (µs).
const failedIndexKey = keyPrefix + "failed_idx"
