// Package event is the process's pub/sub bus.
//
// A [Bus] keeps a per-process registry of handlers on top of a [Transport]:
// [RedisTransport] for cross-process delivery, [MemoryTransport] for a
// single process and tests. Every message travels as an [Envelope]
// carrying the publish timestamp and the JSON-encoded data.
//
// Four channel kinds have fixed payloads: [ChannelEnrollment],
// [ChannelProgress], [ChannelModuleCompletion] and the per-user channel
// built by [UserChannel]. Use [On] to subscribe with a typed payload.
//
// Delivery is at-most-once per subscribing process. A publish with no
// subscribers anywhere is dropped and nothing replays it later.
package event
