// Package msglog is the append-only store for conversation messages.
//
// # Overview
//
// The log is the sole source of truth for a conversation's timeline. There
// is no mutation or deletion API: corrections are new messages, and the
// routing engine's transfer audit entries are ordinary messages with the
// system sender.
//
// # Ordering
//
// Timestamps are assigned by the log, not the caller, under a
// per-conversation lock. Each conversation carries its own monotonic
// clock: an append's SentAt is strictly later than the previous entry's
// even if the wall clock stalls or steps backwards, with ties broken by
// arrival order. Tail therefore always returns a prefix-consistent,
// strictly increasing sequence regardless of concurrent appends to other
// conversations.
//
// # Delivery fan-out
//
// Every successful append is mirrored to registered DeliveryFunc callbacks
// so the transport layer (websocket hub, event publisher) can fan messages
// out without polling. Callbacks run synchronously under the
// conversation's append lock, which is what preserves per-conversation
// delivery order; they must be non-blocking and must not re-enter the log.
package msglog
