// Package registry owns conversation metadata.
//
// # Overview
//
// A Conversation tracks the customer, lifecycle status, unread count, and
// the current handler — the party responsible for it. The message timeline
// itself lives in the message log; the registry never stores message
// bodies.
//
// # Lifecycle
//
//	Active ⇄ Waiting → Resolved
//
// TouchOnInbound opens a conversation on the first inbound message and
// flips Waiting back to Active on later ones. Resolve is terminal:
// resolved conversations accept no handler transitions and are skipped by
// the open-conversation index, so new inbound traffic from the same
// customer opens a fresh conversation instead of resurrecting the closed
// case. Reopen exists as an explicit operator action.
//
// # Handlers
//
// Unassigned → Automated → Agent(a) and Agent(a) → Agent(b) are legal.
// There is no path back to Unassigned: once someone owns a conversation,
// somebody always does. SetHandler is reserved for the routing engine,
// which is the only component allowed to move ownership.
//
// # Concurrency
//
// All operations take the registry lock, so concurrent operations on the
// same conversation observe a single total order. Invariant maintained
// throughout: Status == Resolved implies UnreadCount == 0.
package registry
