// Package directory is the authoritative registry of human support agents.
//
// # Overview
//
// The directory owns Agent records: identity, role label, availability,
// and the number of conversations each agent currently holds. The routing
// engine consults it before every transfer; the gateway uses it for login
// and for the agent-load view.
//
// # Capacity slots
//
// An agent's ActiveChats count is the number of conversations it owns.
// The count changes only through two operations:
//
//   - ReserveSlot(agentID): atomic offline + capacity check, then increment
//   - ReleaseSlot(agentID): decrement, floored at zero
//
// ReserveSlot is all-or-nothing: a failed precondition leaves the record
// untouched. This is what lets the routing engine treat "reserve on the
// target, release on the source" as the unit of capacity accounting.
//
// # Availability
//
// Available, Busy, and Offline. Offline agents can never be the target of
// a reservation. Setting an agent Offline does not move or drop the
// conversations it already owns.
//
// # Lifecycle
//
// Agents are provisioned with Upsert (typically from config at startup or
// an external directory sync) and are never deleted, only set Offline.
// Upsert preserves the ActiveChats count of an existing record so a
// re-sync cannot corrupt capacity accounting.
package directory
