// Package desk wires the core desk components into one service boundary.
//
// # Overview
//
// Service composes the agent directory, conversation registry, message
// log, and routing engine behind the operations the gateway and admin
// tooling consume. Presentation layers never touch the core packages
// directly; everything flows through here.
//
// # Operations
//
//   - OnCustomerMessage: inbound traffic, conversation find-or-open
//   - OnAgentReply: outbound agent message, flips the conversation to waiting
//   - Transfer / AutoSuggest: hand-offs via the routing engine
//   - Resolve / Reopen / MarkRead: lifecycle
//   - GetConversation / ListConversations / Messages: reads
//   - Authenticate / GetAgent / ListAgents / AgentLoad / SetAgentAvailability: directory
//
// # Mirroring
//
// When constructed with an Archive or events.Publisher, every appended
// message is mirrored onto a background goroutine: archived to SQLite
// and published to the broker. The mirror queue is bounded and appends
// never block on it; under sustained overload the mirror copy is
// dropped and the in-memory log stays authoritative. Archiving and
// publishing are best-effort throughout: failures are logged and never
// surfaced to the caller.
//
// # Capacity Accounting
//
// Resolve releases the owning agent's capacity slot; Reopen re-reserves
// it, falling back to the unassigned pool when the agent has since gone
// offline or filled up. Together with the routing engine's reservation
// protocol this keeps each agent's active count equal to the open
// conversations it owns.
package desk
