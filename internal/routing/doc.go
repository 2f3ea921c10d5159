// Package routing moves conversation ownership between handlers.
//
// # Overview
//
// The Engine is the only component allowed to change a conversation's
// handler. A transfer touches two independently owned resources — the
// conversation record and the target agent's capacity slot — and the
// engine's job is to keep them consistent: after any sequence of
// transfers, the sum of all ActiveChats counts equals the number of
// agent-owned conversations.
//
// # Transfer protocol
//
//  1. Check the conversation exists and is not resolved.
//  2. Reserve a slot on the target (atomic offline + capacity check).
//  3. Swap the handler in the registry, learning the actual previous owner.
//  4. Release the displaced owner's slot.
//  5. Append a system audit message and build the TransferRecord.
//
// Failures between steps 2 and 4 release the reservation before the error
// is returned. Step 3 is the linearization point: racing transfers on the
// same conversation each release exactly the owner they displaced, so
// capacity conservation holds without a lock spanning both stores. A
// rollback that itself fails is ErrCapacityRollback — an invariant breach
// that must surface to an operator.
//
// # Audit
//
// Every successful transfer appends a system message naming the previous
// handler, the new agent, the priority, and the free-text note. Once
// ownership has moved, audit failure does not undo the transfer.
package routing
