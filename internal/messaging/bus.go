package messaging

import "tickloom/internal/id"

// Inbox is how a Bus hands messages to a registered process.
//
// Deliver buffers m for processing on the recipient's next tick — the
// ordinary path for any message that crossed the bus. DeliverNow
// processes m synchronously, within the caller's stack frame; only a
// Bus's self-send branch (destination == source) ever calls it: a
// coordinator broadcasting to peers ∪ {self} must see its own reply
// before BroadcastToAllReplicas returns, not on some later tick.
type Inbox interface {
	Deliver(m Message)
	DeliverNow(m Message)
}

// Bus is the abstract message transport every replica depends on.
// Register subscribes a process's Inbox; Send delivers a message to
// its destination on the destination's next tick, except for a
// self-send, which every Bus implementation must deliver synchronously
// within the current call.
//
// Ordering: FIFO per (source, destination) pair; no ordering guarantee
// across different pairs. Reliability: best-effort — a Bus may drop a
// message, but it must never duplicate one within a single delivery.
type Bus interface {
	Register(proc id.ProcessID, inbox Inbox)
	Send(m Message) error
}
