package messaging

import (
	"fmt"
	"sync"

	"tickloom/internal/clock"
	"tickloom/internal/id"
)

// SimulatedBus is a deterministic, in-memory Bus used by tests and by
// internal/simulation. It is itself a clock.Tickable (see Tick below)
// and must be registered with the driver before any replica so that a
// message sent during tick T is only handed to its destination's
// Inbox at the start of tick T+1 — never within the same Advance
// step it was sent in.
type SimulatedBus struct {
	mu       sync.Mutex
	inboxes  map[string]Inbox
	staging  map[string][]Message
	dropFrom map[string]bool
}

// NewSimulatedBus returns an empty bus with no registered processes.
func NewSimulatedBus() *SimulatedBus {
	return &SimulatedBus{
		inboxes:  make(map[string]Inbox),
		staging:  make(map[string][]Message),
		dropFrom: make(map[string]bool),
	}
}

// Register subscribes proc to receive messages via inbox.
func (b *SimulatedBus) Register(proc id.ProcessID, inbox Inbox) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inboxes[proc.Name] = inbox
}

// Partition marks proc as unreachable: every message destined for it or
// sent by it (other than a self-send) is silently dropped until Heal is
// called. This is a deterministic
// stand-in for the bus's "losses are permitted" contract — a fixed,
// test-controlled drop rather than a probabilistic one, modeling a
// standing network partition rather than a flaky link.
func (b *SimulatedBus) Partition(proc id.ProcessID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropFrom[proc.Name] = true
}

// Heal reverses a prior Partition call.
func (b *SimulatedBus) Heal(proc id.ProcessID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.dropFrom, proc.Name)
}

// Send implements Bus. A self-send (destination == source) bypasses
// staging entirely and is delivered synchronously via DeliverNow. An
// ordinary send is staged and only promoted to the destination's
// Inbox on this bus's next Tick.
func (b *SimulatedBus) Send(m Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if m.Destination.Equal(m.Source) {
		inbox, ok := b.inboxes[m.Destination.Name]
		if !ok {
			return fmt.Errorf("simulated bus: unknown process %q", m.Destination.Name)
		}
		inbox.DeliverNow(m)
		return nil
	}

	if b.dropFrom[m.Destination.Name] || b.dropFrom[m.Source.Name] {
		return nil
	}

	if _, ok := b.inboxes[m.Destination.Name]; !ok {
		return fmt.Errorf("simulated bus: unknown process %q", m.Destination.Name)
	}

	b.staging[m.Destination.Name] = append(b.staging[m.Destination.Name], m)
	return nil
}

// Tick promotes every message staged by the previous tick's Send
// calls into its destination's Inbox. Register this bus with the
// driver ahead of every replica so this promotion always happens
// before any replica processes its own inbound queue this step.
func (b *SimulatedBus) Tick(now clock.Tick) {
	b.mu.Lock()
	staged := b.staging
	b.staging = make(map[string][]Message)
	b.mu.Unlock()

	for dest, msgs := range staged {
		b.mu.Lock()
		inbox := b.inboxes[dest]
		b.mu.Unlock()
		if inbox == nil {
			continue
		}
		for _, m := range msgs {
			inbox.Deliver(m)
		}
	}
}
