// Package simulation gives every core package a deterministic way to
// exercise multi-replica behavior without real sockets or real time:
// N replicas wired over one SimulatedBus and one clock.Driver, with a
// recording inbox standing in for a client. Used by internal/replica's
// scenario tests.
package simulation

import (
	"hash/fnv"

	"github.com/rs/zerolog"

	"tickloom/internal/clock"
	"tickloom/internal/codec"
	"tickloom/internal/id"
	"tickloom/internal/messaging"
	"tickloom/internal/replica"
	"tickloom/internal/storage"
)

// Node is one simulated replica process.
type Node struct {
	ID       id.ProcessID
	Base     *replica.Base
	Register *replica.QuorumRegister
	Storage  *storage.Engine
	Backend  storage.Backend
}

// Cluster is a set of replicas sharing one SimulatedBus and one
// clock.Driver, registered in storage-engine-then-base order so a
// storage completion's reply is enqueued before the same tick's
// replica dispatch runs.
type Cluster struct {
	Driver *clock.Driver
	Bus    *messaging.SimulatedBus
	Nodes  map[string]*Node
	order  []string
}

// Options configures a Cluster's per-node storage behavior.
type Options struct {
	StorageDelay       clock.Tick
	StorageFailureRate float64
	TimeoutTicks       clock.Tick
}

// NewCluster builds a cluster of len(names) replicas, each aware of
// every other as a peer, all driven by one shared Driver.
func NewCluster(names []string, opts Options) *Cluster {
	driver := clock.NewDriver()
	bus := messaging.NewSimulatedBus()
	driver.Register(bus)

	ids := make([]id.ProcessID, len(names))
	for i, n := range names {
		ids[i] = id.Of(n)
	}

	c := &Cluster{Driver: driver, Bus: bus, Nodes: make(map[string]*Node, len(ids))}
	for _, self := range ids {
		peers := make([]id.ProcessID, 0, len(ids)-1)
		for _, other := range ids {
			if !other.Equal(self) {
				peers = append(peers, other)
			}
		}

		backend := storage.NewMemoryBackend()
		engine := storage.NewEngine(backend, opts.StorageDelay, opts.StorageFailureRate, seedFor(self.Name), zerolog.Nop())
		driver.Register(engine)

		base := replica.NewBase(self, peers, bus, codec.JSONCodec{}, engine, opts.TimeoutTicks, zerolog.Nop())
		reg := replica.NewQuorumRegister(base)
		base.Init(func(ready func(error)) { ready(nil) })
		driver.Register(base)

		c.Nodes[self.Name] = &Node{ID: self, Base: base, Register: reg, Storage: engine, Backend: backend}
		c.order = append(c.order, self.Name)
	}
	return c
}

// seedFor derives a deterministic per-node PRNG seed from its name so
// two runs with the same node names reproduce the same failure
// injection sequence.
func seedFor(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}

// Partition isolates a node's bus traffic until Heal is called.
func (c *Cluster) Partition(name string) {
	c.Bus.Partition(c.Nodes[name].ID)
}

// Heal reverses a prior Partition.
func (c *Cluster) Heal(name string) {
	c.Bus.Heal(c.Nodes[name].ID)
}

// Advance steps the cluster's shared driver n ticks.
func (c *Cluster) Advance(n int) {
	c.Driver.Advance(n)
}

// ClientInbox is a recording Inbox that stands in for a real client
// process: every reply addressed to it is captured for inspection.
type ClientInbox struct {
	ID       id.ProcessID
	Received []messaging.Message
}

// NewClient registers a new client-role process on the cluster's bus
// and returns its recording inbox.
func (c *Cluster) NewClient(name string) *ClientInbox {
	client := &ClientInbox{ID: id.Of(name)}
	c.Bus.Register(client.ID, client)
	return client
}

func (ci *ClientInbox) Deliver(m messaging.Message)    { ci.Received = append(ci.Received, m) }
func (ci *ClientInbox) DeliverNow(m messaging.Message) { ci.Received = append(ci.Received, m) }

// Last returns the most recently received message, or the zero
// Message and false if none has arrived yet.
func (ci *ClientInbox) Last() (messaging.Message, bool) {
	if len(ci.Received) == 0 {
		return messaging.Message{}, false
	}
	return ci.Received[len(ci.Received)-1], true
}

// Send sends a CLIENT_* request from this client's identity to the
// given coordinator.
func (c *Cluster) Send(client *ClientInbox, coordinator string, msgType messaging.MessageType, payload any) error {
	data, err := codec.JSONCodec{}.Encode(payload)
	if err != nil {
		return err
	}
	return c.Bus.Send(messaging.Message{
		Source:        client.ID,
		Destination:   c.Nodes[coordinator].ID,
		PeerType:      messaging.PeerClient,
		MessageType:   msgType,
		Payload:       data,
		CorrelationID: "client-corr",
	})
}
