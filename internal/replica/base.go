// Package replica implements the base process runtime and the quorum
// register protocol built on top of it.
package replica

import (
	"fmt"

	"github.com/rs/zerolog"

	"tickloom/internal/clock"
	"tickloom/internal/codec"
	"tickloom/internal/id"
	"tickloom/internal/messaging"
	"tickloom/internal/storage"
	"tickloom/internal/waitinglist"
	"tickloom/internal/wire"
)

// Handler processes one inbound message. It returns nothing: handlers
// own their own reply-sending and their own error logging.
type Handler func(m messaging.Message)

// Base is the shared embedded struct every algorithm variant builds
// on: the handler table, the uninitialised-message gate, the
// persistence helpers, and BroadcastToAllReplicas.
type Base struct {
	ID    id.ProcessID
	Peers []id.ProcessID

	Bus     messaging.Bus
	Codec   codec.Codec
	Storage *storage.Engine
	Waiting *waitinglist.WaitingList
	Log     zerolog.Logger

	TimeoutTicks clock.Tick

	handlers    map[messaging.MessageType]Handler
	initialised bool

	inbox     []messaging.Message
	now       clock.Tick
	corrSeq   uint64
	corrToReq map[string]waitinglist.RequestID
}

// NewBase constructs a Base with an empty handler table. Callers
// populate handlers via RegisterHandler before calling Init — the
// handler table must be fully populated before a replica is
// registered with the bus.
func NewBase(self id.ProcessID, peers []id.ProcessID, bus messaging.Bus, c codec.Codec, st *storage.Engine, timeoutTicks clock.Tick, log zerolog.Logger) *Base {
	return &Base{
		ID:           self,
		Peers:        peers,
		Bus:          bus,
		Codec:        c,
		Storage:      st,
		Waiting:      waitinglist.New(),
		Log:          log,
		TimeoutTicks: timeoutTicks,
		handlers:     make(map[messaging.MessageType]Handler),
		corrToReq:    make(map[string]waitinglist.RequestID),
	}
}

// RegisterHandler installs a handler for a message type. Must be
// called before Init.
func (b *Base) RegisterHandler(t messaging.MessageType, h Handler) {
	b.handlers[t] = h
}

// Init registers this replica with the bus and fires onInit; the
// replica becomes initialised exactly once, when onInit reports
// success. Until then, inbound messages are rejected by the
// uninitialised-message hook.
func (b *Base) Init(onInit func(ready func(error))) {
	b.Bus.Register(b.ID, b)
	onInit(func(err error) {
		if err != nil {
			b.Log.Error().Err(err).Str("replica", b.ID.Name).Msg("on_init failed")
			return
		}
		b.initialised = true
	})
}

// Deliver implements messaging.Inbox: an ordinary cross-process
// message, buffered for processing on this replica's own next Tick.
func (b *Base) Deliver(m messaging.Message) {
	b.inbox = append(b.inbox, m)
}

// DeliverNow implements messaging.Inbox: a self-send, processed
// synchronously before the sender's call stack unwinds.
func (b *Base) DeliverNow(m messaging.Message) {
	b.dispatch(m)
}

// Tick implements clock.Tickable: first the waiting list's deadline
// sweep runs, then every message buffered by Deliver since the last
// Tick is dispatched, in arrival order. Registration order with the
// driver (storage engine, then this Base) means any storage
// completion from this same tick has already enqueued its reply
// before the waiting-list sweep below sees it.
func (b *Base) Tick(now clock.Tick) {
	b.now = now
	b.Waiting.Tick(now)

	queue := b.inbox
	b.inbox = nil
	for _, m := range queue {
		b.dispatch(m)
	}
}

func (b *Base) dispatch(m messaging.Message) {
	if !b.initialised {
		b.onUninitialisedMessage(m)
		return
	}
	h, ok := b.handlers[m.MessageType]
	if !ok {
		err := fmt.Errorf("%s: %w", m.MessageType, wire.ErrUnknownHandler)
		b.Log.Warn().Err(err).Str("from", m.Source.Name).Msg("dropped message")
		return
	}
	h(m)
}

// onUninitialisedMessage is the default uninitialised-message hook:
// log and drop.
func (b *Base) onUninitialisedMessage(m messaging.Message) {
	err := fmt.Errorf("%s: %w", m.MessageType, wire.ErrNotInitialised)
	b.Log.Warn().Err(err).Str("from", m.Source.Name).Msg("dropped message")
}

// Persist encodes obj through Codec and writes it to key via Storage,
// invoking exactly one of onSuccess/onFailure once the write resolves.
func (b *Base) Persist(key []byte, obj any, onSuccess func(), onFailure func(error)) {
	data, err := b.Codec.Encode(obj)
	if err != nil {
		onFailure(fmt.Errorf("encode: %w", err))
		return
	}
	f := b.Storage.Put(key, data)
	f.OnComplete(func(_ bool, err error) {
		if err != nil {
			onFailure(err)
			return
		}
		onSuccess()
	})
}

// Load reads key via Storage and decodes it through Codec into out,
// invoking onSuccess(found) or onFailure(err) once the read resolves.
func (b *Base) Load(key []byte, out any, onSuccess func(found bool), onFailure func(error)) {
	f := b.Storage.Get(key)
	f.OnComplete(func(val []byte, err error) {
		if err != nil {
			onFailure(err)
			return
		}
		if val == nil {
			onSuccess(false)
			return
		}
		if err := b.Codec.Decode(val, out); err != nil {
			onFailure(fmt.Errorf("decode: %w", err))
			return
		}
		onSuccess(true)
	})
}

// BroadcastToAllReplicas sends buildMessage(dest, correlationID) to
// every node in peers ∪ {self}, registering one waiting-list entry per
// destination with a deadline of now+TimeoutTicks. Each entry's
// response or timeout/cancellation is forwarded to onResponse/onTimeout
// — typically closures over a shared *waitinglist.QuorumCallback[T] —
// so the caller decides when the round as a whole is done.
func (b *Base) BroadcastToAllReplicas(
	buildMessage func(dest id.ProcessID, correlationID string) messaging.Message,
	onResponse func(from id.ProcessID, payload []byte),
	onTimeout func(err error),
) {
	targets := make([]id.ProcessID, 0, len(b.Peers)+1)
	targets = append(targets, b.Peers...)
	targets = append(targets, b.ID)

	deadline := b.now + b.TimeoutTicks
	for _, dest := range targets {
		b.corrSeq++
		corrID := fmt.Sprintf("%s-%d", b.ID.Name, b.corrSeq)

		reqID := b.Waiting.Add(deadline,
			func(from id.ProcessID, payload []byte) { onResponse(from, payload) },
			func(err error) {
				delete(b.corrToReq, corrID)
				onTimeout(err)
			},
			func() bool { return true },
		)
		b.corrToReq[corrID] = reqID

		msg := buildMessage(dest, corrID)
		if err := b.Bus.Send(msg); err != nil {
			b.Log.Warn().Err(err).Str("to", dest.Name).Msg("broadcast send failed")
		}
	}
}

// ResolveResponse completes the waiting-list entry registered under
// corrID, if one is still pending — the bridge between an inbound
// _OK/_ERR response handler (which only has the wire-level
// CorrelationID) and BroadcastToAllReplicas's per-destination
// registration. Late responses for a correlation id no longer pending
// (already quorum-completed, cancelled, or timed out) are dropped.
func (b *Base) ResolveResponse(corrID string, from id.ProcessID, payload []byte) {
	reqID, ok := b.corrToReq[corrID]
	if !ok {
		return
	}
	delete(b.corrToReq, corrID)
	b.Waiting.HandleResponse(reqID, from, payload)
}

var _ messaging.Inbox = (*Base)(nil)
var _ clock.Tickable = (*Base)(nil)
