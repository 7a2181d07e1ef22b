package replica

import (
	"bytes"
	"fmt"

	"tickloom/internal/id"
	"tickloom/internal/messaging"
	"tickloom/internal/waitinglist"
	"tickloom/internal/wire"
)

// QuorumRegister implements a quorum read/write register protocol:
// every key replicates across all N replicas (peers ∪ {self});
// Q = floor(N/2)+1 acks make a write durable or a read visible.
type QuorumRegister struct {
	*Base
}

// NewQuorumRegister wires both the coordinator-facing CLIENT_* and the
// replica-facing INTERNAL_* handlers onto base. Every replica runs
// both roles — whichever one a CLIENT_* request lands on acts as
// coordinator for it.
func NewQuorumRegister(base *Base) *QuorumRegister {
	q := &QuorumRegister{Base: base}
	base.RegisterHandler(ClientSet, q.handleClientSet)
	base.RegisterHandler(ClientGet, q.handleClientGet)
	base.RegisterHandler(ClientDelete, q.handleClientDelete)
	base.RegisterHandler(InternalWrite, q.handleInternalWrite)
	base.RegisterHandler(InternalWriteOK, q.handleInternalWriteResponse)
	base.RegisterHandler(InternalWriteErr, q.handleInternalWriteResponse)
	base.RegisterHandler(InternalRead, q.handleInternalRead)
	base.RegisterHandler(InternalReadOK, q.handleInternalReadResponse)
	base.RegisterHandler(InternalReadErr, q.handleInternalReadResponse)
	return q
}

func (q *QuorumRegister) replicaCount() int { return len(q.Peers) + 1 }
func (q *QuorumRegister) quorum() int       { return waitinglist.Quorum(q.replicaCount()) }

func (q *QuorumRegister) replyToClient(client messaging.Message, t messaging.MessageType, payload any) {
	data, err := q.Codec.Encode(payload)
	if err != nil {
		q.Log.Error().Err(err).Msg("failed to encode client reply")
		return
	}
	reply := messaging.Message{
		Source:        q.ID,
		Destination:   client.Source,
		PeerType:      messaging.PeerClient,
		MessageType:   t,
		Payload:       data,
		CorrelationID: client.CorrelationID,
	}
	if err := q.Bus.Send(reply); err != nil {
		q.Log.Warn().Err(err).Msg("failed to send client reply")
	}
}

// ---- coordinator side: writes ----

func (q *QuorumRegister) handleClientSet(m messaging.Message) {
	var req ClientSetRequest
	if err := q.Codec.Decode(m.Payload, &req); err != nil {
		q.Log.Warn().Err(err).Msg("malformed CLIENT_SET")
		return
	}
	versioned := InternalVersioned{Value: req.Value, Timestamp: req.ClientTimestamp}
	q.coordinateWrite(m, req.Key, versioned, ClientSetOK, ClientSetErr)
}

func (q *QuorumRegister) handleClientDelete(m messaging.Message) {
	var req ClientDeleteRequest
	if err := q.Codec.Decode(m.Payload, &req); err != nil {
		q.Log.Warn().Err(err).Msg("malformed CLIENT_DELETE")
		return
	}
	versioned := InternalVersioned{Timestamp: req.ClientTimestamp, Tombstone: true}
	q.coordinateWrite(m, req.Key, versioned, ClientDeleteOK, ClientDeleteErr)
}

func (q *QuorumRegister) coordinateWrite(client messaging.Message, key []byte, versioned InternalVersioned, okType, errType messaging.MessageType) {
	cb := waitinglist.NewQuorumCallback[bool](q.replicaCount(), q.quorum(),
		func(map[string]bool) {
			q.replyToClient(client, okType, ClientAck{})
		},
		func(err error) {
			q.replyToClient(client, errType, ClientAck{Reason: err.Error()})
		},
	)
	q.broadcastWrite(key, versioned, cb)
}

func (q *QuorumRegister) broadcastWrite(key []byte, versioned InternalVersioned, cb *waitinglist.QuorumCallback[bool]) {
	q.BroadcastToAllReplicas(
		func(dest id.ProcessID, corrID string) messaging.Message {
			payload, _ := q.Codec.Encode(InternalWriteRequest{Key: key, Value: versioned})
			return messaging.Message{
				Source: q.ID, Destination: dest, PeerType: messaging.PeerServer,
				MessageType: InternalWrite, Payload: payload, CorrelationID: corrID,
			}
		},
		func(from id.ProcessID, payload []byte) {
			var resp InternalWriteResponse
			if err := q.Codec.Decode(payload, &resp); err != nil {
				cb.DeliverFailure(from, err)
				return
			}
			if resp.Reason != "" {
				cb.DeliverFailure(from, fmt.Errorf("%s: %w", resp.Reason, wire.ErrStorageFailed))
				return
			}
			cb.DeliverSuccess(from, true)
		},
		cb.Expire,
	)
}

// ---- replica side: writes ----

func (q *QuorumRegister) handleInternalWrite(m messaging.Message) {
	var req InternalWriteRequest
	if err := q.Codec.Decode(m.Payload, &req); err != nil {
		q.Log.Warn().Err(err).Msg("malformed INTERNAL_WRITE")
		return
	}
	incoming := toWireVersioned(req.Value)

	q.loadCurrent(req.Key, func(cur *wire.VersionedValue, err error) {
		if err != nil {
			q.replyInternalWrite(m, err)
			return
		}
		if !incoming.IsNewerThan(cur) {
			// Not accepted — still an idempotent no-op ack.
			q.replyInternalWrite(m, nil)
			return
		}
		q.Persist(req.Key, req.Value, func() {
			q.replyInternalWrite(m, nil)
		}, func(err error) {
			q.replyInternalWrite(m, err)
		})
	})
}

func (q *QuorumRegister) replyInternalWrite(m messaging.Message, err error) {
	resp := InternalWriteResponse{}
	t := InternalWriteOK
	if err != nil {
		resp.Reason = err.Error()
		t = InternalWriteErr
	}
	payload, encErr := q.Codec.Encode(resp)
	if encErr != nil {
		q.Log.Error().Err(encErr).Msg("failed to encode INTERNAL_WRITE reply")
		return
	}
	reply := messaging.Message{
		Source: q.ID, Destination: m.Source, PeerType: messaging.PeerServer,
		MessageType: t, Payload: payload, CorrelationID: m.CorrelationID,
	}
	if sendErr := q.Bus.Send(reply); sendErr != nil {
		q.Log.Warn().Err(sendErr).Msg("failed to send INTERNAL_WRITE reply")
	}
}

func (q *QuorumRegister) handleInternalWriteResponse(m messaging.Message) {
	var resp InternalWriteResponse
	if err := q.Codec.Decode(m.Payload, &resp); err != nil {
		q.Log.Warn().Err(err).Msg("malformed INTERNAL_WRITE response")
		return
	}
	q.ResolveResponse(m.CorrelationID, m.Source, m.Payload)
}

// ---- coordinator side: reads ----

func (q *QuorumRegister) handleClientGet(m messaging.Message) {
	var req ClientGetRequest
	if err := q.Codec.Decode(m.Payload, &req); err != nil {
		q.Log.Warn().Err(err).Msg("malformed CLIENT_GET")
		return
	}

	cb := waitinglist.NewQuorumCallback[InternalReadResponse](q.replicaCount(), q.quorum(),
		func(responses map[string]InternalReadResponse) {
			q.finishRead(m, req.Key, responses)
		},
		func(err error) {
			q.replyToClient(m, ClientGetErr, ClientGetResponse{Reason: err.Error()})
		},
	)

	q.BroadcastToAllReplicas(
		func(dest id.ProcessID, corrID string) messaging.Message {
			payload, _ := q.Codec.Encode(InternalReadRequest{Key: req.Key})
			return messaging.Message{
				Source: q.ID, Destination: dest, PeerType: messaging.PeerServer,
				MessageType: InternalRead, Payload: payload, CorrelationID: corrID,
			}
		},
		func(from id.ProcessID, payload []byte) {
			var resp InternalReadResponse
			if err := q.Codec.Decode(payload, &resp); err != nil {
				cb.DeliverFailure(from, err)
				return
			}
			if resp.Reason != "" {
				cb.DeliverFailure(from, fmt.Errorf("%s: %w", resp.Reason, wire.ErrStorageFailed))
				return
			}
			cb.DeliverSuccess(from, resp)
		},
		cb.Expire,
	)
}

// finishRead selects the LWW winner across the quorum, replies to the
// client, and fires fire-and-forget read-repair to any replica whose
// observed value is staler than the winner.
func (q *QuorumRegister) finishRead(client messaging.Message, key []byte, responses map[string]InternalReadResponse) {
	var winner *wire.VersionedValue
	laggards := make([]string, 0, len(responses))

	for name, resp := range responses {
		if !resp.Found {
			laggards = append(laggards, name)
			continue
		}
		v := toWireVersioned(resp.Value)
		if v.IsNewerThan(winner) {
			winner = &v
		}
	}

	if winner == nil {
		q.replyToClient(client, ClientGetOK, ClientGetResponse{Found: false})
		return
	}

	for name, resp := range responses {
		if !resp.Found {
			continue
		}
		v := toWireVersioned(resp.Value)
		if v.Timestamp < winner.Timestamp || (v.Timestamp == winner.Timestamp && bytes.Compare(v.Value, winner.Value) != 0) {
			laggards = append(laggards, name)
		}
	}

	if winner.Tombstone {
		q.replyToClient(client, ClientGetOK, ClientGetResponse{Found: false})
	} else {
		q.replyToClient(client, ClientGetOK, ClientGetResponse{Value: winner.Value, Found: true})
	}

	if len(laggards) > 0 {
		q.readRepair(key, *winner, laggards)
	}
}

// readRepair issues a fire-and-forget INTERNAL_WRITE of the winning
// value to every replica (peers ∪ {self}); replicas that already hold
// the winner treat it as an idempotent no-op, and only a named laggard's
// reply can count as a failure. It does not gate the client reply, and
// its own quorum callback's outcome is only logged, never surfaced.
func (q *QuorumRegister) readRepair(key []byte, winner wire.VersionedValue, laggardNames []string) {
	targets := make(map[string]bool, len(laggardNames))
	for _, n := range laggardNames {
		targets[n] = true
	}

	versioned := InternalVersioned{Value: winner.Value, Timestamp: winner.Timestamp, Tombstone: winner.Tombstone}
	cb := waitinglist.NewQuorumCallback[bool](q.replicaCount(), 1,
		func(map[string]bool) {},
		func(err error) {
			q.Log.Debug().Err(err).Msg("read-repair round did not complete")
		},
	)

	q.BroadcastToAllReplicas(
		func(dest id.ProcessID, corrID string) messaging.Message {
			payload, _ := q.Codec.Encode(InternalWriteRequest{Key: key, Value: versioned})
			return messaging.Message{
				Source: q.ID, Destination: dest, PeerType: messaging.PeerServer,
				MessageType: InternalWrite, Payload: payload, CorrelationID: corrID,
			}
		},
		func(from id.ProcessID, payload []byte) {
			if !targets[from.Name] {
				cb.DeliverSuccess(from, true)
				return
			}
			var resp InternalWriteResponse
			if err := q.Codec.Decode(payload, &resp); err != nil || resp.Reason != "" {
				cb.DeliverFailure(from, wire.ErrStorageFailed)
				return
			}
			cb.DeliverSuccess(from, true)
		},
		cb.Expire,
	)
}

// ---- replica side: reads ----

func (q *QuorumRegister) handleInternalRead(m messaging.Message) {
	var req InternalReadRequest
	if err := q.Codec.Decode(m.Payload, &req); err != nil {
		q.Log.Warn().Err(err).Msg("malformed INTERNAL_READ")
		return
	}
	q.loadCurrent(req.Key, func(cur *wire.VersionedValue, err error) {
		if err != nil {
			q.replyInternalRead(m, InternalReadResponse{Reason: err.Error()})
			return
		}
		if cur == nil {
			q.replyInternalRead(m, InternalReadResponse{Found: false})
			return
		}
		q.replyInternalRead(m, InternalReadResponse{
			Found: true,
			Value: InternalVersioned{Value: cur.Value, Timestamp: cur.Timestamp, Tombstone: cur.Tombstone},
		})
	})
}

func (q *QuorumRegister) replyInternalRead(m messaging.Message, resp InternalReadResponse) {
	t := InternalReadOK
	if resp.Reason != "" {
		t = InternalReadErr
	}
	payload, err := q.Codec.Encode(resp)
	if err != nil {
		q.Log.Error().Err(err).Msg("failed to encode INTERNAL_READ reply")
		return
	}
	reply := messaging.Message{
		Source: q.ID, Destination: m.Source, PeerType: messaging.PeerServer,
		MessageType: t, Payload: payload, CorrelationID: m.CorrelationID,
	}
	if sendErr := q.Bus.Send(reply); sendErr != nil {
		q.Log.Warn().Err(sendErr).Msg("failed to send INTERNAL_READ reply")
	}
}

func (q *QuorumRegister) handleInternalReadResponse(m messaging.Message) {
	q.ResolveResponse(m.CorrelationID, m.Source, m.Payload)
}

// ---- shared storage helpers ----

func (q *QuorumRegister) loadCurrent(key []byte, cb func(cur *wire.VersionedValue, err error)) {
	var stored InternalVersioned
	q.Load(key, &stored, func(found bool) {
		if !found {
			cb(nil, nil)
			return
		}
		v := toWireVersioned(stored)
		cb(&v, nil)
	}, func(err error) {
		cb(nil, err)
	})
}

func toWireVersioned(v InternalVersioned) wire.VersionedValue {
	return wire.VersionedValue{Value: v.Value, Timestamp: v.Timestamp, Tombstone: v.Tombstone}
}
