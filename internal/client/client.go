// Package client provides a Go SDK for talking to a tickloom cluster.
//
// A replica's reply is just another Message, delivered asynchronously
// and possibly much later than the request. This client hides
// transport and encoding behind Set/Get/Delete by registering itself
// on the bus as a process, tagging every request with a client-
// generated correlation id, and blocking on a channel until the
// matching reply lands or --deadline-ms elapses.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tickloom/internal/codec"
	"tickloom/internal/id"
	"tickloom/internal/messaging"
	"tickloom/internal/replica"
)

// Client is a single logical client process addressing one or more
// replicas over a messaging.Bus (in practice a *transport.HTTPBus).
type Client struct {
	self id.ProcessID
	bus  messaging.Bus
	cdc  codec.Codec
	log  zerolog.Logger

	mu      sync.Mutex
	pending map[string]chan messaging.Message
}

// New returns a Client identified as self, sending over bus, and
// registers the Client on bus as self's Inbox. The caller is
// responsible for mounting bus's inbound route (if any) — see
// cmd/client for the HTTPBus wiring.
func New(self id.ProcessID, bus messaging.Bus, cdc codec.Codec, log zerolog.Logger) *Client {
	c := &Client{self: self, bus: bus, cdc: cdc, log: log, pending: make(map[string]chan messaging.Message)}
	bus.Register(self, c)
	return c
}

// Deliver implements messaging.Inbox.
func (c *Client) Deliver(m messaging.Message) { c.route(m) }

// DeliverNow implements messaging.Inbox.
func (c *Client) DeliverNow(m messaging.Message) { c.route(m) }

func (c *Client) route(m messaging.Message) {
	c.mu.Lock()
	ch, ok := c.pending[m.CorrelationID]
	if ok {
		delete(c.pending, m.CorrelationID)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Debug().Str("correlation_id", m.CorrelationID).Msg("client: reply for unknown or expired request")
		return
	}
	ch <- m
}

// ErrNotFound is returned by Get for a key with no live value.
var ErrNotFound = fmt.Errorf("key not found")

// APIError carries the reason string a replica sent back with a
// *_ERR reply.
type APIError struct {
	Reason string
}

func (e *APIError) Error() string { return fmt.Sprintf("replica error: %s", e.Reason) }

// roundTrip sends req to coordinator tagged with a fresh correlation
// id, and blocks until a reply with that id arrives or deadline
// elapses, whichever is first.
func (c *Client) roundTrip(ctx context.Context, coordinator id.ProcessID, msgType messaging.MessageType, req any, deadline time.Duration) (messaging.Message, error) {
	payload, err := c.cdc.Encode(req)
	if err != nil {
		return messaging.Message{}, fmt.Errorf("client: encode request: %w", err)
	}

	corrID := uuid.NewString()
	ch := make(chan messaging.Message, 1)
	c.mu.Lock()
	c.pending[corrID] = ch
	c.mu.Unlock()

	if err := c.bus.Send(messaging.Message{
		Source:        c.self,
		Destination:   coordinator,
		PeerType:      messaging.PeerClient,
		MessageType:   msgType,
		Payload:       payload,
		CorrelationID: corrID,
	}); err != nil {
		c.mu.Lock()
		delete(c.pending, corrID)
		c.mu.Unlock()
		return messaging.Message{}, fmt.Errorf("client: send: %w", err)
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	// A bus that buffers inbound envelopes until Pump (HTTPBus) is
	// pumped here while waiting: a client has no tick loop to do it.
	pumper, _ := c.bus.(interface{ Pump() })
	poll := time.NewTicker(time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case m := <-ch:
			return m, nil
		case <-poll.C:
			if pumper != nil {
				pumper.Pump()
			}
		case <-timer.C:
			c.mu.Lock()
			delete(c.pending, corrID)
			c.mu.Unlock()
			return messaging.Message{}, fmt.Errorf("client: no reply from %s within %s", coordinator.Name, deadline)
		case <-ctx.Done():
			c.mu.Lock()
			delete(c.pending, corrID)
			c.mu.Unlock()
			return messaging.Message{}, ctx.Err()
		}
	}
}

// Set stores key=value at coordinator under clientTimestamp, waiting
// up to deadline for the quorum outcome.
func (c *Client) Set(ctx context.Context, coordinator id.ProcessID, key, value []byte, clientTimestamp int64, deadline time.Duration) error {
	reply, err := c.roundTrip(ctx, coordinator, replica.ClientSet, replica.ClientSetRequest{
		Key: key, Value: value, ClientTimestamp: clientTimestamp,
	}, deadline)
	if err != nil {
		return err
	}
	if reply.MessageType == replica.ClientSetErr {
		var ack replica.ClientAck
		_ = c.cdc.Decode(reply.Payload, &ack)
		return &APIError{Reason: ack.Reason}
	}
	return nil
}

// Get retrieves key from coordinator, waiting up to deadline for the
// quorum outcome. Returns ErrNotFound if the winning version is a
// tombstone or absent.
func (c *Client) Get(ctx context.Context, coordinator id.ProcessID, key []byte, deadline time.Duration) ([]byte, error) {
	reply, err := c.roundTrip(ctx, coordinator, replica.ClientGet, replica.ClientGetRequest{Key: key}, deadline)
	if err != nil {
		return nil, err
	}
	if reply.MessageType == replica.ClientGetErr {
		var ack replica.ClientAck
		_ = c.cdc.Decode(reply.Payload, &ack)
		return nil, &APIError{Reason: ack.Reason}
	}
	var resp replica.ClientGetResponse
	if err := c.cdc.Decode(reply.Payload, &resp); err != nil {
		return nil, fmt.Errorf("client: decode response: %w", err)
	}
	if !resp.Found {
		return nil, ErrNotFound
	}
	return resp.Value, nil
}

// Delete removes key at coordinator, writing a tombstone under
// clientTimestamp, waiting up to deadline for the quorum outcome.
func (c *Client) Delete(ctx context.Context, coordinator id.ProcessID, key []byte, clientTimestamp int64, deadline time.Duration) error {
	reply, err := c.roundTrip(ctx, coordinator, replica.ClientDelete, replica.ClientDeleteRequest{
		Key: key, ClientTimestamp: clientTimestamp,
	}, deadline)
	if err != nil {
		return err
	}
	if reply.MessageType == replica.ClientDeleteErr {
		var ack replica.ClientAck
		_ = c.cdc.Decode(reply.Payload, &ack)
		return &APIError{Reason: ack.Reason}
	}
	return nil
}

var _ messaging.Inbox = (*Client)(nil)
