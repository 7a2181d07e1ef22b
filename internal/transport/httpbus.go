// Package transport supplies HTTPBus, a concrete messaging.Bus over
// Gin (receive) and net/http.Client (send) — a minimal wire transport,
// not a hardened production one, kept as the collaborator cmd/server
// and cmd/client actually run over.
package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tickloom/internal/id"
	"tickloom/internal/messaging"
)

// wireMessage is the JSON-over-HTTP shape of messaging.Message.
// ProcessIDs travel as bare names — the receiving side reinterns them
// via id.Of, which is safe: equality is by name, and the intern map
// guarantees a stable Seq for repeated names (internal/id).
type wireMessage struct {
	Source        string `json:"source"`
	Destination   string `json:"destination"`
	PeerType      int    `json:"peer_type"`
	MessageType   string `json:"message_type"`
	Payload       []byte `json:"payload"`
	CorrelationID string `json:"correlation_id"`
}

func toWire(m messaging.Message) wireMessage {
	return wireMessage{
		Source:        m.Source.Name,
		Destination:   m.Destination.Name,
		PeerType:      int(m.PeerType),
		MessageType:   string(m.MessageType),
		Payload:       m.Payload,
		CorrelationID: m.CorrelationID,
	}
}

func (w wireMessage) toMessage() messaging.Message {
	return messaging.Message{
		Source:        id.Of(w.Source),
		Destination:   id.Of(w.Destination),
		PeerType:      messaging.PeerType(w.PeerType),
		MessageType:   messaging.MessageType(w.MessageType),
		Payload:       w.Payload,
		CorrelationID: w.CorrelationID,
	}
}

// HTTPBus implements messaging.Bus over HTTP: Send POSTs an envelope
// to the destination's configured address; a mounted Gin route accepts
// inbound envelopes.
//
// Self-sends still take the in-process DeliverNow path — there is no
// reason to round-trip through the network for a message whose
// destination is this very process, and the whole point of the
// self-send optimization is avoiding exactly that tick-boundary delay.
//
// Inbound HTTP requests land on Gin's own goroutines, but a replica
// must only ever see messages during its own tick, never concurrently.
// HTTPBus resolves this by buffering inbound messages under a mutex
// and only handing them to the registered Inbox's buffered Deliver
// when Pump is called — which cmd/server does once per real-time tick,
// from the same goroutine that drives the clock.
type HTTPBus struct {
	self   id.ProcessID
	addrs  map[string]string // process name -> "host:port"
	client *http.Client
	log    zerolog.Logger

	inbox messaging.Inbox

	mu      sync.Mutex
	pending []messaging.Message
}

// NewHTTPBus returns a bus for self, able to reach every process named
// in addrs (typically built from internal/config's topology).
func NewHTTPBus(self id.ProcessID, addrs map[string]string, log zerolog.Logger) *HTTPBus {
	return &HTTPBus{
		self:   self,
		addrs:  addrs,
		client: &http.Client{Timeout: 5 * time.Second},
		log:    log,
	}
}

// SetAddr adds or updates the address HTTPBus dials to reach the
// named process. Lets a topology grow to include callers (such as a
// client's own reply endpoint) that aren't part of the static
// cluster config.
func (h *HTTPBus) SetAddr(name, addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.addrs == nil {
		h.addrs = make(map[string]string)
	}
	h.addrs[name] = addr
}

// Register implements messaging.Bus. HTTPBus serves exactly one local
// process — proc must equal self.
func (h *HTTPBus) Register(proc id.ProcessID, inbox messaging.Inbox) {
	if !proc.Equal(h.self) {
		h.log.Warn().Str("proc", proc.Name).Msg("HTTPBus.Register called for a process other than self")
	}
	h.inbox = inbox
}

// Send implements messaging.Bus. A self-send is delivered in-process,
// synchronously; any other destination is POSTed to its configured
// address.
func (h *HTTPBus) Send(m messaging.Message) error {
	if m.Destination.Equal(m.Source) {
		h.inbox.DeliverNow(m)
		return nil
	}

	h.mu.Lock()
	addr, ok := h.addrs[m.Destination.Name]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("httpbus: no address configured for %q", m.Destination.Name)
	}

	body, err := json.Marshal(toWire(m))
	if err != nil {
		return fmt.Errorf("httpbus: encode envelope: %w", err)
	}

	resp, err := h.client.Post(fmt.Sprintf("http://%s/tickloom/message", addr), "application/json", bytes.NewReader(body))
	if err != nil {
		// Best-effort delivery: a network error here is observed by the
		// sender's own waiting list as a later timeout, not surfaced as
		// a hard Bus failure.
		h.log.Debug().Err(err).Str("to", m.Destination.Name).Msg("httpbus: send failed")
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		h.log.Debug().Int("status", resp.StatusCode).Str("to", m.Destination.Name).Msg("httpbus: peer rejected envelope")
	}
	return nil
}

// RegisterRoute mounts the inbound envelope endpoint on r. cmd/server
// calls this once at startup, alongside starting the Gin engine.
func (h *HTTPBus) RegisterRoute(r *gin.Engine) {
	r.POST("/tickloom/message", h.receive)
}

func (h *HTTPBus) receive(c *gin.Context) {
	var wm wireMessage
	if err := c.ShouldBindJSON(&wm); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.mu.Lock()
	h.pending = append(h.pending, wm.toMessage())
	h.mu.Unlock()
	c.Status(http.StatusAccepted)
}

// Pump hands every envelope received since the last Pump call to the
// registered Inbox's buffered Deliver path. On a replica's bus it must
// be called from the same goroutine that drives the clock, exactly once
// per real-time tick, before Driver.Advance — see the type doc comment
// for why. A client, which has no clock, pumps its bus from the call
// waiting for a reply (internal/client).
func (h *HTTPBus) Pump() {
	h.mu.Lock()
	batch := h.pending
	h.pending = nil
	h.mu.Unlock()

	for _, m := range batch {
		h.inbox.Deliver(m)
	}
}

var _ messaging.Bus = (*HTTPBus)(nil)
