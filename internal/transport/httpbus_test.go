package transport

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tickloom/internal/id"
	"tickloom/internal/messaging"
)

type recordingInbox struct {
	delivered    []messaging.Message
	deliveredNow []messaging.Message
}

func (r *recordingInbox) Deliver(m messaging.Message)    { r.delivered = append(r.delivered, m) }
func (r *recordingInbox) DeliverNow(m messaging.Message) { r.deliveredNow = append(r.deliveredNow, m) }

func newTestServer(t *testing.T, bus *HTTPBus) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	bus.RegisterRoute(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPBusSelfSendIsSynchronous(t *testing.T) {
	id.Reset()
	self := id.Of("n1")
	bus := NewHTTPBus(self, map[string]string{}, zerolog.Nop())
	inbox := &recordingInbox{}
	bus.Register(self, inbox)

	if err := bus.Send(messaging.Message{Source: self, Destination: self, MessageType: "PING"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inbox.deliveredNow) != 1 {
		t.Fatalf("expected synchronous self delivery, got %d", len(inbox.deliveredNow))
	}
}

func TestHTTPBusSendReceiveRoundTrip(t *testing.T) {
	id.Reset()
	receiverID := id.Of("n2")
	receiverBus := NewHTTPBus(receiverID, nil, zerolog.Nop())
	inbox := &recordingInbox{}
	receiverBus.Register(receiverID, inbox)
	srv := newTestServer(t, receiverBus)

	senderID := id.Of("n1")
	senderBus := NewHTTPBus(senderID, map[string]string{"n2": srv.Listener.Addr().String()}, zerolog.Nop())

	err := senderBus.Send(messaging.Message{
		Source: senderID, Destination: receiverID, MessageType: "PING", CorrelationID: "c1",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	receiverBus.Pump()
	if len(inbox.delivered) != 1 {
		t.Fatalf("expected 1 buffered delivery after Pump, got %d", len(inbox.delivered))
	}
	if inbox.delivered[0].CorrelationID != "c1" {
		t.Fatalf("unexpected correlation id: %q", inbox.delivered[0].CorrelationID)
	}
	if !inbox.delivered[0].Source.Equal(senderID) {
		t.Fatalf("expected source %v, got %v", senderID, inbox.delivered[0].Source)
	}
}

func TestHTTPBusSendToUnknownDestination(t *testing.T) {
	id.Reset()
	self := id.Of("n1")
	bus := NewHTTPBus(self, map[string]string{}, zerolog.Nop())
	bus.Register(self, &recordingInbox{})

	err := bus.Send(messaging.Message{Source: self, Destination: id.Of("ghost"), MessageType: "PING"})
	if err == nil {
		t.Fatal("expected an error for an unconfigured destination")
	}
}
