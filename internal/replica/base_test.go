package replica

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"tickloom/internal/clock"
	"tickloom/internal/codec"
	"tickloom/internal/id"
	"tickloom/internal/messaging"
	"tickloom/internal/storage"
)

func newTestBase(t *testing.T, logBuf *bytes.Buffer) *Base {
	t.Helper()
	id.Reset()
	bus := messaging.NewSimulatedBus()
	engine := storage.NewEngine(storage.NewMemoryBackend(), clock.Tick(0), 0, 1, zerolog.Nop())
	log := zerolog.New(logBuf)
	return NewBase(id.Of("n1"), nil, bus, codec.JSONCodec{}, engine, clock.Tick(10), log)
}

func TestDispatchLogsUnknownHandler(t *testing.T) {
	var buf bytes.Buffer
	b := newTestBase(t, &buf)
	b.Init(func(ready func(error)) { ready(nil) })

	b.dispatch(messaging.Message{
		Source:      id.Of("n2"),
		Destination: b.ID,
		PeerType:    messaging.PeerServer,
		MessageType: "NO_SUCH_HANDLER",
	})

	if !strings.Contains(buf.String(), "unknown handler") {
		t.Fatalf("expected log to mention unknown handler, got %s", buf.String())
	}
}

func TestDispatchLogsNotInitialisedBeforeInit(t *testing.T) {
	var buf bytes.Buffer
	b := newTestBase(t, &buf)

	b.dispatch(messaging.Message{
		Source:      id.Of("n2"),
		Destination: b.ID,
		PeerType:    messaging.PeerServer,
		MessageType: ClientGet,
	})

	if !strings.Contains(buf.String(), "not initialised") {
		t.Fatalf("expected log to mention not initialised, got %s", buf.String())
	}
}
