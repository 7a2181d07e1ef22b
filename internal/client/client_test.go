package client_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	tclient "tickloom/internal/client"
	"tickloom/internal/clock"
	"tickloom/internal/codec"
	"tickloom/internal/id"
	"tickloom/internal/replica"
	"tickloom/internal/storage"
	"tickloom/internal/transport"
)

// runTickLoop drives driver.Advance(1) and bus.Pump() once per
// interval, on its own goroutine, until the test is done — the same
// shape cmd/server's real-time loop uses.
func runTickLoop(t *testing.T, driver *clock.Driver, bus *transport.HTTPBus, interval time.Duration) {
	t.Helper()
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				bus.Pump()
				driver.Advance(1)
			}
		}
	}()
}

func TestClientSetThenGetRoundTripsOverHTTP(t *testing.T) {
	id.Reset()
	gin.SetMode(gin.TestMode)

	replicaID := id.Of("n1")
	clientID := id.Of("cli")

	replicaBus := transport.NewHTTPBus(replicaID, nil, zerolog.Nop())
	replicaRouter := gin.New()
	replicaBus.RegisterRoute(replicaRouter)
	replicaSrv := httptest.NewServer(replicaRouter)
	t.Cleanup(replicaSrv.Close)

	clientBus := transport.NewHTTPBus(clientID, map[string]string{"n1": replicaSrv.Listener.Addr().String()}, zerolog.Nop())
	clientRouter := gin.New()
	clientBus.RegisterRoute(clientRouter)
	clientSrv := httptest.NewServer(clientRouter)
	t.Cleanup(clientSrv.Close)

	replicaBus.SetAddr("cli", clientSrv.Listener.Addr().String())

	driver := clock.NewDriver()
	backend := storage.NewMemoryBackend()
	engine := storage.NewEngine(backend, clock.Tick(0), 0, 1, zerolog.Nop())
	driver.Register(engine)

	base := replica.NewBase(replicaID, nil, replicaBus, codec.JSONCodec{}, engine, clock.Tick(50), zerolog.Nop())
	replica.NewQuorumRegister(base)
	base.Init(func(ready func(error)) { ready(nil) })
	driver.Register(base)

	runTickLoop(t, driver, replicaBus, 5*time.Millisecond)

	c := tclient.New(clientID, clientBus, codec.JSONCodec{}, zerolog.Nop())

	ctx := context.Background()
	if err := c.Set(ctx, replicaID, []byte("k"), []byte("v"), 1, 2*time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}

	val, err := c.Get(ctx, replicaID, []byte("k"), 2*time.Second)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(val) != "v" {
		t.Fatalf("expected %q, got %q", "v", val)
	}
}

func TestClientGetMissingKeyReturnsErrNotFound(t *testing.T) {
	id.Reset()
	gin.SetMode(gin.TestMode)

	replicaID := id.Of("n1")
	clientID := id.Of("cli")

	replicaBus := transport.NewHTTPBus(replicaID, nil, zerolog.Nop())
	replicaRouter := gin.New()
	replicaBus.RegisterRoute(replicaRouter)
	replicaSrv := httptest.NewServer(replicaRouter)
	t.Cleanup(replicaSrv.Close)

	clientBus := transport.NewHTTPBus(clientID, map[string]string{"n1": replicaSrv.Listener.Addr().String()}, zerolog.Nop())
	clientRouter := gin.New()
	clientBus.RegisterRoute(clientRouter)
	clientSrv := httptest.NewServer(clientRouter)
	t.Cleanup(clientSrv.Close)

	replicaBus.SetAddr("cli", clientSrv.Listener.Addr().String())

	driver := clock.NewDriver()
	backend := storage.NewMemoryBackend()
	engine := storage.NewEngine(backend, clock.Tick(0), 0, 2, zerolog.Nop())
	driver.Register(engine)

	base := replica.NewBase(replicaID, nil, replicaBus, codec.JSONCodec{}, engine, clock.Tick(50), zerolog.Nop())
	replica.NewQuorumRegister(base)
	base.Init(func(ready func(error)) { ready(nil) })
	driver.Register(base)

	runTickLoop(t, driver, replicaBus, 5*time.Millisecond)

	c := tclient.New(clientID, clientBus, codec.JSONCodec{}, zerolog.Nop())

	_, err := c.Get(context.Background(), replicaID, []byte("ghost"), 2*time.Second)
	if err != tclient.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClientSetTimesOutWhenReplicaIsUnreachable(t *testing.T) {
	id.Reset()
	gin.SetMode(gin.TestMode)

	replicaID := id.Of("n1")
	clientID := id.Of("cli")

	clientBus := transport.NewHTTPBus(clientID, map[string]string{"n1": "127.0.0.1:1"}, zerolog.Nop())
	clientRouter := gin.New()
	clientBus.RegisterRoute(clientRouter)
	clientSrv := httptest.NewServer(clientRouter)
	t.Cleanup(clientSrv.Close)

	c := tclient.New(clientID, clientBus, codec.JSONCodec{}, zerolog.Nop())

	err := c.Set(context.Background(), replicaID, []byte("k"), []byte("v"), 1, 200*time.Millisecond)
	if err == nil {
		t.Fatal("expected a deadline error")
	}
}
