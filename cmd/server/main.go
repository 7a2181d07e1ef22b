// cmd/server launches a single tickloom replica process.
//
// Usage:
//
//	tickloom-server --config cluster.yaml --id n1 --data /var/tickloom/n1 \
//	                 --timeout 50 --factory quorum-register
//
// Flags in, storage opened, HTTP server started, graceful shutdown on
// SIGINT/SIGTERM — but the core of the process is a single real-time
// loop that, once per interval, pumps inbound HTTP envelopes into the
// bus and then advances the logical clock by exactly one tick.
// Everything below that loop (the replica, the storage engine, the
// waiting list) only ever runs from it.
package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tickloom/internal/clock"
	"tickloom/internal/codec"
	"tickloom/internal/config"
	"tickloom/internal/id"
	"tickloom/internal/replica"
	"tickloom/internal/storage"
	"tickloom/internal/transport"
)

func main() {
	var (
		configPath   string
		selfID       string
		dataDir      string
		timeoutTicks int64
		factoryName  string
		tickInterval time.Duration
		snapshotEach int
	)

	root := &cobra.Command{
		Use:   "tickloom-server",
		Short: "Run one replica process of a tickloom cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, selfID, dataDir, clock.Tick(timeoutTicks), factoryName, tickInterval, snapshotEach)
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to the cluster topology YAML file (required)")
	root.Flags().StringVar(&selfID, "id", "", "this process's id, as it appears in the topology (required)")
	root.Flags().StringVar(&dataDir, "data", "", "directory for WAL and snapshots; empty means in-memory only")
	root.Flags().Int64Var(&timeoutTicks, "timeout", 50, "per-round-trip deadline, in ticks")
	root.Flags().StringVar(&factoryName, "factory", "quorum-register", "replica algorithm variant")
	root.Flags().DurationVar(&tickInterval, "tick-interval", 50*time.Millisecond, "wall-clock duration of one logical tick")
	root.Flags().IntVar(&snapshotEach, "snapshot-every", 200, "take a storage snapshot every N ticks (0 disables)")
	_ = root.MarkFlagRequired("config")
	_ = root.MarkFlagRequired("id")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, selfID, dataDir string, timeoutTicks clock.Tick, factoryName string, tickInterval time.Duration, snapshotEach int) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Str("node", selfID).Logger()

	topo, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	selfAddr, err := topo.Addr(selfID)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	id.Reset()
	self := id.Of(selfID)
	var peers []id.ProcessID
	for _, name := range topo.Names() {
		if name != selfID {
			peers = append(peers, id.Of(name))
		}
	}

	backend, err := openBackend(dataDir)
	if err != nil {
		return fmt.Errorf("server: open storage: %w", err)
	}
	engine := storage.NewEngine(backend, clock.Tick(0), 0, seedFrom(selfID), log.With().Str("component", "storage").Logger())

	bus := transport.NewHTTPBus(self, topo.Addrs(), log.With().Str("component", "bus").Logger())

	base := replica.NewBase(self, peers, bus, codec.JSONCodec{}, engine, timeoutTicks, log.With().Str("component", "replica").Logger())
	if _, err := replica.New(factoryName, base); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	base.Init(func(ready func(error)) { ready(nil) })

	driver := clock.NewDriver()
	driver.Register(engine)
	driver.Register(base)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginLogger(log), gin.Recovery())
	bus.RegisterRoute(router)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"node": selfID, "status": "ok"})
	})

	srv := &http.Server{
		Addr:         selfAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", selfAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	stopTicking := make(chan struct{})
	tickDone := make(chan struct{})
	go func() {
		defer close(tickDone)
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopTicking:
				return
			case <-ticker.C:
				bus.Pump()
				driver.Advance(1)
				if fut := engine.MaybeSnapshot(clock.Tick(snapshotEach)); fut != nil {
					fut.OnComplete(func(_ struct{}, err error) {
						if err != nil {
							log.Warn().Err(err).Msg("periodic snapshot failed")
						}
					})
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server: %w", err)
	case <-quit:
		log.Info().Msg("shutting down")
	}

	close(stopTicking)
	<-tickDone

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown error")
	}
	if err := engine.Close(); err != nil {
		log.Warn().Err(err).Msg("storage close error")
	}
	return nil
}

func openBackend(dataDir string) (storage.Backend, error) {
	if dataDir == "" {
		return storage.NewMemoryBackend(), nil
	}
	return storage.NewFileBackend(dataDir)
}

// seedFrom derives a deterministic PRNG seed for the storage engine's
// failure injection from the node's own id — same approach as
// internal/simulation.seedFor, so a cluster launched twice with the
// same ids reproduces the same injected-failure sequence.
func seedFrom(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}

func ginLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
