// cmd/client is the CLI entry-point for talking to a tickloom cluster.
//
// Usage:
//
//	tickloom-client --config cluster.yaml --id cli1 --replicas n1,n2,n3 \
//	                 set --set mykey --value "hello world" --deadline-ms 2000
//	tickloom-client --config cluster.yaml --id cli1 --replicas n1 \
//	                 get --get mykey --deadline-ms 2000
//	tickloom-client --config cluster.yaml --id cli1 --replicas n1 \
//	                 cluster nodes
//
// A Cobra command tree (set/get/delete/cluster nodes) over
// internal/client's message-bus SDK and internal/config's static
// topology. --set/--value and --get are flags of the set and get
// subcommands; the root command does not accept them on their own.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	tclient "tickloom/internal/client"
	"tickloom/internal/codec"
	"tickloom/internal/config"
	"tickloom/internal/id"
	"tickloom/internal/transport"
)

var (
	configPath  string
	selfID      string
	replicasCSV string
	deadlineMs  int64
)

func main() {
	root := &cobra.Command{
		Use:   "tickloom-client",
		Short: "CLI client for a tickloom cluster",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the cluster topology YAML file (required)")
	root.PersistentFlags().StringVar(&selfID, "id", "", "this client's process id (required)")
	root.PersistentFlags().StringVar(&replicasCSV, "replicas", "", "comma-separated replica ids to address; the first is the coordinator (required)")
	root.PersistentFlags().Int64Var(&deadlineMs, "deadline-ms", 2000, "milliseconds to wait for a quorum outcome")
	_ = root.MarkPersistentFlagRequired("config")
	_ = root.MarkPersistentFlagRequired("id")
	_ = root.MarkPersistentFlagRequired("replicas")

	root.AddCommand(setCmd(), getCmd(), deleteCmd(), clusterCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session wires a short-lived Client onto the topology: an HTTPBus
// bound to an ephemeral local listener (so replicas have somewhere to
// send the reply back to) plus the coordinator's resolved id. Only
// the first --replicas entry is used as the coordinator; the rest are
// accepted for forward compatibility with a future retry-on-failure
// coordinator choice, not acted on yet.
type session struct {
	client      *tclient.Client
	coordinator id.ProcessID
	srv         *http.Server
	ln          net.Listener
}

func newSession() (*session, error) {
	topo, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	names := strings.Split(replicasCSV, ",")
	if len(names) == 0 || names[0] == "" {
		return nil, fmt.Errorf("--replicas must name at least one replica")
	}
	if _, err := topo.Addr(names[0]); err != nil {
		return nil, err
	}

	id.Reset()
	self := id.Of(selfID)

	bus := transport.NewHTTPBus(self, topo.Addrs(), zerolog.Nop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("client: listen for replies: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	bus.RegisterRoute(router)
	srv := &http.Server{Handler: router}
	go func() { _ = srv.Serve(ln) }()

	bus.SetAddr(selfID, ln.Addr().String())

	c := tclient.New(self, bus, codec.JSONCodec{}, zerolog.Nop())
	return &session{client: c, coordinator: id.Of(names[0]), srv: srv, ln: ln}, nil
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}

func (s *session) deadline() time.Duration {
	return time.Duration(deadlineMs) * time.Millisecond
}

func setCmd() *cobra.Command {
	var key, value string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store a key-value pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.close()
			err = s.client.Set(context.Background(), s.coordinator, []byte(key), []byte(value), time.Now().UnixNano(), s.deadline())
			if err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "set", "", "key to set (required)")
	cmd.Flags().StringVar(&value, "value", "", "value to store (required)")
	_ = cmd.MarkFlagRequired("set")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func getCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Retrieve a value by key",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.close()
			val, err := s.client.Get(context.Background(), s.coordinator, []byte(key), s.deadline())
			if err == tclient.ErrNotFound {
				fmt.Printf("key %q not found\n", key)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Println(string(val))
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "get", "", "key to retrieve (required)")
	_ = cmd.MarkFlagRequired("get")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.close()
			err = s.client.Delete(context.Background(), s.coordinator, []byte(args[0]), time.Now().UnixNano(), s.deadline())
			if err != nil {
				return err
			}
			fmt.Printf("deleted %q\n", args[0])
			return nil
		},
	}
}

// clusterCmd exposes a read-only view of the static topology. There is
// no join/leave here: the topology is a file-loaded, in-memory mapping
// fixed for a process's lifetime.
func clusterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Cluster topology commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "nodes",
		Short: "List the configured replica set",
		RunE: func(cmd *cobra.Command, args []string) error {
			topo, err := config.Load(configPath)
			if err != nil {
				return err
			}
			for _, pc := range topo.ProcessConfigs {
				fmt.Printf("%s\t%s:%d\n", pc.ProcessID, pc.IP, pc.Port)
			}
			return nil
		},
	})
	return cmd
}
