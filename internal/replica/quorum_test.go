package replica_test

import (
	"testing"

	"tickloom/internal/clock"
	"tickloom/internal/codec"
	"tickloom/internal/id"
	"tickloom/internal/replica"
	"tickloom/internal/simulation"
)

func set(t *testing.T, c *simulation.Cluster, client *simulation.ClientInbox, coordinator, key, value string, ts int64) {
	t.Helper()
	err := c.Send(client, coordinator, replica.ClientSet, replica.ClientSetRequest{
		Key: []byte(key), Value: []byte(value), ClientTimestamp: ts,
	})
	if err != nil {
		t.Fatalf("send CLIENT_SET: %v", err)
	}
}

func get(t *testing.T, c *simulation.Cluster, client *simulation.ClientInbox, coordinator, key string) {
	t.Helper()
	err := c.Send(client, coordinator, replica.ClientGet, replica.ClientGetRequest{Key: []byte(key)})
	if err != nil {
		t.Fatalf("send CLIENT_GET: %v", err)
	}
}

func TestSingleNodeRegister(t *testing.T) {
	id.Reset()
	c := simulation.NewCluster([]string{"n1"}, simulation.Options{TimeoutTicks: clock.Tick(20)})
	client := c.NewClient("client")

	set(t, c, client, "n1", "k", "v", 1)
	c.Advance(6)

	reply, ok := client.Last()
	if !ok || reply.MessageType != replica.ClientSetOK {
		t.Fatalf("expected CLIENT_SET_OK, got %+v (ok=%v)", reply, ok)
	}

	get(t, c, client, "n1", "k")
	c.Advance(6)

	reply, ok = client.Last()
	if !ok || reply.MessageType != replica.ClientGetOK {
		t.Fatalf("expected CLIENT_GET_OK, got %+v (ok=%v)", reply, ok)
	}
	var resp replica.ClientGetResponse
	decode(t, reply.Payload, &resp)
	if !resp.Found || string(resp.Value) != "v" {
		t.Fatalf("expected value %q, got %+v", "v", resp)
	}
}

func TestThreeNodeQuorumHappyPath(t *testing.T) {
	id.Reset()
	c := simulation.NewCluster([]string{"n1", "n2", "n3"}, simulation.Options{TimeoutTicks: clock.Tick(20)})
	client := c.NewClient("client")

	set(t, c, client, "n1", "k", "v", 1)
	c.Advance(8)

	reply, ok := client.Last()
	if !ok || reply.MessageType != replica.ClientSetOK {
		t.Fatalf("expected CLIENT_SET_OK, got %+v (ok=%v)", reply, ok)
	}

	get(t, c, client, "n2", "k")
	c.Advance(8)

	reply, ok = client.Last()
	if !ok || reply.MessageType != replica.ClientGetOK {
		t.Fatalf("expected CLIENT_GET_OK, got %+v (ok=%v)", reply, ok)
	}
	var resp replica.ClientGetResponse
	decode(t, reply.Payload, &resp)
	if !resp.Found || string(resp.Value) != "v" {
		t.Fatalf("expected value %q, got %+v", "v", resp)
	}
}

func TestMinorityPartitionToleratedOnRead(t *testing.T) {
	id.Reset()
	c := simulation.NewCluster([]string{"n1", "n2", "n3", "n4", "n5"}, simulation.Options{TimeoutTicks: clock.Tick(30)})
	client := c.NewClient("client")

	set(t, c, client, "n1", "k", "v", 1)
	c.Advance(10)
	if reply, ok := client.Last(); !ok || reply.MessageType != replica.ClientSetOK {
		t.Fatalf("expected CLIENT_SET_OK, got %+v (ok=%v)", reply, ok)
	}

	c.Partition("n5")

	get(t, c, client, "n1", "k")
	c.Advance(10)

	reply, ok := client.Last()
	if !ok || reply.MessageType != replica.ClientGetOK {
		t.Fatalf("expected CLIENT_GET_OK despite isolated replica, got %+v (ok=%v)", reply, ok)
	}
	var resp replica.ClientGetResponse
	decode(t, reply.Payload, &resp)
	if !resp.Found || string(resp.Value) != "v" {
		t.Fatalf("expected value %q, got %+v", "v", resp)
	}

	// n5 was reachable during the SET and stored the write before it was
	// partitioned; after healing it and issuing one more read, its
	// storage must still hold the written value.
	c.Heal("n5")
	get(t, c, client, "n1", "k")
	c.Advance(10)

	raw, found, err := c.Nodes["n5"].Backend.Get([]byte("k"))
	if err != nil {
		t.Fatalf("n5 backend get: %v", err)
	}
	if !found {
		t.Fatalf("expected k in n5's storage")
	}
	var stored replica.InternalVersioned
	decode(t, raw, &stored)
	if string(stored.Value) != "v" {
		t.Fatalf("expected value %q on n5, got %+v", "v", stored)
	}
}

func TestQuorumLossOnWriteWhenTwoReplicasFail(t *testing.T) {
	id.Reset()
	c := simulation.NewCluster([]string{"n1", "n2", "n3"}, simulation.Options{TimeoutTicks: clock.Tick(20)})
	c.Nodes["n2"].Storage.Close()
	c.Nodes["n3"].Storage.Close()
	client := c.NewClient("client")

	set(t, c, client, "n1", "k", "v", 1)
	c.Advance(10)

	reply, ok := client.Last()
	if !ok || reply.MessageType != replica.ClientSetErr {
		t.Fatalf("expected CLIENT_SET_ERR once quorum is unreachable, got %+v (ok=%v)", reply, ok)
	}
}

func TestTimeoutCompletesCallback(t *testing.T) {
	id.Reset()
	c := simulation.NewCluster([]string{"n1", "n2", "n3"}, simulation.Options{TimeoutTicks: clock.Tick(10)})
	c.Partition("n2")
	c.Partition("n3")
	client := c.NewClient("client")

	set(t, c, client, "n1", "k", "v", 1)
	c.Advance(9)
	if _, ok := client.Last(); ok {
		t.Fatal("expected no reply before the timeout deadline")
	}

	c.Advance(4)
	reply, ok := client.Last()
	if !ok || reply.MessageType != replica.ClientSetErr {
		t.Fatalf("expected CLIENT_SET_ERR after timeout, got %+v (ok=%v)", reply, ok)
	}
}

func TestLastWriterWinsByTimestamp(t *testing.T) {
	id.Reset()
	c := simulation.NewCluster([]string{"n1", "n2", "n3"}, simulation.Options{TimeoutTicks: clock.Tick(20)})
	client := c.NewClient("client")

	set(t, c, client, "n1", "k", "a", 5)
	c.Advance(8)
	set(t, c, client, "n2", "k", "b", 3)
	c.Advance(8)

	get(t, c, client, "n3", "k")
	c.Advance(8)

	reply, ok := client.Last()
	if !ok || reply.MessageType != replica.ClientGetOK {
		t.Fatalf("expected CLIENT_GET_OK, got %+v (ok=%v)", reply, ok)
	}
	var resp replica.ClientGetResponse
	decode(t, reply.Payload, &resp)
	if string(resp.Value) != "a" {
		t.Fatalf("expected higher-timestamped write %q to win, got %q", "a", resp.Value)
	}
}

func TestLastWriterWinsTieBreaksLexicographically(t *testing.T) {
	id.Reset()
	c := simulation.NewCluster([]string{"n1", "n2", "n3"}, simulation.Options{TimeoutTicks: clock.Tick(20)})
	client := c.NewClient("client")

	set(t, c, client, "n1", "k", "a", 5)
	c.Advance(8)
	set(t, c, client, "n2", "k", "b", 5)
	c.Advance(8)

	get(t, c, client, "n3", "k")
	c.Advance(8)

	reply, ok := client.Last()
	if !ok || reply.MessageType != replica.ClientGetOK {
		t.Fatalf("expected CLIENT_GET_OK, got %+v (ok=%v)", reply, ok)
	}
	var resp replica.ClientGetResponse
	decode(t, reply.Payload, &resp)
	if string(resp.Value) != "b" {
		t.Fatalf("expected lexicographically greater value %q on tied timestamp, got %q", "b", resp.Value)
	}
}

func decode(t *testing.T, data []byte, out any) {
	t.Helper()
	if err := (codec.JSONCodec{}).Decode(data, out); err != nil {
		t.Fatalf("decode: %v", err)
	}
}
