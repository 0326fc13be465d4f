package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type natsStub struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (n *natsStub) Publish(subject string, data []byte) error {
	if n.err != nil {
		return n.err
	}
	n.subjects = append(n.subjects, subject)
	n.payloads = append(n.payloads, data)
	return nil
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestBroadcastFansOutToBothSinks(t *testing.T) {
	client := newRedis(t)
	nc := &natsStub{}
	ctx := context.Background()

	sub := client.Subscribe(ctx, "rankings.test")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	b := NewBroadcaster(Config{Channel: "rankings.test", Source: "node-a", Redis: client, NATS: nc})
	require.NoError(t, b.Broadcast(ctx, "ranking.published", map[string]string{"project_id": "p1"}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var event Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
	assert.Equal(t, "ranking.published", event.Type)
	assert.Equal(t, "node-a", event.Source)
	assert.JSONEq(t, `{"project_id":"p1"}`, string(event.Data))

	require.Len(t, nc.subjects, 1)
	assert.Equal(t, "rankings.test", nc.subjects[0])
	assert.Equal(t, msg.Payload, string(nc.payloads[0]))
}

func TestBroadcastReportsSinkFailure(t *testing.T) {
	nc := &natsStub{err: errors.New("nats: connection closed")}
	b := NewBroadcaster(Config{NATS: nc})

	err := b.Broadcast(context.Background(), "ranking.published", struct{}{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats publish")
	assert.Equal(t, "rankings.published", b.Channel())
}

func TestBroadcastWithoutSinks(t *testing.T) {
	assert.NoError(t, NewBroadcaster(Config{}).Broadcast(context.Background(), "x", 1))
}

func TestSubscribeRedisSkipsOwnEvents(t *testing.T) {
	client := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := NewBroadcaster(Config{Source: "node-b", Redis: client})
	received := make(chan Event, 2)
	require.NoError(t, listener.SubscribeRedis(ctx, func(e Event) { received <- e }))

	require.NoError(t, listener.Broadcast(ctx, "ranking.published", "own"))
	require.NoError(t, NewBroadcaster(Config{Source: "node-a", Redis: client}).Broadcast(ctx, "ranking.published", "remote"))

	select {
	case event := <-received:
		assert.Equal(t, "node-a", event.Source)
		assert.JSONEq(t, `"remote"`, string(event.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("expected remote event")
	}
	select {
	case event := <-received:
		t.Fatalf("unexpected event from %s", event.Source)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnectNATSWithoutURL(t *testing.T) {
	conn, err := ConnectNATS("", "scoring-api", nil)
	assert.NoError(t, err)
	assert.Nil(t, conn)
}
