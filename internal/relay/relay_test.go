package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fyzo-chat/internal/ws"
)

// Requires Redis on localhost:6379; skipped otherwise.
const testRedisAddr = "localhost:6379"

type recorder struct {
	mu   sync.Mutex
	envs []ws.Envelope
}

func (r *recorder) Deliver(env ws.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func (r *recorder) all() []ws.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ws.Envelope(nil), r.envs...)
}

func TestRelayFallsBackToLocalDeliveryWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	local := &recorder{}
	r := New(client, "test:chat", local, nil)
	r.timeout = 500 * time.Millisecond

	r.ToRoom(context.Background(), "chat-1", "message:new", map[string]string{"id": "m1"}, "conn-a")
	r.ToAll(context.Background(), "user:online", nil, "")

	got := local.all()
	require.Len(t, got, 2)
	assert.Equal(t, "chat-1", got[0].Room)
	assert.Equal(t, "conn-a", got[0].Except)
	assert.JSONEq(t, `{"id":"m1"}`, string(got[0].Data))
	assert.Equal(t, "", got[1].Room)
}

func TestRelayIgnoresMalformedPayload(t *testing.T) {
	local := &recorder{}
	r := New(nil, "test:chat", local, nil)

	r.handle("not json")
	r.handle(`{"origin":"x","env":{"room":"chat-1","event":"typing:start"}}`)

	got := local.all()
	require.Len(t, got, 1)
	assert.Equal(t, "typing:start", got[0].Event)
}

func TestRelayRoundTripThroughRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	defer client.Close()
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := "test:chat:" + time.Now().Format("150405.000000")
	local := &recorder{}
	r := New(client, channel, local, nil)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Publishing before the subscription is live would be lost.
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, channel).Result()
		return err == nil && n[channel] == 1
	}, 2*time.Second, 20*time.Millisecond)

	r.ToRoom(ctx, "chat-1", "message:delete", map[string]any{"messageId": "m1"}, "")

	require.Eventually(t, func() bool { return len(local.all()) == 1 }, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, "message:delete", local.all()[0].Event)

	cancel()
	assert.NoError(t, <-done)
}
