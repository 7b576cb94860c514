package ws

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRelay(t *testing.T, addr string, hub *Hub) *RedisRelay {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	r := NewRedisRelay(client, hub, testLogger())
	r.initialInterval = 20 * time.Millisecond
	r.maxInterval = 100 * time.Millisecond
	return r
}

func startRelay(t *testing.T, ctx context.Context, r *RedisRelay) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	return done
}

func waitSubscribed(t *testing.T, relays ...*RedisRelay) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, r := range relays {
			if !r.subscribed.Load() {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
}

func received(o *fakeObserver) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.msgs)
}

func TestRedisRelayFansOutAcrossInstances(t *testing.T) {
	m := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hubA, hubB := NewHub(nil), NewHub(nil)
	relayA := newTestRelay(t, m.Addr(), hubA)
	relayB := newTestRelay(t, m.Addr(), hubB)
	startRelay(t, ctx, relayA)
	startRelay(t, ctx, relayB)
	waitSubscribed(t, relayA, relayB)

	local, remote, dashboard := &fakeObserver{}, &fakeObserver{}, &fakeObserver{}
	hubA.Subscribe("lab", local)
	hubB.Subscribe("lab", remote)
	hubB.Subscribe(AllQueues, dashboard)

	relayA.Publish(snapshotEvent("lab"))
	relayA.Publish(snapshotEvent("lab"))

	for _, o := range []*fakeObserver{local, remote, dashboard} {
		assert.Eventually(t, func() bool { return received(o) == 2 }, 2*time.Second, 10*time.Millisecond)
	}
	// a subscribed instance hears its own events only through redis
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, received(local))
	assert.Equal(t, "lab", remote.events(t)[0].QueueID)
}

func TestRedisRelayRecoversWhenRedisStartsLate(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil)
	relay := newTestRelay(t, addr, hub)
	done := startRelay(t, ctx, relay)

	o := &fakeObserver{}
	hub.Subscribe("lab", o)

	// redis is down: local observers still get every event, once
	relay.Publish(snapshotEvent("lab"))
	assert.Equal(t, 1, received(o))
	assert.False(t, relay.subscribed.Load())
	select {
	case err := <-done:
		t.Fatalf("Run gave up while redis was down: %v", err)
	default:
	}

	m := miniredis.NewMiniRedis()
	require.NoError(t, m.StartAddr(addr))
	defer m.Close()

	peerHub := NewHub(nil)
	peer := newTestRelay(t, addr, peerHub)
	startRelay(t, ctx, peer)
	waitSubscribed(t, relay, peer)

	remote := &fakeObserver{}
	peerHub.Subscribe("lab", remote)
	for i := 0; i < 20; i++ {
		relay.Publish(snapshotEvent("lab"))
	}
	assert.Eventually(t, func() bool { return received(o) == 21 }, 3*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return received(remote) == 20 }, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	assert.False(t, relay.subscribed.Load())
}

func TestRedisRelayFallsBackWhenPublishFails(t *testing.T) {
	m := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil)
	relay := newTestRelay(t, m.Addr(), hub)
	startRelay(t, ctx, relay)
	waitSubscribed(t, relay)

	o := &fakeObserver{}
	hub.Subscribe("lab", o)
	m.Close()

	relay.Publish(snapshotEvent("lab"))
	assert.Equal(t, 1, received(o))
}
