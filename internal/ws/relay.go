package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-redis/redis/v8"

	"github.com/mishalsheza/queue-ease/internal/queue"
)

const (
	channelPrefix  = "queueease:queue:"
	publishTimeout = 2 * time.Second

	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 30 * time.Second
)

// RedisRelay shares queue events between server instances. Each instance
// publishes to redis and feeds whatever arrives on the pattern subscription
// into its local hub.
//
// While this instance holds no subscription, events are also delivered to the
// local hub directly, so local observers never depend on redis being up.
type RedisRelay struct {
	client     *redis.Client
	hub        *Hub
	log        *slog.Logger
	subscribed atomic.Bool

	initialInterval time.Duration
	maxInterval     time.Duration
}

func NewRedisRelay(client *redis.Client, hub *Hub, log *slog.Logger) *RedisRelay {
	return &RedisRelay{
		client:          client,
		hub:             hub,
		log:             log,
		initialInterval: retryInitialInterval,
		maxInterval:     retryMaxInterval,
	}
}

func channelFor(queueID string) string {
	return channelPrefix + queueID
}

// Publish sends e through redis. Local observers get e directly when this
// instance is not subscribed or redis rejects the publish.
func (r *RedisRelay) Publish(e queue.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		r.log.Error("encode queue event", "queue_id", e.QueueID, "error", err)
		return
	}

	delivered := false
	if !r.subscribed.Load() {
		r.hub.Broadcast(e.QueueID, payload)
		delivered = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, channelFor(e.QueueID), payload).Err(); err != nil {
		r.log.Warn("redis publish failed", "queue_id", e.QueueID, "local", !delivered, "error", err)
		if !delivered {
			r.hub.Broadcast(e.QueueID, payload)
		}
	}
}

// Run relays subscribed events into the hub until ctx is done, resubscribing
// with exponential backoff whenever the subscription cannot be established.
func (r *RedisRelay) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval
	b.Reset()

	for {
		err := r.relay(ctx, b.Reset)
		if ctx.Err() != nil {
			return nil
		}
		wait := b.NextBackOff()
		r.log.Warn("redis relay unsubscribed, retrying", "error", err, "retry_in", wait)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// relay holds one subscription until it ends. onSubscribed runs once redis
// has confirmed the pattern subscription.
func (r *RedisRelay) relay(ctx context.Context, onSubscribed func()) error {
	sub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	r.subscribed.Store(true)
	defer r.subscribed.Store(false)
	onSubscribed()
	r.log.Info("redis relay subscribed", "pattern", channelPrefix+"*")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return redis.ErrClosed
			}
			r.hub.Broadcast(strings.TrimPrefix(msg.Channel, channelPrefix), []byte(msg.Payload))
		}
	}
}
