package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/graffiti/internal/errs"
	"github.com/roach88/graffiti/internal/ir"
)

// DefaultChannel is the Redis channel used when none is configured.
const DefaultChannel = "graffiti:changes"

// Redis is a feed over Redis pub/sub, for several processes sharing one
// object store.
type Redis struct {
	client  *redis.Client
	channel string
	owned   bool
}

// NewRedis connects to addr and pings it.
func NewRedis(ctx context.Context, addr, channel string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errs.Transient("change feed unavailable", err)
	}
	f := NewRedisWithClient(client, channel)
	f.owned = true
	return f, nil
}

// NewRedisWithClient wraps an existing client. Close does not close it.
func NewRedisWithClient(client *redis.Client, channel string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{client: client, channel: channel}
}

// Channel returns the pub/sub channel name.
func (r *Redis) Channel() string { return r.channel }

// Publish implements Feed.
func (r *Redis) Publish(ctx context.Context, c ir.Change) error {
	if c.Empty() {
		return nil
	}
	payload, err := Encode(c)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return errs.Transient("change feed unavailable", err)
	}
	return nil
}

// Subscribe implements Feed. It returns once Redis has confirmed the
// subscription. Malformed messages are logged and skipped.
func (r *Redis) Subscribe(ctx context.Context, fn Handler) (Subscription, error) {
	ps := r.client.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, errs.Transient("change feed unavailable", err)
	}

	sub := &redisSubscription{ps: ps, done: make(chan struct{})}
	msgs := ps.Channel()

	go func() {
		defer close(sub.done)
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				c, err := Decode([]byte(msg.Payload))
				if err != nil {
					slog.Warn("dropping malformed change", "channel", msg.Channel, "error", err)
					continue
				}
				fn(c)
			}
		}
	}()

	slog.Debug("subscribed to change feed", "channel", r.channel)
	return sub, nil
}

// Close implements Feed.
func (r *Redis) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}

type redisSubscription struct {
	ps   *redis.PubSub
	once sync.Once
	err  error
	done chan struct{}
}

func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		s.err = s.ps.Close()
	})
	return s.err
}
