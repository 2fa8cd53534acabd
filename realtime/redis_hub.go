package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisHub fans events out through Redis pub/sub so every API instance sees them.
type RedisHub struct {
	rdb *redis.Client
	log *zap.Logger
}

// NewRedisHub connects using a redis:// URL and verifies the server answers.
func NewRedisHub(ctx context.Context, redisURL string, log *zap.Logger) (*RedisHub, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisHubFromClient(rdb, log), nil
}

// NewRedisHubFromClient wraps an existing client. Close closes the client.
func NewRedisHubFromClient(rdb *redis.Client, log *zap.Logger) *RedisHub {
	return &RedisHub{rdb: rdb, log: log}
}

func (h *RedisHub) Publish(ctx context.Context, channel string, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return h.rdb.Publish(ctx, channel, raw).Err()
}

func (h *RedisHub) Subscribe(ctx context.Context, channel string) (<-chan Event, func(), error) {
	ps := h.rdb.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so no publish after return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	out := make(chan Event, defaultSubscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}

	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					h.log.Warn("dropping malformed event", zap.String("channel", channel), zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				default:
					h.log.Warn("subscriber channel full, disconnecting", zap.String("channel", channel))
					cancel()
					return
				}
			}
		}
	}()
	return out, cancel, nil
}

func (h *RedisHub) Close() error {
	return h.rdb.Close()
}
