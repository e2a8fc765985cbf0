package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const relayChannel = "epitrello:events"

// redisRelay fans frames out to every instance over one pub/sub channel.
type redisRelay struct {
	client *redis.Client
	log    *slog.Logger
}

func newRedisRelay(client *redis.Client, log *slog.Logger) *redisRelay {
	return &redisRelay{client: client, log: log}
}

func (r *redisRelay) publish(ctx context.Context, m relayMessage) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal relay message: %w", err)
	}
	return r.client.Publish(ctx, relayChannel, raw).Err()
}

// run subscribes and hands every message to deliver until ctx ends. It
// returns once the subscription is confirmed and delivery runs in the background.
func (r *redisRelay) run(ctx context.Context, deliver func(relayMessage)) error {
	sub := r.client.Subscribe(ctx, relayChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", relayChannel, err)
	}
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var m relayMessage
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					r.log.Warn("bad relay message", "err", err)
					continue
				}
				deliver(m)
			}
		}
	}()
	return nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}
