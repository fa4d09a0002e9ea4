package services

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/rehearse/internal/shared"
	"github.com/redis/go-redis/v9"
)

// RedisChannel is the pub/sub channel carrying changes for table.
func RedisChannel(table string) string {
	return "realtime:public:" + table
}

// RedisFeed implements [ChangeFeed] over Redis pub/sub.
type RedisFeed struct {
	client *redis.Client
	logger *log.Logger
}

// NewRedisFeed connects to the Redis server at url and pings it with a short timeout.
func NewRedisFeed(ctx context.Context, url string, logger *log.Logger) (*RedisFeed, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: redis url: %v", shared.ErrInvalidConfig, err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: redis: %v", shared.ErrServiceUnavailable, err)
	}

	return NewRedisFeedFromClient(client, logger), nil
}

// NewRedisFeedFromClient wraps an existing client.
func NewRedisFeedFromClient(client *redis.Client, logger *log.Logger) *RedisFeed {
	return &RedisFeed{client: client, logger: logger}
}

// Subscribe listens on [RedisChannel] for table and calls h for every change.
func (f *RedisFeed) Subscribe(ctx context.Context, channel, table string, h ChangeHandler) (Subscription, error) {
	ps := f.client.Subscribe(ctx, RedisChannel(table))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", shared.ErrServiceUnavailable, channel, err)
	}
	messages := ps.Channel()

	loop := func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				dispatch(f.logger, table, []byte(msg.Payload), h)
			}
		}
	}

	return startSubscription(ctx, channel, loop, ps.Close), nil
}

// Publish sends a change to the table's channel.
func (f *RedisFeed) Publish(ctx context.Context, ev ChangeEvent) error {
	payload, err := EncodeChangeEvent(ev)
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	if err := f.client.Publish(ctx, RedisChannel(ev.Table), payload).Err(); err != nil {
		return fmt.Errorf("%w: publish: %v", shared.ErrServiceUnavailable, err)
	}
	return nil
}

// Close closes the Redis client.
func (f *RedisFeed) Close() error {
	return f.client.Close()
}
