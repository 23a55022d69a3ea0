package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"branch-orders-api/logger"

	"github.com/redis/go-redis/v9"
)

// RedisBroker fans events out across API replicas over Redis Pub/Sub.
// Delivery is at-most-once; a subscriber that falls behind has its
// subscription ended and recovers by refetching.
type RedisBroker struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisBroker(opts *redis.Options, prefix string) (*RedisBroker, error) {
	if prefix == "" {
		return nil, fmt.Errorf("channel prefix cannot be empty")
	}
	return &RedisBroker{rdb: redis.NewClient(opts), prefix: prefix}, nil
}

// Ping verifies Redis connectivity.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Channel returns the Pub/Sub channel carrying a branch's order events.
func (b *RedisBroker) Channel(branchID string) string {
	return fmt.Sprintf("%s:orders:%s", b.prefix, branchID)
}

func (b *RedisBroker) Publish(ctx context.Context, ev ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.Channel(ev.BranchID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, branchID string) (*Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, b.Channel(branchID))

	// Wait for the subscription confirmation so events published after
	// Subscribe returns are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.Channel(branchID), err)
	}

	out := make(chan ChangeEvent, subscriptionBuffer)
	subCtx, cancel := context.WithCancel(ctx)
	log := logger.For("realtime").WithField("branch_id", branchID)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.WithError(err).Warn("skipping malformed change event")
					continue
				}
				select {
				case out <- ev:
				default:
					log.Warn("subscriber fell behind, ending subscription")
					return
				}
			}
		}
	}()

	return &Subscription{events: out, cancel: cancel}, nil
}

func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}
