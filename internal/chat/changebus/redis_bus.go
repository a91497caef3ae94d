package changebus

import (
	"context"
	"fmt"

	"chat_sync_service/internal/chat/domain"

	"github.com/go-redis/redis/v8"
)

// RedisBus change bus on redis pub/sub, channel per topic
type RedisBus struct {
	client *redis.Client
	prefix string
}

// NewRedisBus create RedisBus
func NewRedisBus(client *redis.Client, prefix string) *RedisBus {
	return &RedisBus{client: client, prefix: prefix}
}

// Publish 將 event 序列化後，發布到 topic channel
func (b *RedisBus) Publish(ctx context.Context, evt domain.ChangeEvent) error {
	data, err := encodeEvent(evt)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, ChannelName(b.prefix, evt.Topic), data).Err()
}

// Subscribe 訂閱 topic，收到訊息後呼叫 handler 處理
func (b *RedisBus) Subscribe(ctx context.Context, topic domain.Topic, filter domain.Filter, h Handler, onDrop DropHandler) (Subscription, error) {
	ps := b.client.Subscribe(ctx, ChannelName(b.prefix, topic))

	// wait for the subscribe confirmation so no commit after return is missed
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	s := newSubscription(topic, filter, h, onDrop, ps.Close)
	s.start(func() error {
		for {
			msg, err := ps.Receive(context.Background())
			if err != nil {
				if s.stopped() {
					return nil
				}
				return err
			}
			if m, ok := msg.(*redis.Message); ok {
				s.deliver([]byte(m.Payload))
			}
		}
	})
	return s, nil
}

// Close the client is owned by the caller
func (b *RedisBus) Close() error {
	return nil
}
