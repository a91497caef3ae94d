package changebus

import (
	"context"
	"errors"
	"sync"

	"chat_sync_service/internal/chat/domain"
)

// ErrBusClosed publish or subscribe on a closed bus
var ErrBusClosed = errors.New("change bus closed")

const memoryBuffer = 256

// MemoryBus in-process change bus, used by single node deploys and tests
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[domain.Topic]map[*memorySub]struct{}
	closed bool
}

type memorySub struct {
	*subscription
	inbox  chan []byte
	broken chan error
	gone   chan struct{}
}

// NewMemoryBus create MemoryBus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: map[domain.Topic]map[*memorySub]struct{}{}}
}

// Subscribe register handler on topic
func (b *MemoryBus) Subscribe(ctx context.Context, topic domain.Topic, filter domain.Filter, h Handler, onDrop DropHandler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	ms := &memorySub{
		inbox:  make(chan []byte, memoryBuffer),
		broken: make(chan error, 1),
		gone:   make(chan struct{}),
	}
	ms.subscription = newSubscription(topic, filter, h, onDrop, func() error {
		b.remove(ms)
		return nil
	})
	if b.subs[topic] == nil {
		b.subs[topic] = map[*memorySub]struct{}{}
	}
	b.subs[topic][ms] = struct{}{}

	ms.start(func() error {
		defer close(ms.gone)
		for {
			select {
			case data := <-ms.inbox:
				ms.deliver(data)
			case err := <-ms.broken:
				return err
			case <-ms.stop:
				return nil
			}
		}
	})
	return ms, nil
}

func (b *MemoryBus) remove(ms *memorySub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[ms.topic], ms)
}

// Publish fan out to every subscription of the topic, in call order
func (b *MemoryBus) Publish(ctx context.Context, evt domain.ChangeEvent) error {
	data, err := encodeEvent(evt)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	for ms := range b.subs[evt.Topic] {
		select {
		case ms.inbox <- data:
		case <-ms.gone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Drop break every subscription of topic as if the transport was lost
func (b *MemoryBus) Drop(topic domain.Topic, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ms := range b.subs[topic] {
		select {
		case ms.broken <- err:
		default:
		}
	}
}

// Subscribers number of live subscriptions on topic
func (b *MemoryBus) Subscribers(topic domain.Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close drop every subscription and refuse further use
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*memorySub
	for _, set := range b.subs {
		for ms := range set {
			all = append(all, ms)
		}
	}
	b.mu.Unlock()

	for _, ms := range all {
		select {
		case ms.broken <- ErrBusClosed:
		default:
		}
	}
	return nil
}
