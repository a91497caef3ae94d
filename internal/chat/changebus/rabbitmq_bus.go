package changebus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"chat_sync_service/internal/chat/domain"

	"github.com/streadway/amqp"
)

// RabbitBus change bus on rabbitmq, fanout exchange per topic and an
// exclusive auto-delete queue per subscription
type RabbitBus struct {
	conn   *amqp.Connection
	prefix string

	mu       sync.Mutex
	pubCh    *amqp.Channel
	declared map[string]bool
}

// NewRabbitBus create RabbitBus
func NewRabbitBus(conn *amqp.Connection, prefix string) *RabbitBus {
	return &RabbitBus{
		conn:     conn,
		prefix:   prefix,
		declared: map[string]bool{},
	}
}

func declareExchange(ch *amqp.Channel, name string) error {
	return ch.ExchangeDeclare(
		name,     // name
		"fanout", // kind
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // arguments
	)
}

// Publish publish event to the topic exchange
func (b *RabbitBus) Publish(ctx context.Context, evt domain.ChangeEvent) error {
	data, err := encodeEvent(evt)
	if err != nil {
		return err
	}
	exchange := ChannelName(b.prefix, evt.Topic)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pubCh == nil {
		if b.pubCh, err = b.conn.Channel(); err != nil {
			return err
		}
		b.declared = map[string]bool{}
	}
	if !b.declared[exchange] {
		if err := declareExchange(b.pubCh, exchange); err != nil {
			b.pubCh = nil
			return err
		}
		b.declared[exchange] = true
	}

	err = b.pubCh.Publish(exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        data,
	})
	if errors.Is(err, amqp.ErrClosed) {
		b.pubCh = nil
	}
	return err
}

// Subscribe bind a private queue to the topic exchange. Setup is bounded by
// ctx, the channel is closed when ctx ends first.
func (b *RabbitBus) Subscribe(ctx context.Context, topic domain.Topic, filter domain.Filter, h Handler, onDrop DropHandler) (Subscription, error) {
	exchange := ChannelName(b.prefix, topic)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("rabbitmq subscribe %s: %w", topic, err)
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq subscribe %s: %w", topic, err)
	}

	type setup struct {
		deliveries <-chan amqp.Delivery
		err        error
	}
	ready := make(chan setup, 1)
	go func() {
		deliveries, err := bindQueue(ch, exchange)
		ready <- setup{deliveries: deliveries, err: err}
	}()

	var deliveries <-chan amqp.Delivery
	select {
	case r := <-ready:
		if r.err != nil {
			ch.Close()
			return nil, fmt.Errorf("rabbitmq subscribe %s: %w", topic, r.err)
		}
		deliveries = r.deliveries
	case <-ctx.Done():
		// Close 讓卡住的 declare/bind 返回
		ch.Close()
		return nil, fmt.Errorf("rabbitmq subscribe %s: %w", topic, ctx.Err())
	}
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	s := newSubscription(topic, filter, h, onDrop, ch.Close)
	s.start(func() error {
		for {
			select {
			case d, ok := <-deliveries:
				if !ok {
					if s.stopped() {
						return nil
					}
					return errors.New("rabbitmq deliveries closed")
				}
				s.deliver(d.Body)
			case amqpErr, ok := <-closed:
				if s.stopped() {
					return nil
				}
				if ok && amqpErr != nil {
					return amqpErr
				}
				return amqp.ErrClosed
			case <-s.stop:
				return nil
			}
		}
	})
	return s, nil
}

// bindQueue exclusive auto-delete queue bound to exchange, auto-ack consumer
func bindQueue(ch *amqp.Channel, exchange string) (<-chan amqp.Delivery, error) {
	if err := declareExchange(ch, exchange); err != nil {
		return nil, err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, err
	}
	if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		return nil, err
	}
	return ch.Consume(q.Name, "", true, true, false, false, nil)
}

// Close close the publish channel, the connection is owned by the caller
func (b *RabbitBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubCh == nil {
		return nil
	}
	err := b.pubCh.Close()
	b.pubCh = nil
	return err
}
