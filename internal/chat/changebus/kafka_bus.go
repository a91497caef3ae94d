package changebus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"chat_sync_service/internal/chat/domain"

	"github.com/segmentio/kafka-go"
)

// connect failures before ReadMessage reports the error, which drops the subscription
const readerMaxAttempts = 3

// KafkaBus change bus on kafka, one single-partition topic per change topic
type KafkaBus struct {
	brokers []string
	prefix  string
	writer  *kafka.Writer
}

// NewKafkaBus create KafkaBus
func NewKafkaBus(brokers []string, prefix string) *KafkaBus {
	return &KafkaBus{
		brokers: brokers,
		prefix:  prefix,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
	}
}

// EnsureTopics create every change topic with a single partition,
// per-topic commit order relies on it
func (b *KafkaBus) EnsureTopics(ctx context.Context) error {
	if len(b.brokers) == 0 {
		return errors.New("kafka: no brokers")
	}
	conn, err := kafka.DialContext(ctx, "tcp", b.brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	ctrl, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer ctrl.Close()

	configs := make([]kafka.TopicConfig, 0, len(domain.Topics))
	for _, t := range domain.Topics {
		configs = append(configs, kafka.TopicConfig{
			Topic:             ChannelName(b.prefix, t),
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
	}
	return ctrl.CreateTopics(configs...)
}

// Publish write event to the topic partition
func (b *KafkaBus) Publish(ctx context.Context, evt domain.ChangeEvent) error {
	data, err := encodeEvent(evt)
	if err != nil {
		return err
	}
	return b.writer.WriteMessages(ctx, kafka.Message{
		Topic: ChannelName(b.prefix, evt.Topic),
		Key:   []byte(evt.RoomID),
		Value: data,
	})
}

// Subscribe read the topic from its current end. The end offset is resolved
// before returning, events committed after Subscribe are always delivered.
func (b *KafkaBus) Subscribe(ctx context.Context, topic domain.Topic, filter domain.Filter, h Handler, onDrop DropHandler) (Subscription, error) {
	name := ChannelName(b.prefix, topic)
	offset, err := b.lastOffset(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("kafka subscribe %s: %w", topic, err)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.brokers,
		Topic:       name,
		Partition:   0,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     250 * time.Millisecond,
		MaxAttempts: readerMaxAttempts,
	})
	if err := reader.SetOffset(offset); err != nil {
		reader.Close()
		return nil, fmt.Errorf("kafka subscribe %s: %w", topic, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	s := newSubscription(topic, filter, h, onDrop, func() error {
		cancel()
		return reader.Close()
	})
	s.start(func() error {
		for {
			m, err := reader.ReadMessage(readCtx)
			if err != nil {
				if s.stopped() || errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			s.deliver(m.Value)
		}
	})
	return s, nil
}

// lastOffset end offset of partition 0, read from its leader
func (b *KafkaBus) lastOffset(ctx context.Context, name string) (int64, error) {
	if len(b.brokers) == 0 {
		return 0, errors.New("kafka: no brokers")
	}
	conn, err := kafka.DialLeader(ctx, "tcp", b.brokers[0], name, 0)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return 0, err
		}
	}
	return conn.ReadLastOffset()
}

// Close flush and close the writer
func (b *KafkaBus) Close() error {
	return b.writer.Close()
}
