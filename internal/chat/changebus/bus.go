package changebus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/logger"

	"go.uber.org/zap"
)

// Handler receives change events of one subscription, one at a time,
// in the order the authority committed them.
type Handler func(evt domain.ChangeEvent)

// DropHandler is told once when the transport behind a subscription is lost.
// The subscription is not resumed.
type DropHandler func(topic domain.Topic, err error)

// Subscription handle returned by Subscribe
type Subscription interface {
	Topic() domain.Topic
	// Unsubscribe releases the subscription. No handler call starts after it
	// returns. It must not be called from inside the subscription's handler.
	Unsubscribe() error
}

// Bus topic scoped publish / subscribe over an external notification channel
type Bus interface {
	Subscribe(ctx context.Context, topic domain.Topic, filter domain.Filter, h Handler, onDrop DropHandler) (Subscription, error)
	Publish(ctx context.Context, evt domain.ChangeEvent) error
	Close() error
}

// ChannelName wire name of a topic
func ChannelName(prefix string, topic domain.Topic) string {
	if prefix == "" {
		prefix = "chat"
	}
	return prefix + "." + string(topic)
}

func encodeEvent(evt domain.ChangeEvent) ([]byte, error) {
	if evt.Entity == "" {
		evt.Entity = domain.EntityOf(evt.Topic)
	}
	return json.Marshal(evt)
}

func decodeEvent(topic domain.Topic, data []byte) (domain.ChangeEvent, error) {
	var evt domain.ChangeEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return evt, err
	}
	if evt.Topic == "" {
		evt.Topic = topic
	}
	return evt, nil
}

// subscription shared dispatcher state for every driver
type subscription struct {
	topic   domain.Topic
	filter  domain.Filter
	handler Handler
	onDrop  DropHandler

	stop        chan struct{}
	done        chan struct{}
	stopOnce    sync.Once
	releaseOnce sync.Once
	release     func() error
	releaseErr  error
}

func newSubscription(topic domain.Topic, filter domain.Filter, h Handler, onDrop DropHandler, release func() error) *subscription {
	return &subscription{
		topic:   topic,
		filter:  filter,
		handler: h,
		onDrop:  onDrop,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		release: release,
	}
}

// start runs receive on its own goroutine, receive returns the transport error or nil
func (s *subscription) start(receive func() error) {
	go func() {
		defer close(s.done)
		err := receive()
		s.doRelease()
		if err != nil {
			s.drop(err)
		}
	}()
}

func (s *subscription) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *subscription) deliver(data []byte) {
	if s.stopped() {
		return
	}
	evt, err := decodeEvent(s.topic, data)
	if err != nil {
		logger.Log.Warn("change event decode", zap.String("topic", string(s.topic)), zap.Error(err))
		return
	}
	if !s.filter.Matches(evt) {
		return
	}
	s.handler(evt)
}

func (s *subscription) drop(err error) {
	if s.stopped() || s.onDrop == nil {
		return
	}
	logger.Log.Warn("change bus subscription dropped", zap.String("topic", string(s.topic)), zap.Error(err))
	s.onDrop(s.topic, fmt.Errorf("%w: %s: %v", domain.ErrChannelDropped, s.topic, err))
}

func (s *subscription) doRelease() error {
	s.releaseOnce.Do(func() {
		if s.release != nil {
			s.releaseErr = s.release()
		}
	})
	return s.releaseErr
}

func (s *subscription) Topic() domain.Topic {
	return s.topic
}

func (s *subscription) Unsubscribe() error {
	s.stopOnce.Do(func() { close(s.stop) })
	err := s.doRelease()
	<-s.done
	return err
}
