package repository

import (
	"context"
	"encoding/json"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/logger"

	"go.uber.org/zap"
)

// Publisher write side of the change bus
type Publisher interface {
	Publish(ctx context.Context, evt domain.ChangeEvent) error
}

// NewPublishingStore wraps the write paths of s so every committed write
// emits a change event. Publish failures are logged, the write stands.
func NewPublishingStore(s Store, pub Publisher) Store {
	return Store{
		Rooms:    &publishingRooms{RoomRepository: s.Rooms, pub: pub},
		Messages: &publishingMessages{MessageRepository: s.Messages, pub: pub},
		Profiles: &publishingProfiles{ProfileRepository: s.Profiles, pub: pub},
		Typing:   &publishingTyping{TypingRepository: s.Typing, pub: pub},
	}
}

func publish(ctx context.Context, pub Publisher, evt domain.ChangeEvent, record interface{}) {
	if record != nil {
		data, err := json.Marshal(record)
		if err != nil {
			logger.Log.Warn("change event record marshal", zap.String("topic", string(evt.Topic)), zap.Error(err))
		} else {
			evt.Record = data
		}
	}
	if err := pub.Publish(ctx, evt); err != nil {
		logger.Log.Error("change event publish",
			zap.String("topic", string(evt.Topic)),
			zap.String("room_id", evt.RoomID),
			zap.String("user_id", evt.UserID),
			zap.Error(err),
		)
	}
}

type publishingRooms struct {
	RoomRepository
	pub Publisher
}

func (r *publishingRooms) CreateRoom(ctx context.Context, room *domain.Room) error {
	if err := r.RoomRepository.CreateRoom(ctx, room); err != nil {
		return err
	}
	publish(ctx, r.pub, domain.ChangeEvent{
		Topic:  domain.TopicRooms,
		Entity: domain.EntityRoom,
		Change: domain.ChangeInsert,
		RoomID: room.ID,
	}, room)
	return nil
}

type publishingMessages struct {
	MessageRepository
	pub Publisher
}

func (r *publishingMessages) Insert(ctx context.Context, in domain.NewMessage) (*domain.Message, error) {
	msg, err := r.MessageRepository.Insert(ctx, in)
	if err != nil {
		return nil, err
	}
	publish(ctx, r.pub, domain.ChangeEvent{
		Topic:  domain.TopicMessages,
		Entity: domain.EntityMessage,
		Change: domain.ChangeInsert,
		RoomID: msg.RoomID,
		UserID: msg.UserID,
	}, msg)
	return msg, nil
}

type publishingProfiles struct {
	ProfileRepository
	pub Publisher
}

func (r *publishingProfiles) UpdateStatus(ctx context.Context, userID string, status domain.ProfileStatus, at time.Time) error {
	if err := r.ProfileRepository.UpdateStatus(ctx, userID, status, at); err != nil {
		return err
	}
	publish(ctx, r.pub, domain.ChangeEvent{
		Topic:  domain.TopicProfiles,
		Entity: domain.EntityProfile,
		Change: domain.ChangeUpdate,
		UserID: userID,
	}, map[string]interface{}{"user_id": userID, "status": status, "updated_at": at})
	return nil
}

type publishingTyping struct {
	TypingRepository
	pub Publisher
}

func (r *publishingTyping) Upsert(ctx context.Context, ind domain.TypingIndicator) error {
	if err := r.TypingRepository.Upsert(ctx, ind); err != nil {
		return err
	}
	publish(ctx, r.pub, domain.ChangeEvent{
		Topic:  domain.TopicTypingIndicators,
		Entity: domain.EntityTypingIndicator,
		Change: domain.ChangeUpdate,
		RoomID: ind.RoomID,
		UserID: ind.UserID,
	}, ind)
	return nil
}
