package repository

import (
	"context"
	"fmt"
	"time"

	"chat_sync_service/internal/chat/domain"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MessageCollection mongo collection name
const MessageCollection = "messages"

type messageRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMongoMessageRepository create a MessageRepository
func NewMongoMessageRepository(db *mongo.Database) MessageRepository {
	return &messageRepository{
		coll: db.Collection(MessageCollection),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// EnsureMessageIndexes room timeline index
func EnsureMessageIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(MessageCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
	})
	return err
}

// ListByRoom room messages, oldest first
func (r *messageRepository) ListByRoom(ctx context.Context, roomID string) ([]domain.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.M{"room_id": roomID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	msgs := []domain.Message{}
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Insert 寫入一筆聊天訊息, id is a time-ordered UUIDv7
func (r *messageRepository) Insert(ctx context.Context, in domain.NewMessage) (*domain.Message, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}

	msg := &domain.Message{
		ID:        id.String(),
		RoomID:    in.RoomID,
		UserID:    in.UserID,
		Content:   in.Content,
		CreatedAt: r.now().Truncate(time.Millisecond),
	}
	if _, err := r.coll.InsertOne(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
