package repository

import (
	"context"
	"errors"
	"time"

	"chat_sync_service/internal/chat/domain"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RoomCollection mongo collection name
const RoomCollection = "rooms"

type roomRepository struct {
	roomsColl *mongo.Collection
}

// NewMongoRoomRepository create new mongo room repository
func NewMongoRoomRepository(db *mongo.Database) RoomRepository {
	return &roomRepository{
		roomsColl: db.Collection(RoomCollection),
	}
}

// ListRooms list all rooms, oldest first
func (r *roomRepository) ListRooms(ctx context.Context) ([]domain.Room, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.roomsColl.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	rooms := []domain.Room{}
	if err := cur.All(ctx, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// CreateRoom create room, fills id and timestamps when empty
func (r *roomRepository) CreateRoom(ctx context.Context, room *domain.Room) error {
	now := time.Now().UTC()
	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	if room.Kind == "" {
		room.Kind = domain.RoomKindPublic
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	room.UpdatedAt = now

	_, err := r.roomsColl.InsertOne(ctx, room)
	return err
}

// FindByName find room by name
func (r *roomRepository) FindByName(ctx context.Context, name string) (*domain.Room, error) {
	var room domain.Room
	err := r.roomsColl.FindOne(ctx, bson.M{"name": name}).Decode(&room)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}
