package repository

import (
	"context"
	"time"

	"chat_sync_service/internal/chat/domain"
)

// RoomRepository definition chat room reads
type RoomRepository interface {
	// ListRooms ordered by created_at ascending
	ListRooms(ctx context.Context) ([]domain.Room, error)
	CreateRoom(ctx context.Context, room *domain.Room) error
	FindByName(ctx context.Context, name string) (*domain.Room, error)
}

// MessageRepository definition room message log
type MessageRepository interface {
	// ListByRoom ordered by created_at ascending, id on ties
	ListByRoom(ctx context.Context, roomID string) ([]domain.Message, error)
	Insert(ctx context.Context, msg domain.NewMessage) (*domain.Message, error)
}

// ProfileRepository definition profile lookups and status writes
type ProfileRepository interface {
	// FindByUserID returns domain.ErrNotFound on miss
	FindByUserID(ctx context.Context, userID string) (*domain.Profile, error)
	// ListOnline ordered by display_name ascending
	ListOnline(ctx context.Context) ([]domain.Profile, error)
	// UpdateStatus is last-write-wins on updated_at
	UpdateStatus(ctx context.Context, userID string, status domain.ProfileStatus, at time.Time) error
}

// TypingRepository definition typing indicator upserts
type TypingRepository interface {
	Upsert(ctx context.Context, ind domain.TypingIndicator) error
	// ListTyping rows of roomID with is_typing set, excluding excludeUserID
	ListTyping(ctx context.Context, roomID, excludeUserID string) ([]domain.TypingIndicator, error)
}

// Store the durable store collaborators used by one sync engine
type Store struct {
	Rooms    RoomRepository
	Messages MessageRepository
	Profiles ProfileRepository
	Typing   TypingRepository
}
