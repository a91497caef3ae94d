package app

import (
	"context"
	"time"

	"chat_sync_service/internal/chat/domain"

	"github.com/stretchr/testify/mock"
)

// MockRoomRepository Mock RoomRepository
type MockRoomRepository struct {
	mock.Mock
}

// ListRooms mock list rooms
func (m *MockRoomRepository) ListRooms(ctx context.Context) ([]domain.Room, error) {
	args := m.Called(ctx)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Room), args.Error(1)
	}
	return nil, args.Error(1)
}

// CreateRoom mock create room
func (m *MockRoomRepository) CreateRoom(ctx context.Context, room *domain.Room) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

// FindByName mock find room by name
func (m *MockRoomRepository) FindByName(ctx context.Context, name string) (*domain.Room, error) {
	args := m.Called(ctx, name)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Room), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockMessageRepository Mock MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

// ListByRoom mock list room messages
func (m *MockMessageRepository) ListByRoom(ctx context.Context, roomID string) ([]domain.Message, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// Insert mock insert message
func (m *MockMessageRepository) Insert(ctx context.Context, msg domain.NewMessage) (*domain.Message, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockProfileRepository Mock ProfileRepository
type MockProfileRepository struct {
	mock.Mock
}

// FindByUserID mock profile lookup
func (m *MockProfileRepository) FindByUserID(ctx context.Context, userID string) (*domain.Profile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Profile), args.Error(1)
	}
	return nil, args.Error(1)
}

// ListOnline mock online list
func (m *MockProfileRepository) ListOnline(ctx context.Context) ([]domain.Profile, error) {
	args := m.Called(ctx)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Profile), args.Error(1)
	}
	return nil, args.Error(1)
}

// UpdateStatus mock status write
func (m *MockProfileRepository) UpdateStatus(ctx context.Context, userID string, status domain.ProfileStatus, at time.Time) error {
	args := m.Called(ctx, userID, status, at)
	return args.Error(0)
}

// MockTypingRepository Mock TypingRepository
type MockTypingRepository struct {
	mock.Mock
}

// Upsert mock typing upsert
func (m *MockTypingRepository) Upsert(ctx context.Context, ind domain.TypingIndicator) error {
	args := m.Called(ctx, ind)
	return args.Error(0)
}

// ListTyping mock typing list
func (m *MockTypingRepository) ListTyping(ctx context.Context, roomID, excludeUserID string) ([]domain.TypingIndicator, error) {
	args := m.Called(ctx, roomID, excludeUserID)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.TypingIndicator), args.Error(1)
	}
	return nil, args.Error(1)
}
