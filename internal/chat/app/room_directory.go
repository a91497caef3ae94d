package app

import (
	"context"
	"fmt"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
)

// RoomDirectory cached room list, ordered by created_at
type RoomDirectory struct {
	repo  repository.RoomRepository
	rooms []domain.Room
	fence fence
}

// NewRoomDirectory create RoomDirectory
func NewRoomDirectory(repo repository.RoomRepository) *RoomDirectory {
	return &RoomDirectory{repo: repo}
}

// ListRooms fetch the room list from the store, safe off the event loop
func (d *RoomDirectory) ListRooms(ctx context.Context) ([]domain.Room, error) {
	rooms, err := d.repo.ListRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list rooms: %w", domain.ErrFetchFailure, err)
	}
	return rooms, nil
}

// begin tag a fetch about to be dispatched
func (d *RoomDirectory) begin() uint64 {
	return d.fence.next()
}

// apply replace the cached list unless a newer fetch already landed
func (d *RoomDirectory) apply(seq uint64, rooms []domain.Room) bool {
	if !d.fence.accept(seq) {
		return false
	}
	d.rooms = append([]domain.Room(nil), rooms...)
	return true
}

// Rooms copy of the cached list
func (d *RoomDirectory) Rooms() []domain.Room {
	return append([]domain.Room(nil), d.rooms...)
}

// Find cached room by id
func (d *RoomDirectory) Find(id string) *domain.Room {
	for i := range d.rooms {
		if d.rooms[i].ID == id {
			r := d.rooms[i]
			return &r
		}
	}
	return nil
}

// PickDefault the room named General if present, else the first room
func PickDefault(rooms []domain.Room) *domain.Room {
	if len(rooms) == 0 {
		return nil
	}
	for i := range rooms {
		if rooms[i].Name == domain.DefaultRoomName {
			r := rooms[i]
			return &r
		}
	}
	r := rooms[0]
	return &r
}
