package domain

import "time"

// RoomKind definition chat room kind
type RoomKind string

const (
	// RoomKindPublic everyone can see the room
	RoomKindPublic RoomKind = "public"
	// RoomKindPrivate invited members only
	RoomKindPrivate RoomKind = "private"
)

// DefaultRoomName is preferred when no room is selected yet
const DefaultRoomName = "General"

// Room definition chat room
type Room struct {
	ID        string    `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	Kind      RoomKind  `bson:"type" json:"type"`
	CreatedBy *string   `bson:"created_by,omitempty" json:"created_by,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
