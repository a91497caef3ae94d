package domain

import (
	"strings"
	"time"
)

// Message 表示一則聊天訊息, append-only
type Message struct {
	ID        string    `bson:"_id" json:"id"`
	RoomID    string    `bson:"room_id" json:"room_id"`
	UserID    string    `bson:"user_id" json:"user_id"`
	Content   string    `bson:"content" json:"content"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`

	// Author is the point-in-time profile join, nil while unresolved
	Author *Author `bson:"-" json:"profiles,omitempty"`
}

// Author denormalized profile fields shown next to a message
type Author struct {
	DisplayName string  `json:"display_name"`
	AvatarURL   *string `json:"avatar_url"`
}

// NewMessage 發送前的訊息, content is trimmed
type NewMessage struct {
	RoomID  string
	UserID  string
	Content string
}

// Before reports total order: created_at ascending, id ascending on ties
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// Complete reports whether the record carries every field needed to merge it
func (m Message) Complete() bool {
	return m.ID != "" && m.RoomID != "" && m.UserID != "" && !m.CreatedAt.IsZero()
}

// DisplayName 作者名稱, fallback when unresolved
func (m Message) DisplayName() string {
	if m.Author == nil || m.Author.DisplayName == "" {
		return UnknownUser
	}
	return m.Author.DisplayName
}

// ValidateContent trims content and rejects whitespace-only input
func ValidateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	return trimmed, nil
}
