package domain

import "time"

// TypingIndicator one row per (room_id, user_id), upsert only
type TypingIndicator struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	RoomID    string    `gorm:"uniqueIndex:idx_typing_room_user;not null" json:"room_id"`
	UserID    string    `gorm:"uniqueIndex:idx_typing_room_user;not null" json:"user_id"`
	IsTyping  bool      `gorm:"not null;default:false" json:"is_typing"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`

	// DisplayName joined from profiles for the remote view
	DisplayName string `gorm:"-" json:"display_name,omitempty"`
}

// TableName gorm table name
func (TypingIndicator) TableName() string {
	return "typing_indicators"
}
