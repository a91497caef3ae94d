package domain

import "time"

// UnknownUser fallback display name for unresolved profiles
const UnknownUser = "Unknown User"

// ProfileStatus 用來表示使用者狀態
type ProfileStatus string

const (
	// StatusOnline viewer session active
	StatusOnline ProfileStatus = "online"
	// StatusOffline no active session
	StatusOffline ProfileStatus = "offline"
)

// Profile one per user, status is last-write-wins by updated_at
type Profile struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	DisplayName *string       `json:"display_name"`
	AvatarURL   *string       `json:"avatar_url"`
	Status      ProfileStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Name display name or fallback
func (p Profile) Name() string {
	if p.DisplayName == nil || *p.DisplayName == "" {
		return UnknownUser
	}
	return *p.DisplayName
}

// Author projects the profile onto the message join
func (p Profile) Author() Author {
	return Author{DisplayName: p.Name(), AvatarURL: p.AvatarURL}
}

// FallbackAuthor used when the profile lookup fails
func FallbackAuthor() *Author {
	return &Author{DisplayName: UnknownUser}
}
