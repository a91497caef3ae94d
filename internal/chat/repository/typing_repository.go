package repository

import (
	"context"

	"chat_sync_service/internal/chat/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TypingRepo definition typing indicator repo
type TypingRepo interface {
	TypingRepository
	AutoMigrate() error
}

type typingRepo struct {
	db *gorm.DB
}

// NewTypingRepo create TypingRepo
func NewTypingRepo(db *gorm.DB) TypingRepo {
	return &typingRepo{db: db}
}

// AutoMigrate create typing_indicators with the (room_id, user_id) unique index
func (r *typingRepo) AutoMigrate() error {
	return r.db.AutoMigrate(&domain.TypingIndicator{})
}

// Upsert ON CONFLICT (room_id, user_id) replace is_typing / updated_at
func (r *typingRepo) Upsert(ctx context.Context, ind domain.TypingIndicator) error {
	row := domain.TypingIndicator{
		RoomID:    ind.RoomID,
		UserID:    ind.UserID,
		IsTyping:  ind.IsTyping,
		UpdatedAt: ind.UpdatedAt,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_typing", "updated_at"}),
	}).Create(&row).Error
}

// ListTyping active typers of a room
func (r *typingRepo) ListTyping(ctx context.Context, roomID, excludeUserID string) ([]domain.TypingIndicator, error) {
	rows := []domain.TypingIndicator{}
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND is_typing = ? AND user_id <> ?", roomID, true, excludeUserID).
		Order("updated_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
