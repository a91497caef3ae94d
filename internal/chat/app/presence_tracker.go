package app

import (
	"context"
	"fmt"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
)

// PresenceTracker global online set and the viewer's own status binding
type PresenceTracker struct {
	userID string
	repo   repository.ProfileRepository
	online []domain.Profile
	fence  fence
}

// NewPresenceTracker create PresenceTracker
func NewPresenceTracker(userID string, repo repository.ProfileRepository) *PresenceTracker {
	return &PresenceTracker{userID: userID, repo: repo}
}

// ListOnline fetch the online set, ordered by display name
func (p *PresenceTracker) ListOnline(ctx context.Context) ([]domain.Profile, error) {
	profiles, err := p.repo.ListOnline(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list online: %w", domain.ErrFetchFailure, err)
	}
	return profiles, nil
}

// SetStatus write the viewer's own status stamped at
func (p *PresenceTracker) SetStatus(ctx context.Context, status domain.ProfileStatus, at time.Time) error {
	if err := p.repo.UpdateStatus(ctx, p.userID, status, at); err != nil {
		return fmt.Errorf("%w: set status %s: %w", domain.ErrWriteFailure, status, err)
	}
	return nil
}

func (p *PresenceTracker) begin() uint64 {
	return p.fence.next()
}

// apply replace the online set unless a newer fetch already landed.
// Rows not marked online are dropped.
func (p *PresenceTracker) apply(seq uint64, profiles []domain.Profile) bool {
	if !p.fence.accept(seq) {
		return false
	}
	online := make([]domain.Profile, 0, len(profiles))
	for _, pr := range profiles {
		if pr.Status == domain.StatusOnline {
			online = append(online, pr)
		}
	}
	p.online = online
	return true
}

// Online copy of the online set
func (p *PresenceTracker) Online() []domain.Profile {
	return append([]domain.Profile(nil), p.online...)
}
