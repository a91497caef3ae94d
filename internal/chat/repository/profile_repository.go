package repository

import (
	"context"
	"errors"
	"time"

	"chat_sync_service/internal/chat/domain"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const profileColumns = "id, user_id, display_name, avatar_url, status, created_at, updated_at"

type profileRepository struct {
	db *pgxpool.Pool
}

// NewProfileRepository create a ProfileRepository
func NewProfileRepository(db *pgxpool.Pool) ProfileRepository {
	return &profileRepository{db: db}
}

// MigrateProfiles create profiles table when missing
func MigrateProfiles(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, `
      CREATE TABLE IF NOT EXISTS profiles (
        id           TEXT PRIMARY KEY,
        user_id      TEXT NOT NULL UNIQUE,
        display_name TEXT,
        avatar_url   TEXT,
        status       TEXT NOT NULL DEFAULT 'offline',
        created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
        updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
      )`)
	return err
}

func scanProfile(row pgx.Row) (*domain.Profile, error) {
	var (
		p      domain.Profile
		status string
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.DisplayName, &p.AvatarURL, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = domain.ProfileStatus(status)
	return &p, nil
}

// FindByUserID point lookup
func (r *profileRepository) FindByUserID(ctx context.Context, userID string) (*domain.Profile, error) {
	row := r.db.QueryRow(ctx, "SELECT "+profileColumns+" FROM profiles WHERE user_id = $1", userID)
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return p, err
}

// ListOnline online profiles by display name
func (r *profileRepository) ListOnline(ctx context.Context) ([]domain.Profile, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+profileColumns+" FROM profiles WHERE status = $1 ORDER BY display_name ASC NULLS LAST, user_id ASC",
		string(domain.StatusOnline))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := []domain.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// UpdateStatus older writes than the stored updated_at are ignored
func (r *profileRepository) UpdateStatus(ctx context.Context, userID string, status domain.ProfileStatus, at time.Time) error {
	_, err := r.db.Exec(ctx,
		"UPDATE profiles SET status = $1, updated_at = $2 WHERE user_id = $3 AND updated_at <= $2",
		string(status), at, userID)
	return err
}
