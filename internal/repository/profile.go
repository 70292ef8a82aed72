package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/armiapp/armi/internal/model"
)

type ProfileRepository interface {
	ByUserID(userID string) (*model.Profile, error)
	Create(profile *model.Profile) error
	UpdateName(userID, name string) error
	UpsertSelectedListType(userID string, listType model.ListType) error
	SetProForLife(userID string, proForLife bool) error
}

type profileRepository struct {
	db *sqlx.DB
}

func NewProfileRepository(db *sqlx.DB) ProfileRepository {
	return &profileRepository{db: db}
}

func (r *profileRepository) ByUserID(userID string) (*model.Profile, error) {
	var profile model.Profile
	err := r.db.Get(&profile, `SELECT * FROM profiles WHERE user_id = $1`, userID)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}

	return &profile, nil
}

func (r *profileRepository) Create(profile *model.Profile) error {
	if profile.ID == "" {
		profile.ID = uuid.New().String()
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now()
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = profile.CreatedAt
	}

	_, err := r.db.Exec(`
		INSERT INTO profiles (id, user_id, name, is_pro_for_life, selected_list_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, profile.ID, profile.UserID, profile.Name, profile.IsProForLife, profile.SelectedListType, profile.CreatedAt, profile.UpdatedAt)

	return err
}

func (r *profileRepository) UpdateName(userID, name string) error {
	result, err := r.db.Exec(`
		UPDATE profiles
		SET name = $1, updated_at = $2
		WHERE user_id = $3
	`, name, time.Now(), userID)
	if err != nil {
		return err
	}
	return expectRows(result, ErrProfileNotFound)
}

// UpsertSelectedListType creates the profile row when it is missing.
func (r *profileRepository) UpsertSelectedListType(userID string, listType model.ListType) error {
	now := time.Now()
	_, err := r.db.Exec(`
		INSERT INTO profiles (id, user_id, name, is_pro_for_life, selected_list_type, created_at, updated_at)
		VALUES ($1, $2, '', FALSE, $3, $4, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET selected_list_type = excluded.selected_list_type, updated_at = excluded.updated_at
	`, uuid.New().String(), userID, listType, now)
	return err
}

func (r *profileRepository) SetProForLife(userID string, proForLife bool) error {
	result, err := r.db.Exec(`
		UPDATE profiles
		SET is_pro_for_life = $1, updated_at = $2
		WHERE user_id = $3
	`, proForLife, time.Now(), userID)
	if err != nil {
		return err
	}
	return expectRows(result, ErrProfileNotFound)
}
