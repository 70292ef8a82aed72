package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/armiapp/armi/internal/model"
	"github.com/armiapp/armi/internal/repository"
	"github.com/armiapp/armi/internal/validation"
)

type ProfileService struct {
	profileRepo repository.ProfileRepository
}

func NewProfileService(profileRepo repository.ProfileRepository) *ProfileService {
	return &ProfileService{
		profileRepo: profileRepo,
	}
}

// ByUserID returns repository.ErrProfileNotFound for users without a profile row.
func (s *ProfileService) ByUserID(userID string) (*model.Profile, error) {
	return s.profileRepo.ByUserID(userID)
}

func (s *ProfileService) Create(profile *model.Profile) error {
	return s.profileRepo.Create(profile)
}

func (s *ProfileService) UpdateName(userID, name string) error {
	name = strings.TrimSpace(name)

	err := validation.ValidateName(name)
	if err != nil {
		return err
	}

	return s.profileRepo.UpdateName(userID, name)
}

func (s *ProfileService) UpdateSelectedListType(userID string, listType model.ListType) error {
	if !listType.Valid() {
		return fmt.Errorf("%w: %q", model.ErrInvalidListType, listType)
	}

	err := s.profileRepo.UpsertSelectedListType(userID, listType)
	if err != nil {
		return fmt.Errorf("failed to update list type: %w", err)
	}
	return nil
}

// SetProForLife creates the profile when the user never got one.
func (s *ProfileService) SetProForLife(userID string, proForLife bool) error {
	err := s.profileRepo.SetProForLife(userID, proForLife)
	if !errors.Is(err, repository.ErrProfileNotFound) {
		return err
	}

	return s.profileRepo.Create(&model.Profile{UserID: userID, IsProForLife: proForLife})
}
