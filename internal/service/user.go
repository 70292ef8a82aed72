package service

import (
	"fmt"
	"strings"

	"github.com/armiapp/armi/internal/model"
	"github.com/armiapp/armi/internal/repository"
)

type UserService struct {
	userRepository repository.UserRepository
}

func NewUserService(userRepository repository.UserRepository) *UserService {
	return &UserService{userRepository: userRepository}
}

func (s *UserService) ByID(id string) (*model.User, error) {
	return s.userRepository.ByID(id)
}

func (s *UserService) ByEmail(email string) (*model.User, error) {
	user, err := s.userRepository.ByEmail(strings.TrimSpace(strings.ToLower(email)))
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", email, err)
	}
	return user, nil
}
