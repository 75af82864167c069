package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"library-circulation/internal/domain"
	"library-circulation/internal/logger"
	"library-circulation/internal/repository"
)

type userService struct {
	userRepo  repository.UserRepository
	publisher ChangePublisher
	log       *slog.Logger
}

func NewUserService(userRepo repository.UserRepository, publisher ChangePublisher) UserService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &userService{userRepo: userRepo, publisher: publisher, log: logger.WithService("user")}
}

func (s *userService) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.userRepo.List(repository.WithEventualConsistency(ctx))
}

func (s *userService) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

// CreateUser registers a borrower. The defaulter flag always starts false.
func (s *userService) CreateUser(ctx context.Context, in UserInput) (*domain.User, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	user := &domain.User{ID: uuid.New(), Name: in.Name, Role: in.Role}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "User created", "user_id", user.ID, "role", user.Role)
	if err := s.publisher.Publish(context.WithoutCancel(ctx), domain.CollectionUsers); err != nil {
		s.log.WarnContext(ctx, "Failed to publish change", "collection", domain.CollectionUsers, "error", err)
	}
	return user, nil
}
