package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/task-service/internal/auth"
	"github.com/spec-kit/task-service/internal/config"
	"github.com/spec-kit/task-service/internal/domain"
	"github.com/spec-kit/task-service/internal/events"
	"github.com/spec-kit/task-service/internal/repository"
	"github.com/spec-kit/task-service/internal/validate"
	apperrors "github.com/spec-kit/task-service/pkg/util"
)

// AuthService coordinates registration, login and profile flows.
type AuthService struct {
	users      repository.UserRepository
	tokenMgr   *auth.TokenManager
	bcryptCost int
	dispatcher events.Dispatcher
}

// AuthDependencies encapsulates requirements for the auth service.
type AuthDependencies struct {
	UserRepo   repository.UserRepository
	Dispatcher events.Dispatcher
}

// ProfileUpdateInput carries optional profile fields.
type ProfileUpdateInput struct {
	Name  *string
	Email *string
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	return &AuthService{
		users:      deps.UserRepo,
		tokenMgr:   auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTLDays),
		bcryptCost: cfg.Auth.BcryptCost,
		dispatcher: deps.Dispatcher,
	}
}

// Register creates a new account and issues a token for it.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*domain.User, string, error) {
	if fieldErr := validate.First(
		validate.MinLen("name", name, 2, "Name must be at least 2 characters"),
		validate.Email("email", email),
		validate.MinLen("password", password, 6, "Password must be at least 6 characters"),
	); fieldErr != nil {
		return nil, "", apperrors.NewValidationError(fieldErr.Message)
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, "", apperrors.NewDuplicateEmail()
	} else if err != pgx.ErrNoRows {
		return nil, "", err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, "", err
	}

	user := &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, "", err
	}

	token, _, err := s.tokenMgr.GenerateToken(user.ID)
	if err != nil {
		return nil, "", err
	}

	s.publishEvent(ctx, events.Event{
		Type:   events.EventUserRegistered,
		UserID: user.ID,
		Payload: events.UserRegisteredPayload{
			Name:  user.Name,
			Email: user.Email,
		},
	})
	return user, token, nil
}

// Login authenticates by email and password. Unknown accounts and wrong
// passwords are indistinguishable in the returned error.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	if fieldErr := validate.First(
		validate.Email("email", email),
		validate.Required("password", password, "Password is required"),
	); fieldErr != nil {
		return nil, "", apperrors.NewValidationError(fieldErr.Message)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, "", apperrors.NewInvalidCredentials()
		}
		return nil, "", err
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, "", apperrors.NewInvalidCredentials()
	}

	token, _, err := s.tokenMgr.GenerateToken(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// UpdateProfile applies optional name/email changes and reissues a token so
// the client's cached identity stays consistent.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, input ProfileUpdateInput) (*domain.User, string, error) {
	if fieldErr := validate.First(
		validate.Optional(input.Name, func(v string) validate.Check {
			return validate.MinLen("name", v, 2, "Name must be at least 2 characters")
		}),
		validate.Optional(input.Email, func(v string) validate.Check {
			return validate.Email("email", v)
		}),
	); fieldErr != nil {
		return nil, "", apperrors.NewValidationError(fieldErr.Message)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, "", apperrors.NewNotFound("User")
		}
		return nil, "", err
	}

	if input.Email != nil && *input.Email != user.Email {
		if existing, err := s.users.GetByEmail(ctx, *input.Email); err == nil && existing.ID != user.ID {
			return nil, "", apperrors.NewDuplicateEmail()
		} else if err != nil && err != pgx.ErrNoRows {
			return nil, "", err
		}
		user.Email = *input.Email
	}
	if input.Name != nil {
		user.Name = *input.Name
	}

	if err := s.users.Update(ctx, user); err != nil {
		if err == pgx.ErrNoRows {
			return nil, "", apperrors.NewNotFound("User")
		}
		return nil, "", err
	}

	token, _, err := s.tokenMgr.GenerateToken(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

func (s *AuthService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}
