package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/prn-tf/filevault/internal/domain"
	"github.com/prn-tf/filevault/internal/metrics"
	"github.com/prn-tf/filevault/internal/repository"
)

// UserService handles registration and password verification.
type UserService struct {
	userRepo   repository.UserRepository
	bcryptCost int
	logger     zerolog.Logger

	compareHash func(hash, password []byte) error

	// dummyHash is compared against when the email is unknown so that
	// both failure paths cost one bcrypt comparison.
	dummyOnce sync.Once
	dummyHash []byte
}

// NewUserService creates a new UserService.
// A bcryptCost outside bcrypt's accepted range selects bcrypt.DefaultCost.
func NewUserService(userRepo repository.UserRepository, bcryptCost int, logger zerolog.Logger) *UserService {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &UserService{
		userRepo:    userRepo,
		bcryptCost:  bcryptCost,
		logger:      logger.With().Str("service", "user").Logger(),
		compareHash: bcrypt.CompareHashAndPassword,
	}
}

func (s *UserService) unknownUserHash() []byte {
	s.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("filevault-unknown-user"), s.bcryptCost)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to generate placeholder password hash")
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

// RegisterInput contains the data needed to register a user.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// Register creates a new user account.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	email, err := validateRegisterInput(input)
	if err != nil {
		return nil, err
	}

	exists, err := s.userRepo.ExistsByEmail(ctx, email)
	if err != nil {
		s.logger.Error().Err(err).Str("email", email).Msg("failed to check email existence")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: email '%s'", ErrUserAlreadyExists, email)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.bcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, fmt.Errorf("%w: longer than 72 bytes", ErrInvalidPassword)
		}
		s.logger.Error().Err(err).Msg("failed to hash password")
		return nil, fmt.Errorf("%w: failed to hash password", ErrInternalError)
	}

	user := domain.NewUser(email, input.Name, string(passwordHash))
	if err := s.userRepo.Create(ctx, user); err != nil {
		// Lost a race with a concurrent registration of the same email.
		if errors.Is(err, domain.ErrUserAlreadyExists) {
			return nil, fmt.Errorf("%w: email '%s'", ErrUserAlreadyExists, email)
		}
		s.logger.Error().Err(err).Str("email", email).Msg("failed to create user")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().
		Str("user_id", user.ID.String()).
		Str("email", user.Email).
		Msg("user registered")

	return user, nil
}

// AuthenticateInput contains login credentials.
type AuthenticateInput struct {
	Email    string
	Password string
}

// Authenticate verifies user credentials and returns the user.
// Unknown email and wrong password both return ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, input AuthenticateInput) (*domain.User, error) {
	email := domain.NormalizeEmail(input.Email)

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			s.logger.Error().Err(err).Str("email", email).Msg("failed to load user during authentication")
			return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		_ = s.compareHash(s.unknownUserHash(), []byte(input.Password))
		s.logger.Debug().Str("email", email).Msg("user not found during authentication")
		metrics.RecordAuthAttempt(false)
		return nil, ErrInvalidCredentials
	}

	if err := s.compareHash([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		s.logger.Debug().Str("email", email).Msg("invalid password during authentication")
		metrics.RecordAuthAttempt(false)
		return nil, ErrInvalidCredentials
	}

	metrics.RecordAuthAttempt(true)
	s.logger.Info().
		Str("user_id", user.ID.String()).
		Msg("user authenticated")

	return user, nil
}

// GetByID retrieves a user profile by ID.
func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetProfileByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		s.logger.Error().Err(err).Str("user_id", id.String()).Msg("failed to get user")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return user, nil
}

// ListUsersInput contains pagination options for listing users.
type ListUsersInput struct {
	Limit  int
	Offset int
}

// ListUsersOutput contains the result of listing users.
type ListUsersOutput struct {
	Users      []*domain.User
	TotalCount int64
}

// List returns all users with pagination.
func (s *UserService) List(ctx context.Context, input ListUsersInput) (*ListUsersOutput, error) {
	if input.Limit <= 0 {
		input.Limit = 20
	}
	if input.Limit > 100 {
		input.Limit = 100
	}

	result, err := s.userRepo.List(ctx, repository.ListOptions{
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list users")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	return &ListUsersOutput{
		Users:      result.Items,
		TotalCount: result.Total,
	}, nil
}

// validateRegisterInput returns the normalized email of a valid input.
// Display-name forms such as "Alice <alice@example.com>" are rejected.
func validateRegisterInput(input RegisterInput) (string, error) {
	raw := strings.TrimSpace(input.Email)
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", ErrInvalidEmail
	}
	if input.Password == "" {
		return "", ErrInvalidPassword
	}
	return domain.NormalizeEmail(raw), nil
}
