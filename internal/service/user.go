// Package service holds the registration and login rules.
//
//	Handler (HTTP) → UserService → UserRepository (DB)
//	                             ↘ PasswordService (bcrypt)
//
// The service takes and returns plain Go values; it never sees an
// http.Request. Failures are apperror values so the handler can pick the
// status code.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/user-registry/internal/apperror"
	"github.com/sakif/user-registry/internal/auth"
	"github.com/sakif/user-registry/internal/model"
	"github.com/sakif/user-registry/internal/repository"
)

// UserService registers, authenticates and looks up users.
type UserService struct {
	users     repository.UserRepository
	passwords *auth.PasswordService
	logger    *slog.Logger
}

// NewUserService creates a UserService.
func NewUserService(users repository.UserRepository, passwords *auth.PasswordService, logger *slog.Logger) *UserService {
	return &UserService{
		users:     users,
		passwords: passwords,
		logger:    logger,
	}
}

// RegisterInput is the registration form after parsing. ProfilePicture is
// the uploaded file's name; empty means no profile row is created.
type RegisterInput struct {
	FullName       string
	Email          string
	Password       string
	Phone          string
	ProfilePicture string
}

// Register creates a user and, when a picture name is given, its profile.
//
// Email and phone must both be unused. The pre-insert lookup gives the usual
// answer; a concurrent registration that slips past it is stopped by the
// store's unique constraints and reported the same way.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.ProfilePicture = strings.TrimSpace(in.ProfilePicture)

	required := []struct{ field, value string }{
		{"full_name", in.FullName},
		{"email", in.Email},
		{"password", in.Password},
		{"phone", in.Phone},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, apperror.ValidationFailed(r.field, r.field+" is required")
		}
	}

	exists, err := s.users.ExistsByEmailOrPhone(ctx, in.Email, in.Phone)
	if err != nil {
		return nil, fmt.Errorf("service: checking existing user: %w", err)
	}
	if exists {
		s.logger.Info("registration rejected: email or phone taken", slog.String("email", in.Email))
		return nil, apperror.AlreadyRegistered()
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service: hashing password: %w", err)
	}

	user := &model.User{
		FullName:     in.FullName,
		Email:        in.Email,
		PasswordHash: hash,
		Phone:        in.Phone,
	}
	var profile *model.Profile
	if in.ProfilePicture != "" {
		profile = &model.Profile{ProfilePicture: in.ProfilePicture}
	}

	if err := s.users.Create(ctx, user, profile); err != nil {
		if errors.Is(err, apperror.ErrAlreadyRegistered) {
			s.logger.Info("registration lost a uniqueness race", slog.String("email", in.Email))
		}
		return nil, fmt.Errorf("service: creating user: %w", err)
	}

	s.logger.Info("user registered",
		slog.Int64("userID", user.ID),
		slog.String("email", user.Email),
		slog.Bool("profile", profile != nil),
	)
	return user, nil
}

// Authenticate checks a login. username is the user's email.
//
// An unknown email and a wrong password produce the same
// apperror.ErrInvalidCredentials, and both cost one bcrypt comparison.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	username = strings.TrimSpace(username)

	user, err := s.users.GetByEmail(ctx, username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.passwords.VerifyDummy(password)
			s.logger.Warn("login failed: unknown email", slog.String("username", username))
			return nil, apperror.InvalidCredentials()
		}
		return nil, fmt.Errorf("service: looking up %q: %w", username, err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Warn("login failed: wrong password", slog.Int64("userID", user.ID))
			return nil, apperror.InvalidCredentials()
		}
		return nil, fmt.Errorf("service: verifying password of user %d: %w", user.ID, err)
	}

	s.logger.Info("login succeeded", slog.Int64("userID", user.ID))
	return user, nil
}

// GetByID returns the public view of one user. ProfilePicture is empty when
// the user has no profile.
func (s *UserService) GetByID(ctx context.Context, id int64) (*model.UserWithProfile, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &model.UserWithProfile{
		ID:       user.ID,
		FullName: user.FullName,
		Email:    user.Email,
		Phone:    user.Phone,
	}

	profile, err := s.users.GetProfileByUserID(ctx, id)
	switch {
	case err == nil:
		view.ProfilePicture = profile.ProfilePicture
	case errors.Is(err, apperror.ErrNotFound):
	default:
		return nil, fmt.Errorf("service: fetching profile of user %d: %w", id, err)
	}

	return view, nil
}

// ListWithProfiles returns the users shown on the home page: those that have
// a profile.
func (s *UserService) ListWithProfiles(ctx context.Context) ([]model.UserWithProfile, error) {
	users, err := s.users.ListWithProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: listing users: %w", err)
	}
	s.logger.Debug("listed users", slog.Int("count", len(users)))
	return users, nil
}
