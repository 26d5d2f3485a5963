// Package repository declares the storage contract for users and profiles.
// Concrete stores live in the sqlite and postgres subpackages; the service
// layer only sees this interface.
package repository

import (
	"context"

	"github.com/sakif/user-registry/internal/model"
)

// UserRepository is implemented by every store backend.
//
// Lookups that find nothing return an error wrapping apperror.ErrNotFound.
// Create translates unique-constraint violations on email or phone into
// apperror.ErrAlreadyRegistered.
type UserRepository interface {
	// ExistsByEmailOrPhone reports whether any user has this email OR this phone.
	ExistsByEmailOrPhone(ctx context.Context, email, phone string) (bool, error)

	// Create inserts user and, when profile is non-nil, its profile, in one
	// transaction. It sets user.ID, user.CreatedAt, profile.ID,
	// profile.UserID and profile.CreatedAt.
	Create(ctx context.Context, user *model.User, profile *model.Profile) error

	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetProfileByUserID(ctx context.Context, userID int64) (*model.Profile, error)

	// ListWithProfiles joins users to profiles. Users without a profile are
	// not returned. Rows are ordered by user id.
	ListWithProfiles(ctx context.Context) ([]model.UserWithProfile, error)

	Close() error
}
