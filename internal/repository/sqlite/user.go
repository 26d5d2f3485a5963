package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/user-registry/internal/apperror"
	"github.com/sakif/user-registry/internal/model"
	"github.com/sakif/user-registry/internal/repository"
)

var _ repository.UserRepository = (*DB)(nil)

// ExistsByEmailOrPhone reports whether the email or the phone is taken.
func (db *DB) ExistsByEmailOrPhone(ctx context.Context, email, phone string) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = ? OR phone = ?)`,
		email, phone,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking email/phone: %w", err)
	}
	return exists, nil
}

// Create inserts the user and optional profile in one transaction.
func (db *DB) Create(ctx context.Context, user *model.User, profile *model.Profile) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback()

	now := time.Now().UTC()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (full_name, email, password_hash, phone, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		user.FullName,
		user.Email,
		user.PasswordHash,
		user.Phone,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlite: inserting user: %w", apperror.AlreadyRegistered())
		}
		return fmt.Errorf("sqlite: inserting user: %w", err)
	}
	userID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading user id: %w", err)
	}

	var profileID int64
	if profile != nil {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO profiles (profile_picture, user_id, created_at) VALUES (?, ?, ?)`,
			profile.ProfilePicture,
			userID,
			now,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("sqlite: inserting profile: %w",
					apperror.Conflict("profile", fmt.Sprintf("user %d already has a profile", userID)))
			}
			return fmt.Errorf("sqlite: inserting profile: %w", err)
		}
		if profileID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("sqlite: reading profile id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing registration: %w", err)
	}

	// Only touch the caller's structs once the rows are durable.
	user.ID = userID
	user.CreatedAt = now
	if profile != nil {
		profile.ID = profileID
		profile.UserID = userID
		profile.CreatedAt = now
	}
	return nil
}

// GetByID returns apperror.ErrNotFound if no user has that id.
func (db *DB) GetByID(ctx context.Context, id int64) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, full_name, email, password_hash, phone, created_at
		 FROM users WHERE id = ?`,
		id,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %d: %w", id, err)
	}
	return u, nil
}

// GetByEmail returns apperror.ErrNotFound if no user has that email.
func (db *DB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, full_name, email, password_hash, phone, created_at
		 FROM users WHERE email = ?`,
		email,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

// GetProfileByUserID returns apperror.ErrNotFound if the user has no profile.
func (db *DB) GetProfileByUserID(ctx context.Context, userID int64) (*model.Profile, error) {
	var p model.Profile
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, profile_picture, user_id, created_at FROM profiles WHERE user_id = ?`,
		userID,
	).Scan(&p.ID, &p.ProfilePicture, &p.UserID, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("profile for user", userID)
		}
		return nil, fmt.Errorf("sqlite: getting profile of user %d: %w", userID, err)
	}
	return &p, nil
}

// ListWithProfiles returns every user that has a profile, oldest first.
func (db *DB) ListWithProfiles(ctx context.Context) ([]model.UserWithProfile, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT u.id, u.full_name, u.email, u.phone, p.profile_picture
		 FROM users u
		 INNER JOIN profiles p ON p.user_id = u.id
		 ORDER BY u.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	users := make([]model.UserWithProfile, 0)
	for rows.Next() {
		var u model.UserWithProfile
		if err := rows.Scan(&u.ID, &u.FullName, &u.Email, &u.Phone, &u.ProfilePicture); err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}

	return users, nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.PasswordHash, &u.Phone, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
