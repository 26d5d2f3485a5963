// Package postgres implements repository.UserRepository on PostgreSQL using
// a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sakif/user-registry/internal/apperror"
	"github.com/sakif/user-registry/internal/model"
	"github.com/sakif/user-registry/internal/repository"
)

// SQLSTATE 23505
const uniqueViolation = "23505"

const connectTimeout = 5 * time.Second

var _ repository.UserRepository = (*DB)(nil)

// DB wraps a pgx pool.
type DB struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL, pings it and creates the tables.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parsing config: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}

	db := &DB{pool: pool}
	if err := db.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: running migrations: %w", err)
	}
	return db, nil
}

// Close releases every pooled connection.
func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

func (db *DB) migrate(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id            BIGSERIAL PRIMARY KEY,
			full_name     TEXT NOT NULL,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			phone         TEXT NOT NULL UNIQUE,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_users_full_name ON users(full_name);

		CREATE TABLE IF NOT EXISTS profiles (
			id              BIGSERIAL PRIMARY KEY,
			profile_picture TEXT NOT NULL DEFAULT '',
			user_id         BIGINT NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	if err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}
	return nil
}

// ExistsByEmailOrPhone reports whether the email or the phone is taken.
func (db *DB) ExistsByEmailOrPhone(ctx context.Context, email, phone string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1 OR phone = $2)`,
		email, phone,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: checking email/phone: %w", err)
	}
	return exists, nil
}

// Create inserts the user and optional profile in one transaction.
func (db *DB) Create(ctx context.Context, user *model.User, profile *model.Profile) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		userID    int64
		createdAt time.Time
	)
	err = tx.QueryRow(ctx,
		`INSERT INTO users (full_name, email, password_hash, phone)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		user.FullName, user.Email, user.PasswordHash, user.Phone,
	).Scan(&userID, &createdAt)
	if err != nil {
		return fmt.Errorf("postgres: inserting user: %w", translate(err, apperror.AlreadyRegistered()))
	}

	var p model.Profile
	if profile != nil {
		err = tx.QueryRow(ctx,
			`INSERT INTO profiles (profile_picture, user_id)
			 VALUES ($1, $2)
			 RETURNING id, created_at`,
			profile.ProfilePicture, userID,
		).Scan(&p.ID, &p.CreatedAt)
		if err != nil {
			return fmt.Errorf("postgres: inserting profile: %w", translate(err,
				apperror.Conflict("profile", fmt.Sprintf("user %d already has a profile", userID))))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: committing registration: %w", err)
	}

	user.ID = userID
	user.CreatedAt = createdAt
	if profile != nil {
		profile.ID = p.ID
		profile.UserID = userID
		profile.CreatedAt = p.CreatedAt
	}
	return nil
}

// GetByID returns apperror.ErrNotFound if no user has that id.
func (db *DB) GetByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := db.getUser(ctx, `WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("postgres: getting user %d: %w", id, err)
	}
	return u, nil
}

// GetByEmail returns apperror.ErrNotFound if no user has that email.
func (db *DB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := db.getUser(ctx, `WHERE email = $1`, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("postgres: getting user by email: %w", err)
	}
	return u, nil
}

func (db *DB) getUser(ctx context.Context, where string, arg any) (*model.User, error) {
	var u model.User
	err := db.pool.QueryRow(ctx,
		`SELECT id, full_name, email, password_hash, phone, created_at FROM users `+where,
		arg,
	).Scan(&u.ID, &u.FullName, &u.Email, &u.PasswordHash, &u.Phone, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetProfileByUserID returns apperror.ErrNotFound if the user has no profile.
func (db *DB) GetProfileByUserID(ctx context.Context, userID int64) (*model.Profile, error) {
	var p model.Profile
	err := db.pool.QueryRow(ctx,
		`SELECT id, profile_picture, user_id, created_at FROM profiles WHERE user_id = $1`,
		userID,
	).Scan(&p.ID, &p.ProfilePicture, &p.UserID, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("profile for user", userID)
		}
		return nil, fmt.Errorf("postgres: getting profile of user %d: %w", userID, err)
	}
	return &p, nil
}

// ListWithProfiles returns every user that has a profile, oldest first.
func (db *DB) ListWithProfiles(ctx context.Context) ([]model.UserWithProfile, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT u.id, u.full_name, u.email, u.phone, p.profile_picture
		 FROM users u
		 INNER JOIN profiles p ON p.user_id = u.id
		 ORDER BY u.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing users: %w", err)
	}

	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.UserWithProfile, error) {
		var u model.UserWithProfile
		err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.Phone, &u.ProfilePicture)
		return u, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scanning users: %w", err)
	}
	if users == nil {
		users = []model.UserWithProfile{}
	}
	return users, nil
}

// translate swaps a unique violation for domainErr and leaves other errors as
// they are.
func translate(err error, domainErr *apperror.AppError) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domainErr
	}
	return err
}
