// Package model defines the records stored in and read from the user registry.
package model

import "time"

// User is a registered account. Email and Phone are each unique across users.
//
// PasswordHash is a bcrypt string; the json:"-" tag keeps it out of every
// API response.
type User struct {
	ID           int64     `json:"id"         db:"id"`
	FullName     string    `json:"full_name"  db:"full_name"`
	Email        string    `json:"email"      db:"email"`
	PasswordHash string    `json:"-"          db:"password_hash"`
	Phone        string    `json:"phone"      db:"phone"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Profile belongs to exactly one User. ProfilePicture is only the uploaded
// file's name; the bytes are not kept.
type Profile struct {
	ID             int64     `json:"id"              db:"id"`
	ProfilePicture string    `json:"profile_picture" db:"profile_picture"`
	UserID         int64     `json:"user_id"         db:"user_id"`
	CreatedAt      time.Time `json:"created_at"      db:"created_at"`
}

// UserWithProfile is one row of the users ⋈ profiles listing, and also the
// body of GET /user/{id}.
type UserWithProfile struct {
	ID             int64  `json:"id"`
	FullName       string `json:"full_name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	ProfilePicture string `json:"profile_picture"`
}
