package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is a row in the user directory. The chat core only reads it; account
// management belongs to the accounts service.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Nickname  string    `json:"nickname"`
	AvatarURL string    `json:"avatarUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

// Users is the read-only user directory lookup used by the handshake
// identity loader and chat-list summaries.
type Users struct {
	db *sql.DB
}

// NewUsers creates a user directory over the given database handle.
func NewUsers(db *sql.DB) *Users {
	return &Users{db: db}
}

// Get returns the user with the given id, or nil if no such user exists.
func (u *Users) Get(ctx context.Context, id int64) (*User, error) {
	const q = `SELECT id, username, nickname, avatar_url, created_at FROM users WHERE id = $1`

	usr := &User{}
	err := u.db.QueryRowContext(ctx, q, id).Scan(
		&usr.ID, &usr.Username, &usr.Nickname, &usr.AvatarURL, &usr.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user %d: %w", id, err)
	}
	return usr, nil
}
