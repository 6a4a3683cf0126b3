package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ragudos/chat-server/models"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Directory resolves a participant id to the attributes needed to render
// their messages.
type Directory interface {
	Resolve(ctx context.Context, userID int64) (models.User, error)
}

// PgUserDirectory reads the users table owned by the registration subsystem.
type PgUserDirectory struct {
	pool *pgxpool.Pool
}

func NewPgUserDirectory(pool *pgxpool.Pool) *PgUserDirectory {
	return &PgUserDirectory{pool: pool}
}

func (d *PgUserDirectory) Resolve(ctx context.Context, userID int64) (models.User, error) {
	var (
		user   models.User
		gender string
	)
	err := d.pool.QueryRow(ctx,
		`SELECT id, display_name, display_image, gender::text FROM users WHERE id = $1`,
		userID,
	).Scan(&user.ID, &user.DisplayName, &user.DisplayImage, &gender)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, fmt.Errorf("%w: %d", ErrNotFound, userID)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("%w: resolving user %d: %v", ErrStorage, userID, err)
	}
	user.Gender = models.ParseGender(gender)
	return user, nil
}
