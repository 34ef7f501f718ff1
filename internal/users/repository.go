// Package users reads account contact details owned by the auth service.
package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursemart/backend/internal/models"
)

// Repository reads the users table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a users repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetContact returns the email and name for a user, or nil when the account is gone.
func (r *Repository) GetContact(ctx context.Context, userID string) (*models.UserContact, error) {
	const q = `SELECT id::text, email, COALESCE(full_name, '') FROM users WHERE id::text = $1`
	var u models.UserContact
	err := r.pool.QueryRow(ctx, q, userID).Scan(&u.ID, &u.Email, &u.FullName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
