// Package users stores accounts: username, Argon2id PHC hash and salt.
package users

import (
	"context"

	"github.com/dmitrijs2005/spots/internal/server/models"
)

// Repository persists users. Lookups return common.ErrorNotFound for unknown
// users and Create returns common.ErrorAlreadyExists for a taken username.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
}
