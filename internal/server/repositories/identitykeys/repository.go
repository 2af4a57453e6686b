package identitykeys

import (
	"context"

	"github.com/dmitrijs2005/spots/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, key *models.IdentityKey) (*models.IdentityKey, error)
	Get(ctx context.Context, userID string) (*models.IdentityKey, error)
	Replace(ctx context.Context, key *models.IdentityKey) (*models.IdentityKey, error)
	ReplaceIf(ctx context.Context, key *models.IdentityKey, old []byte) (bool, error)
}
