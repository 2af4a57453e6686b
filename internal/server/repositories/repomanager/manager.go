package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/spots/internal/dbx"
	"github.com/dmitrijs2005/spots/internal/server/repositories/identitykeys"
	"github.com/dmitrijs2005/spots/internal/server/repositories/noncecounters"
	"github.com/dmitrijs2005/spots/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	IdentityKeys(db dbx.DBTX) identitykeys.Repository
	NonceCounters(db dbx.DBTX) noncecounters.Repository
}
