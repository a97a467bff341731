package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/lily/pkg/database"
	syncerrors "github.com/Ramsey-B/lily/pkg/errors"
)

// Repository provides common database operations
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new base repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// DB returns the database instance
func (r *Repository) DB() database.DB {
	return r.db
}

// conn returns the transaction carried by ctx, or the pool.
func (r *Repository) conn(ctx context.Context) database.Querier {
	return r.db.Conn(ctx)
}

// classify maps a store error to PermissionDenied (with the grant needed on
// table) or DatabaseError.
func classify(err error, table string, privileges []string, action string) error {
	if database.IsPermissionDenied(err) {
		return syncerrors.PermissionDenied(table, privileges, err)
	}
	if database.IsUniqueViolation(err) {
		return syncerrors.DatabaseError(err, "duplicate key while trying to %s %s", action, table)
	}
	return syncerrors.DatabaseError(err, "failed to %s %s", action, table)
}
