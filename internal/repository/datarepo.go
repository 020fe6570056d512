package repository

import (
	"context"

	"github.com/and161185/paircloud/internal/model"
)

// DataRepository provides versioned key/value records scoped per client user id.
type DataRepository interface {
	// Put inserts or replaces a record and returns it with its new version.
	Put(ctx context.Context, userID uint64, key string, value []byte) (model.DataRecord, error)
	// Get returns a single record.
	Get(ctx context.Context, userID uint64, key string) (*model.DataRecord, error)
	// List returns all records of a user ordered by key.
	List(ctx context.Context, userID uint64) ([]model.DataRecord, error)
	// Delete removes a record; ErrNotFound if absent.
	Delete(ctx context.Context, userID uint64, key string) error
}
