package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/paircloud/internal/errs"
	"github.com/and161185/paircloud/internal/model"
)

// DataRepo implements DataRepository using PostgreSQL.
type DataRepo struct{ db *DB }

// NewDataRepo constructs an admin data repository.
func NewDataRepo(db *DB) *DataRepo { return &DataRepo{db: db} }

// Put upserts a record, bumping its version.
func (r *DataRepo) Put(ctx context.Context, userID uint64, key string, value []byte) (model.DataRecord, error) {
	const q = `
INSERT INTO admin_data (user_id, key, value, ver)
VALUES ($1, $2, $3, 1)
ON CONFLICT (user_id, key)
DO UPDATE SET value = EXCLUDED.value, ver = admin_data.ver + 1, updated_at = now()
RETURNING ver, updated_at`
	rec := model.DataRecord{UserID: userID, Key: key, Value: value}
	if err := r.db.Conn.QueryRow(ctx, q, int64(userID), key, value).Scan(&rec.Ver, &rec.UpdatedAt); err != nil {
		return model.DataRecord{}, err
	}
	return rec, nil
}

// Get selects one record.
func (r *DataRepo) Get(ctx context.Context, userID uint64, key string) (*model.DataRecord, error) {
	const q = `
SELECT value, ver, updated_at
FROM admin_data WHERE user_id=$1 AND key=$2`
	rec := model.DataRecord{UserID: userID, Key: key}
	err := r.db.Conn.QueryRow(ctx, q, int64(userID), key).Scan(&rec.Value, &rec.Ver, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// List selects all records of a user.
func (r *DataRepo) List(ctx context.Context, userID uint64) ([]model.DataRecord, error) {
	const q = `
SELECT key, value, ver, updated_at
FROM admin_data WHERE user_id=$1 ORDER BY key ASC`
	rows, err := r.db.Conn.Query(ctx, q, int64(userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.DataRecord, 0)
	for rows.Next() {
		rec := model.DataRecord{UserID: userID}
		if err := rows.Scan(&rec.Key, &rec.Value, &rec.Ver, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes one record.
func (r *DataRepo) Delete(ctx context.Context, userID uint64, key string) error {
	const q = `DELETE FROM admin_data WHERE user_id=$1 AND key=$2`
	tag, err := r.db.Conn.Exec(ctx, q, int64(userID), key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
