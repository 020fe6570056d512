package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/paircloud/internal/errs"
	"github.com/and161185/paircloud/internal/model"
)

// DeviceRepo implements DeviceRepository using PostgreSQL.
type DeviceRepo struct{ db *DB }

// NewDeviceRepo constructs a device repository.
func NewDeviceRepo(db *DB) *DeviceRepo { return &DeviceRepo{db: db} }

// Create inserts a paired device row.
func (r *DeviceRepo) Create(ctx context.Context, d *model.Device) error {
	const q = `
INSERT INTO devices (id, user_id, public_key, name)
VALUES ($1, $2, $3, $4)`
	_, err := r.db.Conn.Exec(ctx, q, d.ID, int64(d.UserID), d.PublicKey, d.Name)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Touch updates last_seen of a device.
func (r *DeviceRepo) Touch(ctx context.Context, userID uint64) error {
	const q = `UPDATE devices SET last_seen = now() WHERE user_id = $1`
	tag, err := r.db.Conn.Exec(ctx, q, int64(userID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// GetByUserID selects a device by user id.
func (r *DeviceRepo) GetByUserID(ctx context.Context, userID uint64) (*model.Device, error) {
	const q = `
SELECT id, user_id, public_key, name, paired_at, last_seen
FROM devices WHERE user_id=$1`
	var d model.Device
	var uid int64
	err := r.db.Conn.QueryRow(ctx, q, int64(userID)).
		Scan(&d.ID, &uid, &d.PublicKey, &d.Name, &d.PairedAt, &d.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	d.UserID = uint64(uid)
	return &d, nil
}

// List returns all devices ordered by paired_at.
func (r *DeviceRepo) List(ctx context.Context) ([]model.Device, error) {
	const q = `
SELECT id, user_id, public_key, name, paired_at, last_seen
FROM devices ORDER BY paired_at ASC`
	rows, err := r.db.Conn.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Device, 0)
	for rows.Next() {
		var d model.Device
		var uid int64
		if err := rows.Scan(&d.ID, &uid, &d.PublicKey, &d.Name, &d.PairedAt, &d.LastSeen); err != nil {
			return nil, err
		}
		d.UserID = uint64(uid)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Delete removes a device row.
func (r *DeviceRepo) Delete(ctx context.Context, userID uint64) error {
	const q = `DELETE FROM devices WHERE user_id = $1`
	tag, err := r.db.Conn.Exec(ctx, q, int64(userID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
