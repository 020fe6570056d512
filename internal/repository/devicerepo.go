// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/paircloud/internal/model"
)

// DeviceRepository stores clients paired with a server instance.
type DeviceRepository interface {
	// Create inserts a newly paired device; ErrAlreadyExists if the user id is known.
	Create(ctx context.Context, d *model.Device) error
	// Touch refreshes last_seen for a known device.
	Touch(ctx context.Context, userID uint64) error
	// GetByUserID loads a device by its transport user id.
	GetByUserID(ctx context.Context, userID uint64) (*model.Device, error)
	// List returns all paired devices ordered by pairing time.
	List(ctx context.Context) ([]model.Device, error)
	// Delete unpairs a device.
	Delete(ctx context.Context, userID uint64) error
}
