// Package memory contains in-process implementations of repository interfaces,
// used when no database DSN is configured and in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/and161185/paircloud/internal/errs"
	"github.com/and161185/paircloud/internal/model"
)

// DeviceRepo is an in-memory DeviceRepository.
type DeviceRepo struct {
	mu      sync.RWMutex
	devices map[uint64]model.Device
}

// NewDeviceRepo constructs an empty device repository.
func NewDeviceRepo() *DeviceRepo { return &DeviceRepo{devices: map[uint64]model.Device{}} }

func (r *DeviceRepo) Create(_ context.Context, d *model.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[d.UserID]; ok {
		return errs.ErrAlreadyExists
	}
	cp := *d
	now := time.Now()
	cp.PairedAt, cp.LastSeen = now, now
	cp.PublicKey = append([]byte(nil), d.PublicKey...)
	r.devices[d.UserID] = cp
	return nil
}

func (r *DeviceRepo) Touch(_ context.Context, userID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[userID]
	if !ok {
		return errs.ErrNotFound
	}
	d.LastSeen = time.Now()
	r.devices[userID] = d
	return nil
}

func (r *DeviceRepo) GetByUserID(_ context.Context, userID uint64) (*model.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[userID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &d, nil
}

func (r *DeviceRepo) List(_ context.Context) ([]model.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PairedAt.Before(out[j].PairedAt) })
	return out, nil
}

func (r *DeviceRepo) Delete(_ context.Context, userID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[userID]; !ok {
		return errs.ErrNotFound
	}
	delete(r.devices, userID)
	return nil
}

type dataKey struct {
	userID uint64
	key    string
}

// DataRepo is an in-memory DataRepository.
type DataRepo struct {
	mu   sync.RWMutex
	recs map[dataKey]model.DataRecord
}

// NewDataRepo constructs an empty data repository.
func NewDataRepo() *DataRepo { return &DataRepo{recs: map[dataKey]model.DataRecord{}} }

func (r *DataRepo) Put(_ context.Context, userID uint64, key string, value []byte) (model.DataRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := dataKey{userID, key}
	rec := r.recs[k]
	rec.UserID, rec.Key = userID, key
	rec.Value = append([]byte(nil), value...)
	rec.Ver++
	rec.UpdatedAt = time.Now()
	r.recs[k] = rec
	return rec, nil
}

func (r *DataRepo) Get(_ context.Context, userID uint64, key string) (*model.DataRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.recs[dataKey{userID, key}]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &rec, nil
}

func (r *DataRepo) List(_ context.Context, userID uint64) ([]model.DataRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.DataRecord, 0)
	for k, rec := range r.recs {
		if k.userID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *DataRepo) Delete(_ context.Context, userID uint64, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := dataKey{userID, key}
	if _, ok := r.recs[k]; !ok {
		return errs.ErrNotFound
	}
	delete(r.recs, k)
	return nil
}
