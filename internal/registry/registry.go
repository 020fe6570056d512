// Package registry owns the cloud instances of a process.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/paircloud/internal/errs"
	"github.com/and161185/paircloud/internal/pairing"
)

// Registry is a thread-safe ordered collection of instances.
type Registry struct {
	log *zap.Logger

	mu        sync.Mutex
	instances []*pairing.Cloud
}

// New constructs an empty registry.
func New(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{log: log}
}

// Create builds an instance and appends it. Instance ids are unique and a
// storage path can back one instance at a time.
func (r *Registry) Create(opts pairing.Options) (*pairing.Cloud, error) {
	id := opts.InstanceID()
	path := filepath.Clean(opts.StoragePath)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.instances {
		if c.ID() == id {
			return nil, fmt.Errorf("instance %016x: %w", id, errs.ErrAlreadyExists)
		}
		if filepath.Clean(c.StoragePath()) == path {
			return nil, fmt.Errorf("instance at %s: %w", opts.StoragePath, errs.ErrAlreadyExists)
		}
	}
	c, err := pairing.New(opts)
	if err != nil {
		return nil, err
	}
	r.instances = append(r.instances, c)
	r.log.Info("instance created", zap.Uint64("id", c.ID()), zap.Stringer("role", c.Role()))
	return c, nil
}

// Lookup finds an instance by id.
func (r *Registry) Lookup(id uint64) (*pairing.Cloud, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.instances {
		if c.ID() == id {
			return c, true
		}
	}
	return nil, false
}

// LastInstance returns the most recently added instance still present.
func (r *Registry) LastInstance() (*pairing.Cloud, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.instances) == 0 {
		return nil, false
	}
	return r.instances[len(r.instances)-1], true
}

// Len returns the number of instances.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// Remove detaches c and closes its transport context. On-disk data is kept.
func (r *Registry) Remove(c *pairing.Cloud) bool {
	r.mu.Lock()
	found := false
	for i, x := range r.instances {
		if x == c {
			r.instances = append(r.instances[:i], r.instances[i+1:]...)
			found = true
			break
		}
	}
	r.mu.Unlock()
	if !found {
		return false
	}
	if err := c.Close(); err != nil {
		r.log.Warn("close instance", zap.Uint64("id", c.ID()), zap.Error(err))
	}
	r.log.Info("instance removed", zap.Uint64("id", c.ID()))
	return true
}

// Destroy removes c and deletes its storage path recursively. It is
// irreversible; callers must confirm with the user before calling it.
func (r *Registry) Destroy(c *pairing.Cloud) error {
	path := c.StoragePath()
	r.Remove(c)
	if path == "" || filepath.Clean(path) == string(filepath.Separator) {
		return fmt.Errorf("refusing to delete %q", path)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("delete storage: %w", err)
	}
	r.log.Warn("instance destroyed", zap.String("path", path))
	return nil
}

// CloseAll removes every instance.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := append([]*pairing.Cloud(nil), r.instances...)
	r.mu.Unlock()
	for _, c := range all {
		r.Remove(c)
	}
}
