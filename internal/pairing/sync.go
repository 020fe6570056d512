package pairing

import (
	"context"

	"go.uber.org/zap"

	"github.com/and161185/paircloud/internal/errs"
	"github.com/and161185/paircloud/internal/mux"
	"github.com/and161185/paircloud/internal/vault"
)

// SyncSender sends a sync engine command through the multiplexer.
type SyncSender func(ctx context.Context, to mux.Target, code uint16, params ...[]byte) bool

// SyncEngine is the external data synchronization engine. It receives its
// inbound commands through HandleSync once registered with a Cloud.
type SyncEngine interface {
	mux.SyncHandler
	Start(credential []byte, send SyncSender) error
	Stop()
}

// StartSync starts the sync engine. A nil credential uses the session token.
func (c *Cloud) StartSync(credential []byte) error {
	c.mu.Lock()
	if c.tctx == nil {
		c.mu.Unlock()
		return errs.ErrNoContext
	}
	if c.syncing {
		c.mu.Unlock()
		return nil
	}
	if credential == nil && c.sess != nil {
		credential = c.sess.token
	}
	c.syncing = true
	c.mu.Unlock()

	if credential == nil {
		if tok, ok := c.opts.Vault.Get(vault.KeySessionKey); ok {
			credential = []byte(tok)
		}
	}
	if c.opts.Sync == nil {
		return nil
	}
	if err := c.opts.Sync.Start(credential, c.mux.SendSync); err != nil {
		c.mu.Lock()
		c.syncing = false
		c.mu.Unlock()
		return err
	}
	c.log.Info("sync started")
	return nil
}

// StopSync stops the sync engine if it runs.
func (c *Cloud) StopSync() {
	c.mu.Lock()
	was := c.syncing
	c.syncing = false
	c.mu.Unlock()
	if !was {
		return
	}
	if c.opts.Sync != nil {
		c.opts.Sync.Stop()
	}
	c.log.Info("sync stopped", zap.Uint64("instance", c.id))
}

// Syncing reports whether StartSync is in effect.
func (c *Cloud) Syncing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncing
}
