// Package limiter defines interfaces and implementations for PIN attempt rate limiting.
package limiter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"go.uber.org/zap"
)

// Limiter controls login attempts and temporary lockouts per client key.
type Limiter interface {
	// Allow reports whether login is currently allowed and optional retry-after.
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
	// Success resets counters after a successful login.
	Success(ctx context.Context, key string) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, key string) (bool, time.Duration, error)
}

// GlobalKey is the server-wide bucket shared by clients without a pairing.
const GlobalKey = "*"

// ClientKey returns a stable key for a client public key to avoid storing it raw.
func ClientKey(pub []byte) string {
	h := sha256.Sum256(pub)
	return hex.EncodeToString(h[:16])
}

// Pruner is implemented by limiters that can drop idle keys.
type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// PruneEvery calls p.Prune on each tick until ctx is done.
func PruneEvery(ctx context.Context, p Pruner, every time.Duration, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := p.Prune(ctx)
			if err != nil {
				log.Warn("limiter prune", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Debug("limiter pruned", zap.Int64("keys", n))
			}
		}
	}
}
