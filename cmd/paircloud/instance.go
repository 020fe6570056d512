package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/paircloud/internal/crypto/peercrypto"
	"github.com/and161185/paircloud/internal/limiter"
	"github.com/and161185/paircloud/internal/migrate"
	"github.com/and161185/paircloud/internal/model"
	"github.com/and161185/paircloud/internal/pairing"
	"github.com/and161185/paircloud/internal/repository"
	"github.com/and161185/paircloud/internal/repository/memory"
	"github.com/and161185/paircloud/internal/repository/postgres"
	"github.com/and161185/paircloud/internal/service"
	"github.com/and161185/paircloud/internal/transport"
	"github.com/and161185/paircloud/internal/transport/relay"
	"github.com/and161185/paircloud/internal/vault"
)

// backend is the server-side storage stack.
type backend struct {
	devices repository.DeviceRepository
	data    repository.DataRepository
	lim     limiter.Limiter
	close   func()
}

// openBackend uses Postgres when a DSN is configured and memory otherwise.
func (a *app) openBackend(ctx context.Context) (*backend, error) {
	c := a.cfg
	if c.DSN == "" {
		a.log.Warn("no DSN configured, paired devices are kept in memory")
		return &backend{
			devices: memory.NewDeviceRepo(),
			data:    memory.NewDataRepo(),
			lim:     limiter.NewMemory(c.LimitWindow, c.LimitMax, c.LimitBlock),
			close:   func() {},
		}, nil
	}
	ver, err := migrate.Up(ctx, c.DSN, a.log)
	if err != nil {
		return nil, err
	}
	a.log.Info("schema ready", zap.Int64("version", ver))
	db, err := postgres.Open(ctx, c.DSN, postgres.Options{PingAttempts: 5})
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return &backend{
		devices: postgres.NewDeviceRepo(db),
		data:    postgres.NewDataRepo(db),
		lim:     limiter.NewPG(db.Conn, c.LimitWindow, c.LimitMax, c.LimitBlock),
		close:   db.Close,
	}, nil
}

// openVault opens the sealed vault in the storage directory.
func (a *app) openVault() (*vault.File, error) {
	pass := a.cfg.Passphrase
	if pass == "" {
		pass = vault.DefaultPassphrase(a.cfg.StoragePath)
	}
	return vault.OpenFile(a.cfg.StoragePath, pass)
}

func (a *app) transportFactory() transport.Factory {
	return relay.NewFactory(relay.Config{CAFile: a.cfg.CAFile, Insecure: a.cfg.Insecure})
}

// baseOptions fills the options shared by both roles.
func (a *app) baseOptions(v vault.Store, role model.Role) pairing.Options {
	return pairing.Options{
		Role:         role,
		StoragePath:  a.cfg.StoragePath,
		Name:         a.cfg.Name,
		Vault:        v,
		Transport:    a.transportFactory(),
		LoginTimeout: a.cfg.LoginTimeout,
		Logger:       a.log,
		OnError: func(e model.ErrorLogEntry) {
			a.log.Debug("recorded error", zap.String("kind", string(e.Kind)), zap.String("description", e.Description))
		},
		OnNotification: func(from transport.Contact, text string) {
			a.log.Info("notification", zap.Uint64("from", from.UserID), zap.String("text", text))
		},
	}
}

// openServer builds a server instance and returns a cleanup for its backend.
func (a *app) openServer(ctx context.Context, v vault.Store) (*pairing.Cloud, func(), error) {
	be, err := a.openBackend(ctx)
	if err != nil {
		return nil, nil, err
	}
	signKey := []byte(a.cfg.SignKey)
	if len(signKey) == 0 {
		if signKey, err = peercrypto.Rand(32); err != nil {
			be.close()
			return nil, nil, err
		}
		a.log.Warn("no sign key configured, session tokens will not survive a restart")
	}

	opts := a.baseOptions(v, model.RoleServer)
	opts.Auth = service.NewPairingAuth(be.devices, be.lim, service.Perpetual{}, signKey, a.cfg.TokenTTL)
	opts.Data = service.NewDataService(be.data)
	opts.Devices = be.devices
	opts.Apps = []string{"admin", "sync"}
	opts.IndirectQR = a.cfg.IndirectQR

	c, err := a.reg.Create(opts)
	if err != nil {
		be.close()
		return nil, nil, err
	}
	pctx, stop := context.WithCancel(ctx)
	if p, ok := be.lim.(limiter.Pruner); ok {
		go limiter.PruneEvery(pctx, p, a.cfg.LimitWindow, a.log)
	}
	return c, func() {
		stop()
		be.close()
	}, nil
}

// openClient builds a client instance.
func (a *app) openClient(v vault.Store) (*pairing.Cloud, error) {
	return a.reg.Create(a.baseOptions(v, model.RoleClient))
}

// openExisting builds an instance for inspection in the configured role
// without connecting it.
func (a *app) openExisting(ctx context.Context) (*pairing.Cloud, func(), error) {
	v, err := a.openVault()
	if err != nil {
		return nil, nil, err
	}
	if a.cfg.ParsedRole() == model.RoleServer {
		return a.openServer(ctx, v)
	}
	c, err := a.openClient(v)
	return c, func() {}, err
}
