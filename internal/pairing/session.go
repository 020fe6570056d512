package pairing

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/paircloud/internal/errs"
	"github.com/and161185/paircloud/internal/identity"
	"github.com/and161185/paircloud/internal/model"
	"github.com/and161185/paircloud/internal/mux"
	"github.com/and161185/paircloud/internal/qr"
	"github.com/and161185/paircloud/internal/transport"
	"github.com/and161185/paircloud/internal/vault"
)

// CreateContext opens the transport bound to entryPoint. A non-empty
// passphrase selects a passphrase-derived identity for this context.
// It fails with ErrContextExists when a context is already open.
func (c *Cloud) CreateContext(entryPoint, passphrase string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.createContext(entryPoint, passphrase)
}

func (c *Cloud) createContext(entryPoint, passphrase string) error {
	c.mu.Lock()
	if c.tctx != nil {
		c.mu.Unlock()
		c.log.Error("transport context already exists", zap.String("entry", c.entryPoint))
		return errs.ErrContextExists
	}
	gen := c.gen
	c.mu.Unlock()

	ident := c.ident
	if passphrase != "" {
		var err error
		if ident, err = identity.FromPassphrase(passphrase); err != nil {
			return err
		}
	}
	tctx, err := c.opts.Transport(transport.Options{
		EntryPoint: entryPoint,
		Identity:   ident,
		Handler:    &handler{c: c, gen: gen},
		Logger:     c.log,
	})
	if err != nil {
		c.errLog.Record(model.ErrorKindTransport, fmt.Sprintf("open %s: %v", entryPoint, err))
		return fmt.Errorf("open transport: %w", err)
	}

	c.mu.Lock()
	if c.gen != gen || c.tctx != nil {
		c.mu.Unlock()
		_ = tctx.Close()
		return errs.ErrContextExists
	}
	c.tctx = tctx
	c.entryPoint = entryPoint
	c.setStateLocked(model.StateContextCreated)
	if !tctx.Connected() {
		c.setStateLocked(model.StateAwaitingTransportConnect)
	}
	c.mu.Unlock()
	c.mux.Attach(tctx)
	c.log.Info("transport context created", zap.String("entry", entryPoint))
	return nil
}

// Serve opens the server context at entryPoint and loads the pairing PIN.
func (c *Cloud) Serve(entryPoint string) error {
	if c.opts.Role != model.RoleServer {
		return errors.New("pairing: serve requires the server role")
	}
	pin, ok := c.opts.Vault.Get(vault.KeyPIN)
	if !ok || pin == "" {
		return errors.New("pairing: server pin is not set")
	}
	if err := c.opts.Auth.SetPIN(pin); err != nil {
		return err
	}
	return c.CreateContext(entryPoint, "")
}

// ConnectToServer starts the credential exchange of a client. Missing
// arguments are read from the vault. A pending indirect credential first
// asks the server for its public key and defers the exchange.
func (c *Cloud) ConnectToServer(ctx context.Context, serverPub []byte, pin string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	return c.connectToServer(ctx, gen, serverPub, pin)
}

func (c *Cloud) connectToServer(ctx context.Context, gen uint64, serverPub []byte, pin string) error {
	if c.opts.Role != model.RoleClient {
		return nil
	}
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return errs.ErrNoContext
	}
	tctx, ref, sess := c.tctx, c.indirect, c.sess
	c.mu.Unlock()
	if tctx == nil {
		return errs.ErrNoContext
	}
	if sess != nil {
		return nil
	}

	if pin == "" {
		pin, _ = c.opts.Vault.Get(vault.KeyPIN)
	}
	if ref == nil && serverPub == nil {
		if h, ok := c.opts.Vault.Get(vault.KeyServerPublicKey); ok {
			serverPub, _ = hex.DecodeString(h)
		} else if text, ok := c.opts.Vault.Get(vault.KeyPendingQR); ok {
			if cred, err := qr.Decode(text); err == nil && cred.Indirect != nil {
				ref = cred.Indirect
			}
		}
	}
	if pin == "" {
		return fmt.Errorf("missing pin: %w", errs.ErrUnauthorized)
	}

	if ref != nil && serverPub == nil {
		c.mu.Lock()
		c.indirect = ref
		c.setStateLocked(model.StateCredentialExchange)
		c.mu.Unlock()
		c.mux.SetServer(&transport.Contact{UserID: ref.ServerID})
		if !c.mux.SendAdmin(ctx, mux.ToUser(ref.ServerID), mux.GetEncryptedQR) {
			return errs.ErrNotConnected
		}
		c.log.Info("requested server key for indirect credential", zap.Uint64("server", ref.ServerID))
		return nil
	}
	if serverPub == nil {
		return fmt.Errorf("missing server key: %w", errs.ErrNoContact)
	}

	server, err := tctx.AddContact(serverPub)
	if err != nil {
		return err
	}
	c.mux.SetServer(&server)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return errs.ErrNoContext
	}
	c.sess = &session{server: server}
	c.indirect = nil
	c.setStateLocked(model.StateCredentialExchange)
	c.mu.Unlock()

	if err := tctx.Login(ctx, server, pin); err != nil {
		c.errLog.Record(model.ErrorKindLogin, fmt.Sprintf("login to %d: %v", server.UserID, err))
		return err
	}
	return nil
}

// Login pairs a client with the server named by the QR credential and waits,
// bounded by the login timeout, for the outcome.
func (c *Cloud) Login(ctx context.Context, qrText, pin, entryPointOverride string) model.LoginResult {
	if c.opts.Role != model.RoleClient {
		c.log.Error("login requires the client role")
		return model.LoginWrongQR
	}
	c.Logout()

	cred, err := qr.Decode(qrText)
	if err != nil {
		c.log.Info("login: bad credential", zap.Error(err))
		return model.LoginWrongQR
	}
	if pin == "" {
		return model.LoginWrongPassword
	}
	entry := cred.EntryPoint()
	if entryPointOverride != "" {
		entry = entryPointOverride
	}

	gen, err := c.prepareLogin(qrText, cred, pin, entry)
	if err != nil {
		c.log.Warn("login: open context", zap.Error(err))
		return model.LoginRemoteHostNotReachable
	}
	res := c.await(ctx, gen)
	if res == model.LoginSuccessful {
		c.writeLastEntryPoint(entry)
	}
	c.log.Info("login finished", zap.Stringer("result", res), zap.String("entry", entry))
	return res
}

func (c *Cloud) prepareLogin(qrText string, cred qr.Credential, pin, entry string) (uint64, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	v := c.opts.Vault
	if err := v.Set(vault.KeyPIN, vault.Ptr(pin)); err != nil {
		return 0, err
	}
	switch cred.Type {
	case qr.TypeIndirect:
		_ = v.Set(vault.KeyServerPublicKey, nil)
		if err := v.Set(vault.KeyPendingQR, vault.Ptr(qrText)); err != nil {
			return 0, err
		}
	default:
		_ = v.Set(vault.KeyPendingQR, nil)
		if err := v.Set(vault.KeyServerPublicKey, vault.Ptr(hex.EncodeToString(cred.ServerPublicKey))); err != nil {
			return 0, err
		}
	}

	c.mu.Lock()
	c.indirect = cred.Indirect
	gen := c.gen
	c.mu.Unlock()

	if err := c.createContext(entry, ""); err != nil {
		return 0, err
	}
	return gen, nil
}

// await is the single bounded wait of Login.
func (c *Cloud) await(ctx context.Context, gen uint64) model.LoginResult {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, c.opts.LoginTimeout)
	defer cancel()

	for {
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return model.LoginCanceled
		}
		done := c.sess != nil && (c.sess.authenticated || c.sess.loginErr != nil)
		changed := c.changed
		c.mu.Unlock()

		if done || c.opts.License.Expired(ctx) {
			break
		}
		select {
		case <-changed:
			continue
		case <-ctx.Done():
		}
		if parent.Err() != nil {
			c.logoutIf(gen)
			return model.LoginCanceled
		}
		break
	}
	return c.classify(gen)
}

func (c *Cloud) classify(gen uint64) model.LoginResult {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return model.LoginCanceled
	}
	sess, tctx := c.sess, c.tctx
	var authenticated bool
	var loginErr error
	if sess != nil {
		authenticated, loginErr = sess.authenticated, sess.loginErr
	}
	c.mu.Unlock()

	switch {
	case authenticated:
		return model.LoginSuccessful
	case loginErr != nil && errors.Is(loginErr, errs.ErrLicenseExpired):
		return model.LoginLicenseExpired
	case loginErr != nil:
		return model.LoginWrongPassword
	case c.opts.License.Expired(context.Background()):
		return model.LoginLicenseExpired
	case sess == nil:
		return model.LoginRemoteHostNotReachable
	case tctx != nil && tctx.HostReachable():
		return model.LoginCloudNotResponding
	default:
		return model.LoginRemoteHostNotReachable
	}
}

// Logout resets the instance to Disconnected. It stops sync, clears the
// persisted client pin and server key, and closes the transport context.
// It reports whether a context existed.
func (c *Cloud) Logout() bool {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.logout(true)
}

func (c *Cloud) logoutIf(gen uint64) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.mu.Lock()
	cur := c.gen
	c.mu.Unlock()
	if cur == gen {
		c.logout(true)
	}
}

// Close releases the transport context without touching persisted data.
func (c *Cloud) Close() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.logout(false)
	return nil
}

func (c *Cloud) logout(clearSecrets bool) bool {
	c.StopSync()

	c.mu.Lock()
	tctx := c.tctx
	c.tctx = nil
	c.gen++
	c.sess = nil
	c.indirect = nil
	pending := c.pending
	c.pending = map[uint32]pendingReq{}
	c.setStateLocked(model.StateDisconnected)
	c.notifyLocked()
	c.mu.Unlock()

	for _, p := range pending {
		close(p.ch)
	}
	c.mux.Reset()

	if clearSecrets && c.opts.Role == model.RoleClient {
		for _, k := range []string{vault.KeyPIN, vault.KeyServerPublicKey, vault.KeyPendingQR, vault.KeySessionKey} {
			if err := c.opts.Vault.Set(k, nil); err != nil {
				c.log.Warn("clear secret", zap.String("key", k), zap.Error(err))
			}
		}
		if err := os.Remove(c.lastEntryPointPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.log.Warn("remove last entry point", zap.Error(err))
		}
	}

	if tctx == nil {
		return false
	}
	if err := tctx.Close(); err != nil {
		c.log.Warn("close transport", zap.Error(err))
	}
	c.log.Info("logged out")
	return true
}

func (c *Cloud) lastEntryPointPath() string {
	return filepath.Join(c.opts.StoragePath, lastEntryPointFile)
}

func (c *Cloud) writeLastEntryPoint(entry string) {
	if err := os.MkdirAll(c.opts.StoragePath, 0o700); err != nil {
		c.log.Warn("storage dir", zap.Error(err))
		return
	}
	if err := os.WriteFile(c.lastEntryPointPath(), []byte(entry+"\n"), 0o600); err != nil {
		c.log.Warn("write last entry point", zap.Error(err))
	}
}

// LastEntryPoint returns the entry point of the last successful login.
func (c *Cloud) LastEntryPoint() (string, bool) {
	b, err := os.ReadFile(c.lastEntryPointPath())
	if err != nil {
		return "", false
	}
	ep := strings.TrimSpace(string(b))
	return ep, ep != ""
}
