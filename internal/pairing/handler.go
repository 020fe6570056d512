package pairing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/paircloud/internal/errs"
	"github.com/and161185/paircloud/internal/model"
	"github.com/and161185/paircloud/internal/transport"
	"github.com/and161185/paircloud/internal/vault"
)

const connectTimeout = 10 * time.Second

// handler receives the callbacks of one transport context. Callbacks from a
// context that has since been replaced are ignored.
type handler struct {
	c   *Cloud
	gen uint64
}

var _ transport.Handler = (*handler)(nil)

func (h *handler) current() bool {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.c.gen == h.gen && h.c.tctx != nil
}

func (h *handler) OnConnectivity(up bool) {
	c := h.c
	c.mu.Lock()
	if c.gen != h.gen {
		c.mu.Unlock()
		return
	}
	needConnect := false
	switch {
	case !up:
		if c.state != model.StateDisconnected {
			c.setStateLocked(model.StateAwaitingTransportConnect)
		}
	case c.opts.Role == model.RoleServer:
		c.setStateLocked(model.StateAuthenticated)
	case c.sess == nil:
		needConnect = true
	case c.sess.authenticated:
		c.setStateLocked(model.StateAuthenticated)
	default:
		c.setStateLocked(model.StateCredentialExchange)
	}
	c.mu.Unlock()

	c.log.Info("connectivity", zap.Bool("up", up))
	if needConnect {
		go h.connect()
	}
}

func (h *handler) connect() {
	c := h.c
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.connectToServer(ctx, h.gen, nil, ""); err != nil {
		c.errLog.Record(model.ErrorKindLogin, fmt.Sprintf("connect to server: %v", err))
	}
}

func (h *handler) OnMessage(ctx context.Context, msg transport.Message) {
	if !h.current() {
		return
	}
	h.c.mux.OnInboundMessage(ctx, msg)
}

func (h *handler) Authenticate(ctx context.Context, client transport.Contact, pin string) ([]byte, error) {
	c := h.c
	if c.opts.Role != model.RoleServer {
		return nil, errs.ErrUnauthorized
	}
	grant, err := c.opts.Auth.Login(ctx, client.PublicKey, pin)
	if err != nil {
		c.errLog.Record(model.ErrorKindLogin, fmt.Sprintf("client %d: %v", client.UserID, err))
		return nil, err
	}
	c.mux.Register(client)
	c.log.Info("client paired", zap.Uint64("client", client.UserID), zap.Bool("first", grant.FirstPairing))
	return []byte(grant.Token), nil
}

func (h *handler) OnAuthenticated(server transport.Contact, token []byte) {
	c := h.c
	c.mu.Lock()
	if c.gen != h.gen || c.sess == nil || c.sess.server.UserID != server.UserID {
		c.mu.Unlock()
		return
	}
	c.sess.authenticated = true
	c.sess.loginErr = nil
	c.sess.token = append([]byte(nil), token...)
	c.setStateLocked(model.StateAuthenticated)
	c.notifyLocked()
	c.mu.Unlock()

	if err := c.opts.Vault.Set(vault.KeySessionKey, vault.Ptr(string(token))); err != nil {
		c.log.Warn("store session token", zap.Error(err))
	}
	c.log.Info("authenticated", zap.Uint64("server", server.UserID))
}

func (h *handler) OnLoginError(server transport.Contact, err error) {
	c := h.c
	c.errLog.Record(model.ErrorKindLogin, fmt.Sprintf("server %d: %v", server.UserID, err))
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != h.gen || c.sess == nil || c.sess.server.UserID != server.UserID {
		return
	}
	c.sess.loginErr = err
	c.notifyLocked()
}

func (h *handler) OnTransportError(err error) {
	if !h.current() {
		return
	}
	h.c.errLog.Record(model.ErrorKindTransport, err.Error())
}
