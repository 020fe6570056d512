package pairing

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/paircloud/internal/errs"
	"github.com/and161185/paircloud/internal/model"
	"github.com/and161185/paircloud/internal/mux"
	"github.com/and161185/paircloud/internal/qr"
	"github.com/and161185/paircloud/internal/transport"
	"github.com/and161185/paircloud/internal/vault"
)

// Reply status, the first parameter of every admin reply.
const (
	statusOK byte = iota
	statusNotFound
	statusDenied
	statusError
)

type adminHandler struct{ c *Cloud }

var _ mux.AdminHandler = adminHandler{}

func (a adminHandler) HandleAdmin(ctx context.Context, sender transport.Contact, cmd mux.Command, params [][]byte) {
	if a.c.opts.Role == model.RoleServer {
		a.c.serveAdmin(ctx, sender, cmd, params)
		return
	}
	a.c.clientAdmin(ctx, sender, cmd, params)
}

func (c *Cloud) reply(ctx context.Context, to transport.Contact, cmd mux.Command, status byte, params ...[]byte) {
	out := append([][]byte{{status}}, params...)
	if !c.mux.SendAdmin(ctx, mux.ToContact(to), cmd, out...) {
		c.log.Debug("admin reply not sent", zap.Stringer("cmd", cmd), zap.Uint64("to", to.UserID))
	}
}

func statusOf(err error) byte {
	switch {
	case err == nil:
		return statusOK
	case errors.Is(err, errs.ErrNotFound):
		return statusNotFound
	case errors.Is(err, errs.ErrUnauthorized):
		return statusDenied
	default:
		return statusError
	}
}

func (c *Cloud) paired(ctx context.Context, sender transport.Contact) bool {
	if !sender.Known() {
		return false
	}
	d, err := c.opts.Devices.GetByUserID(ctx, sender.UserID)
	return err == nil && bytes.Equal(d.PublicKey, sender.PublicKey)
}

// serveAdmin answers client requests on a server. Every request except
// GetEncryptedQR and PushNotification starts with a request id that the reply
// echoes right after the status byte.
func (c *Cloud) serveAdmin(ctx context.Context, sender transport.Contact, cmd mux.Command, params [][]byte) {
	if cmd == mux.GetEncryptedQR {
		km, ok := c.qrKey()
		if !ok {
			c.reply(ctx, sender, cmd, statusNotFound)
			return
		}
		c.reply(ctx, sender, cmd, statusOK, qr.SealPublicKey(km, c.ident.PublicKey()))
		return
	}
	paired := c.paired(ctx, sender)
	if !paired {
		c.log.Warn("admin command from unpaired peer", zap.Stringer("cmd", cmd), zap.Uint64("from", sender.UserID))
	} else {
		c.mux.Register(sender)
		_ = c.opts.Devices.Touch(ctx, sender.UserID)
	}

	if cmd == mux.PushNotification {
		if paired && len(params) > 0 {
			c.notify(sender, string(params[0]))
		}
		return
	}
	if len(params) == 0 || len(params[0]) != reqIDLen {
		c.log.Debug("admin request without id", zap.Stringer("cmd", cmd), zap.Uint64("from", sender.UserID))
		return
	}
	rid, params := params[0], params[1:]
	respond := func(status byte, out ...[]byte) {
		c.reply(ctx, sender, cmd, status, append([][]byte{rid}, out...)...)
	}
	if !paired {
		respond(statusDenied)
		return
	}

	uid := sender.UserID
	arg := func(i int) []byte {
		if i < len(params) {
			return params[i]
		}
		return nil
	}

	switch cmd {
	case mux.SaveData:
		rec, err := c.opts.Data.Save(ctx, uid, string(arg(0)), arg(1))
		if err != nil {
			respond(statusOf(err))
			return
		}
		respond(statusOK, binary.LittleEndian.AppendUint64(nil, uint64(rec.Ver)))

	case mux.LoadData:
		rec, err := c.opts.Data.Load(ctx, uid, string(arg(0)))
		if err != nil {
			respond(statusOf(err))
			return
		}
		respond(statusOK, rec.Value, binary.LittleEndian.AppendUint64(nil, uint64(rec.Ver)))

	case mux.LoadAllData:
		recs, err := c.opts.Data.LoadAll(ctx, uid)
		if err != nil {
			respond(statusOf(err))
			return
		}
		out := make([][]byte, 0, 2*len(recs))
		for _, r := range recs {
			out = append(out, []byte(r.Key), r.Value)
		}
		respond(statusOK, out...)

	case mux.DeleteData:
		respond(statusOf(c.opts.Data.Delete(ctx, uid, string(arg(0)))))

	case mux.GetSupportedApps:
		out := make([][]byte, 0, len(c.opts.Apps))
		for _, a := range c.opts.Apps {
			out = append(out, []byte(a))
		}
		respond(statusOK, out...)

	case mux.GetSSHAccess:
		if c.opts.SSH == nil {
			respond(statusOK)
			return
		}
		out, err := c.opts.SSH.SSHAccess(sender)
		respond(statusOf(err), out...)
	}
}

func (c *Cloud) notify(from transport.Contact, text string) {
	c.log.Info("notification", zap.Uint64("from", from.UserID), zap.Int("len", len(text)))
	if c.opts.OnNotification != nil {
		c.opts.OnNotification(from, text)
	}
}

// clientAdmin resolves replies to pending requests on a client. Frames from
// anyone but the paired server are dropped, as are replies whose request id
// is not pending.
func (c *Cloud) clientAdmin(ctx context.Context, sender transport.Contact, cmd mux.Command, params [][]byte) {
	if cmd == mux.GetEncryptedQR {
		c.completeIndirect(sender, params)
		return
	}
	if !c.fromServer(sender) {
		c.log.Warn("admin frame from foreign peer", zap.Stringer("cmd", cmd), zap.Uint64("from", sender.UserID))
		return
	}
	if cmd == mux.PushNotification {
		if len(params) > 0 {
			c.notify(sender, string(params[0]))
		}
		return
	}
	if len(params) < 2 || len(params[1]) != reqIDLen {
		c.log.Debug("admin reply without id", zap.Stringer("cmd", cmd))
		return
	}
	rid := binary.LittleEndian.Uint32(params[1])

	c.mu.Lock()
	p, ok := c.pending[rid]
	if ok && p.cmd == cmd {
		delete(c.pending, rid)
	}
	c.mu.Unlock()
	if !ok || p.cmd != cmd {
		c.log.Debug("unsolicited admin reply", zap.Stringer("cmd", cmd), zap.Uint32("req", rid))
		return
	}
	p.ch <- append([][]byte{params[0]}, params[2:]...)
}

func (c *Cloud) fromServer(sender transport.Contact) bool {
	srv, ok := c.mux.Server()
	return ok && srv.Known() && sender.UserID == srv.UserID && bytes.Equal(sender.PublicKey, srv.PublicKey)
}

// completeIndirect finishes a deferred connect once the server sent its key.
func (c *Cloud) completeIndirect(sender transport.Contact, params [][]byte) {
	c.mu.Lock()
	ref, gen := c.indirect, c.gen
	c.mu.Unlock()
	if ref == nil || sender.UserID != ref.ServerID {
		return
	}
	if len(params) < 2 || len(params[0]) != 1 || params[0][0] != statusOK {
		c.errLog.Record(model.ErrorKindLogin, "server refused to reveal its key")
		return
	}
	pub, err := ref.RevealPublicKey(params[1])
	if err != nil {
		c.errLog.Record(model.ErrorKindLogin, fmt.Sprintf("indirect key: %v", err))
		return
	}
	if err := c.opts.Vault.Set(vault.KeyServerPublicKey, vault.Ptr(hex.EncodeToString(pub))); err != nil {
		c.log.Warn("store server key", zap.Error(err))
	}
	_ = c.opts.Vault.Set(vault.KeyPendingQR, nil)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		c.opMu.Lock()
		defer c.opMu.Unlock()
		if err := c.connectToServer(ctx, gen, pub, ""); err != nil {
			c.errLog.Record(model.ErrorKindLogin, fmt.Sprintf("connect to server: %v", err))
		}
	}()
}

// pendingReq is a request waiting for the reply carrying its id.
type pendingReq struct {
	cmd mux.Command
	ch  chan [][]byte
}

const reqIDLen = 4

// request sends an admin command to the server and waits for its reply.
func (c *Cloud) request(ctx context.Context, cmd mux.Command, params ...[]byte) ([][]byte, error) {
	if c.opts.Role != model.RoleClient {
		return nil, errors.New("pairing: admin requests are sent by clients")
	}
	server, ok := c.mux.Server()
	if !ok {
		return nil, errs.ErrNoContact
	}
	ch := make(chan [][]byte, 1)
	c.mu.Lock()
	c.nextReq++
	rid := c.nextReq
	c.pending[rid] = pendingReq{cmd: cmd, ch: ch}
	c.mu.Unlock()

	out := append([][]byte{binary.LittleEndian.AppendUint32(nil, rid)}, params...)
	if !c.mux.SendAdmin(ctx, mux.ToContact(server), cmd, out...) {
		c.dropPending(rid)
		return nil, errs.ErrNotConnected
	}
	select {
	case rep, ok := <-ch:
		if !ok {
			return nil, errs.ErrNoContext
		}
		if len(rep) == 0 || len(rep[0]) != 1 {
			return nil, fmt.Errorf("%v reply: %w", cmd, errs.ErrFormat)
		}
		switch rep[0][0] {
		case statusOK:
			return rep[1:], nil
		case statusNotFound:
			return nil, errs.ErrNotFound
		case statusDenied:
			return nil, errs.ErrUnauthorized
		default:
			return nil, fmt.Errorf("%v failed on server", cmd)
		}
	case <-ctx.Done():
		c.dropPending(rid)
		return nil, ctx.Err()
	}
}

func (c *Cloud) dropPending(rid uint32) {
	c.mu.Lock()
	delete(c.pending, rid)
	c.mu.Unlock()
}

// SaveData stores value under key on the server and returns its version.
func (c *Cloud) SaveData(ctx context.Context, key string, value []byte) (int64, error) {
	rep, err := c.request(ctx, mux.SaveData, []byte(key), value)
	if err != nil {
		return 0, err
	}
	if len(rep) < 1 || len(rep[0]) != 8 {
		return 0, fmt.Errorf("save reply: %w", errs.ErrFormat)
	}
	return int64(binary.LittleEndian.Uint64(rep[0])), nil
}

// LoadData fetches one value from the server.
func (c *Cloud) LoadData(ctx context.Context, key string) ([]byte, error) {
	rep, err := c.request(ctx, mux.LoadData, []byte(key))
	if err != nil {
		return nil, err
	}
	if len(rep) < 1 {
		return nil, fmt.Errorf("load reply: %w", errs.ErrFormat)
	}
	return rep[0], nil
}

// LoadAllData fetches every value this client stored on the server.
func (c *Cloud) LoadAllData(ctx context.Context) (map[string][]byte, error) {
	rep, err := c.request(ctx, mux.LoadAllData)
	if err != nil {
		return nil, err
	}
	if len(rep)%2 != 0 {
		return nil, fmt.Errorf("load all reply: %w", errs.ErrFormat)
	}
	out := make(map[string][]byte, len(rep)/2)
	for i := 0; i < len(rep); i += 2 {
		out[string(rep[i])] = rep[i+1]
	}
	return out, nil
}

// DeleteData removes a value from the server.
func (c *Cloud) DeleteData(ctx context.Context, key string) error {
	_, err := c.request(ctx, mux.DeleteData, []byte(key))
	return err
}

// SupportedApps lists the applications the server offers.
func (c *Cloud) SupportedApps(ctx context.Context) ([]string, error) {
	rep, err := c.request(ctx, mux.GetSupportedApps)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rep))
	for _, a := range rep {
		out = append(out, string(a))
	}
	return out, nil
}

// SSHAccess asks the server for SSH access parameters.
func (c *Cloud) SSHAccess(ctx context.Context) ([][]byte, error) {
	return c.request(ctx, mux.GetSSHAccess)
}

// Notify pushes a notification text. A client sends it to its server; a
// server sends it to the given paired client.
func (c *Cloud) Notify(ctx context.Context, to uint64, text string) bool {
	return c.mux.SendAdmin(ctx, mux.ToUser(to), mux.PushNotification, []byte(text))
}

// SendCommand forwards a raw admin command to target.
func (c *Cloud) SendCommand(ctx context.Context, target mux.Target, cmd mux.Command, params ...[]byte) bool {
	return c.mux.SendAdmin(ctx, target, cmd, params...)
}
