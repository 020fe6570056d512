package mux

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/paircloud/internal/diag"
	"github.com/and161185/paircloud/internal/model"
	"github.com/and161185/paircloud/internal/transport"
)

// Link is the outbound side of an open transport context.
type Link interface {
	Connected() bool
	Send(ctx context.Context, to transport.Contact, appID, code uint16, params [][]byte) error
}

// AdminHandler receives decoded pairing/admin commands.
type AdminHandler interface {
	HandleAdmin(ctx context.Context, sender transport.Contact, cmd Command, params [][]byte)
}

// SyncHandler receives sync engine commands as opaque codes.
type SyncHandler interface {
	HandleSync(ctx context.Context, sender transport.Contact, code uint16, params [][]byte)
}

// Target addresses a command either by user id or by contact.
type Target struct {
	userID  uint64
	contact *transport.Contact
}

// ToUser addresses a registered user id.
func ToUser(id uint64) Target { return Target{userID: id} }

// ToContact addresses an explicit contact.
func ToContact(c transport.Contact) Target { return Target{contact: &c} }

// Multiplexer demultiplexes inbound datagrams and resolves outbound targets.
type Multiplexer struct {
	role   model.Role
	errLog *diag.ErrorLog
	log    *zap.Logger

	mu       sync.RWMutex
	link     Link
	server   *transport.Contact
	contacts map[uint64]transport.Contact
	admin    AdminHandler
	sync     SyncHandler
}

// New constructs a multiplexer for an instance of the given role.
func New(role model.Role, errLog *diag.ErrorLog, log *zap.Logger) *Multiplexer {
	if log == nil {
		log = zap.NewNop()
	}
	if errLog == nil {
		errLog = diag.NewErrorLog(diag.DefaultCapacity, log)
	}
	return &Multiplexer{role: role, errLog: errLog, log: log, contacts: map[uint64]transport.Contact{}}
}

// Attach sets (or clears with nil) the outbound link.
func (m *Multiplexer) Attach(l Link) {
	m.mu.Lock()
	m.link = l
	m.mu.Unlock()
}

// SetServer sets (or clears with nil) the server contact of a client.
func (m *Multiplexer) SetServer(c *transport.Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c == nil {
		m.server = nil
		return
	}
	cp := *c
	m.server = &cp
}

// Server returns the server contact, if set.
func (m *Multiplexer) Server() (transport.Contact, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.server == nil {
		return transport.Contact{}, false
	}
	return *m.server, true
}

func (m *Multiplexer) SetAdminHandler(h AdminHandler) {
	m.mu.Lock()
	m.admin = h
	m.mu.Unlock()
}

func (m *Multiplexer) SetSyncHandler(h SyncHandler) {
	m.mu.Lock()
	m.sync = h
	m.mu.Unlock()
}

// Register adds a contact to the user id registry. The first contact seen for
// an id wins; Register reports whether c was stored.
func (m *Multiplexer) Register(c transport.Contact) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contacts[c.UserID]; ok {
		return false
	}
	m.contacts[c.UserID] = c
	return true
}

// Contact looks up a registered contact.
func (m *Multiplexer) Contact(userID uint64) (transport.Contact, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[userID]
	return c, ok
}

// Contacts returns the number of registered contacts.
func (m *Multiplexer) Contacts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.contacts)
}

// Reset drops the link, the server contact and the contact registry.
func (m *Multiplexer) Reset() {
	m.mu.Lock()
	m.link = nil
	m.server = nil
	m.contacts = map[uint64]transport.Contact{}
	m.mu.Unlock()
}

// SendAdmin sends a pairing/admin command.
func (m *Multiplexer) SendAdmin(ctx context.Context, to Target, cmd Command, params ...[]byte) bool {
	return m.sendCommand(ctx, to, AdminApp, uint16(cmd), params)
}

// SendSync sends a sync engine command.
func (m *Multiplexer) SendSync(ctx context.Context, to Target, code uint16, params ...[]byte) bool {
	return m.sendCommand(ctx, to, SyncApp, code, params)
}

// sendCommand forwards exactly one datagram, or returns false with no side
// effects when the target does not resolve or the link is down.
func (m *Multiplexer) sendCommand(ctx context.Context, to Target, appID, code uint16, params [][]byte) bool {
	m.mu.RLock()
	link := m.link
	c, ok := m.resolveLocked(to)
	m.mu.RUnlock()

	if !ok || link == nil || !link.Connected() {
		return false
	}
	if err := link.Send(ctx, c, appID, code, params); err != nil {
		m.errLog.Record(model.ErrorKindTransport, fmt.Sprintf("send app=%#04x code=%d to %d: %v", appID, code, c.UserID, err))
		return false
	}
	return true
}

func (m *Multiplexer) resolveLocked(to Target) (transport.Contact, bool) {
	if m.role == model.RoleClient && m.server != nil {
		return *m.server, true
	}
	if to.contact != nil {
		return *to.contact, true
	}
	c, ok := m.contacts[to.userID]
	return c, ok
}

// OnInboundMessage dispatches an inbound datagram by sub-application id.
// Unknown sub-applications are ignored; unknown admin codes are logged and dropped.
func (m *Multiplexer) OnInboundMessage(ctx context.Context, msg transport.Message) {
	switch msg.AppID {
	case AdminApp:
		cmd, err := ParseCommand(msg.Code)
		if err != nil {
			m.errLog.Record(model.ErrorKindCommand, fmt.Sprintf("from %d: %v", msg.Sender.UserID, err))
			return
		}
		m.mu.RLock()
		h := m.admin
		m.mu.RUnlock()
		if h == nil {
			m.log.Debug("admin command without handler", zap.Stringer("cmd", cmd))
			return
		}
		h.HandleAdmin(ctx, msg.Sender, cmd, msg.Params)

	case SyncApp:
		if msg.Sender.Known() {
			m.Register(msg.Sender)
		}
		m.mu.RLock()
		h := m.sync
		m.mu.RUnlock()
		if h == nil {
			m.log.Debug("sync command without engine", zap.Uint16("code", msg.Code))
			return
		}
		h.HandleSync(ctx, msg.Sender, msg.Code, msg.Params)

	default:
		m.log.Debug("ignored sub-application", zap.Uint16("app", msg.AppID))
	}
}
