// Package pairing implements a cloud instance: the login/logout state machine
// that pairs a client with a server using a PIN and a QR credential, and the
// administrative command handling that rides on the paired transport.
package pairing

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/and161185/paircloud/internal/diag"
	"github.com/and161185/paircloud/internal/identity"
	"github.com/and161185/paircloud/internal/model"
	"github.com/and161185/paircloud/internal/mux"
	"github.com/and161185/paircloud/internal/qr"
	"github.com/and161185/paircloud/internal/repository"
	"github.com/and161185/paircloud/internal/service"
	"github.com/and161185/paircloud/internal/transport"
	"github.com/and161185/paircloud/internal/vault"
)

// DefaultLoginTimeout bounds the wait inside Login.
const DefaultLoginTimeout = 30 * time.Second

const lastEntryPointFile = "last_entry_point"

// SSHProvider answers GetSSHAccess requests on a server.
type SSHProvider interface {
	SSHAccess(client transport.Contact) ([][]byte, error)
}

// Options configure a Cloud.
type Options struct {
	// ID names the instance; zero derives it from StoragePath.
	ID          uint64
	Role        model.Role
	StoragePath string
	Name        string

	Vault     vault.Store
	Identity  *identity.Identity // loaded from or persisted to the vault when nil
	Transport transport.Factory
	License   service.License
	Sync      SyncEngine

	// Server role.
	Auth        service.PairingAuth
	Data        service.DataService
	Devices     repository.DeviceRepository
	Apps        []string
	SSH         SSHProvider
	IndirectQR  bool
	EntrySuffix string

	LoginTimeout time.Duration
	// OnNotification receives PushNotification texts.
	OnNotification func(from transport.Contact, text string)
	OnError        diag.Observer
	Logger         *zap.Logger
}

// session is the pairing session materialized once a client starts
// the credential exchange with its server.
type session struct {
	server        transport.Contact
	authenticated bool
	loginErr      error
	token         []byte
}

// Cloud is one server or client instance.
type Cloud struct {
	id     uint64
	opts   Options
	log    *zap.Logger
	errLog *diag.ErrorLog
	mux    *mux.Multiplexer
	ident  *identity.Identity

	// opMu serializes Login setup, Logout and connectToServer.
	opMu sync.Mutex

	mu         sync.Mutex
	tctx       transport.Context
	entryPoint string
	state      model.State
	gen        uint64
	sess       *session
	indirect   *qr.IndirectRef
	syncing    bool
	changed    chan struct{}
	pending    map[uint32]pendingReq
	nextReq    uint32
	created    time.Time
}

// New constructs a disconnected instance.
func New(opts Options) (*Cloud, error) {
	if opts.StoragePath == "" {
		return nil, errors.New("pairing: storage path is required")
	}
	if opts.Vault == nil || opts.Transport == nil {
		return nil, errors.New("pairing: vault and transport are required")
	}
	if opts.Role == model.RoleServer && (opts.Auth == nil || opts.Data == nil || opts.Devices == nil) {
		return nil, errors.New("pairing: server needs auth, data and devices")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.License == nil {
		opts.License = service.Perpetual{}
	}
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = DefaultLoginTimeout
	}

	ident, err := loadIdentity(opts.Vault, opts.Identity)
	if err != nil {
		return nil, err
	}
	if opts.Name != "" {
		if err := opts.Vault.Set(vault.KeyName, vault.Ptr(opts.Name)); err != nil {
			return nil, err
		}
	}

	id := opts.InstanceID()
	log := opts.Logger.With(zap.String("role", opts.Role.String()), zap.Uint64("instance", id))
	errLog := diag.NewErrorLog(diag.DefaultCapacity, log)
	errLog.SetObserver(opts.OnError)

	c := &Cloud{
		id:      id,
		opts:    opts,
		log:     log,
		errLog:  errLog,
		mux:     mux.New(opts.Role, errLog, log),
		ident:   ident,
		changed: make(chan struct{}),
		pending: map[uint32]pendingReq{},
		created: time.Now(),
	}
	c.mux.SetAdminHandler(adminHandler{c})
	if opts.Sync != nil {
		c.mux.SetSyncHandler(opts.Sync)
	}
	return c, nil
}

// InstanceID derives the stable instance id of a storage path.
func InstanceID(storagePath string) uint64 {
	return xxhash.Sum64String(filepath.Clean(storagePath))
}

// InstanceID returns o.ID, or the id derived from o.StoragePath when unset.
func (o Options) InstanceID() uint64 {
	if o.ID != 0 {
		return o.ID
	}
	return InstanceID(o.StoragePath)
}

func loadIdentity(v vault.Store, given *identity.Identity) (*identity.Identity, error) {
	if given != nil {
		return given, v.Set(vault.KeyPrivateKey, vault.Ptr(given.Hex()))
	}
	if h, ok := v.Get(vault.KeyPrivateKey); ok {
		return identity.FromHex(h)
	}
	id, err := identity.Generate()
	if err != nil {
		return nil, err
	}
	return id, v.Set(vault.KeyPrivateKey, vault.Ptr(id.Hex()))
}

func (c *Cloud) ID() uint64                   { return c.id }
func (c *Cloud) Role() model.Role             { return c.opts.Role }
func (c *Cloud) StoragePath() string          { return c.opts.StoragePath }
func (c *Cloud) Identity() *identity.Identity { return c.ident }
func (c *Cloud) ErrorLog() *diag.ErrorLog     { return c.errLog }
func (c *Cloud) Vault() vault.Store           { return c.opts.Vault }

func (c *Cloud) State() model.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Cloud) EntryPoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entryPoint
}

// Name returns the display name kept in the vault.
func (c *Cloud) Name() string {
	n, _ := c.opts.Vault.Get(vault.KeyName)
	return n
}

// Status returns a human-readable diagnostic dump.
func (c *Cloud) Status() string {
	c.mu.Lock()
	state, ep, tctx, syncing := c.state, c.entryPoint, c.tctx, c.syncing
	var srv *transport.Contact
	authed := false
	if c.sess != nil {
		s := c.sess.server
		srv, authed = &s, c.sess.authenticated
	}
	c.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "instance:   %016x (%s)\n", c.id, c.opts.Role)
	if n := c.Name(); n != "" {
		fmt.Fprintf(&b, "name:       %s\n", n)
	}
	fmt.Fprintf(&b, "user id:    %016x\n", c.ident.UserID())
	fmt.Fprintf(&b, "state:      %s\n", state)
	fmt.Fprintf(&b, "entry:      %s\n", ep)
	if tctx != nil {
		fmt.Fprintf(&b, "connected:  %t\n", tctx.Connected())
	} else {
		b.WriteString("connected:  false\n")
	}
	if srv != nil {
		fmt.Fprintf(&b, "server:     %016x authenticated=%t\n", srv.UserID, authed)
	}
	fmt.Fprintf(&b, "contacts:   %d\n", c.mux.Contacts())
	fmt.Fprintf(&b, "syncing:    %t\n", syncing)
	fmt.Fprintf(&b, "created:    %s\n", c.created.Format(time.RFC3339))
	entries := c.errLog.Entries()
	fmt.Fprintf(&b, "errors:     %d\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "  %s [%s] %s\n", e.Timestamp.Format(time.RFC3339), e.Kind, e.Description)
	}
	return b.String()
}

// notifyLocked wakes every goroutine waiting on a state change. Requires c.mu.
func (c *Cloud) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Cloud) setStateLocked(s model.State) {
	if c.state == s {
		return
	}
	c.log.Debug("state", zap.Stringer("from", c.state), zap.Stringer("to", s))
	c.state = s
	c.notifyLocked()
}
