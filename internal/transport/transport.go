// Package transport defines the encrypted messaging layer the pairing core runs
// on: contacts keyed by a numeric user id and public key, command messages
// tagged with a sub-application id, and a login handshake.
package transport

import (
	"context"

	"go.uber.org/zap"

	"github.com/and161185/paircloud/internal/identity"
)

// Contact is a peer identity handle.
type Contact struct {
	UserID    uint64
	PublicKey []byte // nil while only the user id is known
}

// Known reports whether the contact's public key is known.
func (c Contact) Known() bool { return len(c.PublicKey) > 0 }

// ContactFromKey builds a contact from a compressed public key.
func ContactFromKey(pub []byte) (Contact, error) {
	if err := identity.ValidatePublicKey(pub); err != nil {
		return Contact{}, err
	}
	return Contact{UserID: identity.UserID(pub), PublicKey: append([]byte(nil), pub...)}, nil
}

// Message is an inbound command datagram.
type Message struct {
	Sender Contact
	AppID  uint16
	Code   uint16
	Params [][]byte
}

// Handler receives transport events. Callbacks run on transport goroutines.
type Handler interface {
	// OnConnectivity reports the transport link going up or down.
	OnConnectivity(up bool)
	// OnMessage delivers an inbound command datagram.
	OnMessage(ctx context.Context, msg Message)
	// Authenticate is asked by a server-side transport to accept a client login.
	// It returns the session token sent back to the client.
	Authenticate(ctx context.Context, client Contact, pin string) ([]byte, error)
	// OnAuthenticated tells a client that the server accepted its login.
	OnAuthenticated(server Contact, token []byte)
	// OnLoginError tells a client that the server rejected its login.
	OnLoginError(server Contact, err error)
	// OnTransportError reports a non-fatal lower-layer fault.
	OnTransportError(err error)
}

// Context is an open transport bound to one entry point.
type Context interface {
	Connected() bool
	HostReachable() bool
	// AddContact registers a peer by public key and returns its handle.
	AddContact(pub []byte) (Contact, error)
	// Login starts the client handshake toward server.
	Login(ctx context.Context, server Contact, pin string) error
	// Send forwards one command datagram.
	Send(ctx context.Context, to Contact, appID, code uint16, params [][]byte) error
	Close() error
}

// Options configure a new Context.
type Options struct {
	EntryPoint string
	Identity   *identity.Identity
	Handler    Handler
	Logger     *zap.Logger
}

// Factory opens a transport context.
type Factory func(opts Options) (Context, error)
