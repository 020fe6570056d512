// Package model defines domain entities shared by pairing, transport and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Role selects which side of a pairing an instance plays.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return "unknown"
	}
}

// ParseRole maps a config string to a Role.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "server":
		return RoleServer, true
	case "client":
		return RoleClient, true
	}
	return 0, false
}

// State is the pairing state of an instance.
type State uint8

const (
	StateDisconnected State = iota
	StateContextCreated
	StateAwaitingTransportConnect
	StateCredentialExchange
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateContextCreated:
		return "context-created"
	case StateAwaitingTransportConnect:
		return "awaiting-transport-connect"
	case StateCredentialExchange:
		return "credential-exchange"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// LoginResult classifies the outcome of a client login.
type LoginResult uint8

const (
	LoginSuccessful LoginResult = iota
	LoginWrongQR
	LoginWrongPassword
	LoginLicenseExpired
	LoginRemoteHostNotReachable
	LoginCloudNotResponding
	// LoginCanceled is returned when the caller's context ends or a logout
	// supersedes the attempt before it completes.
	LoginCanceled
)

func (r LoginResult) String() string {
	switch r {
	case LoginSuccessful:
		return "successful"
	case LoginWrongQR:
		return "wrong QR code"
	case LoginWrongPassword:
		return "wrong password"
	case LoginLicenseExpired:
		return "license expired"
	case LoginRemoteHostNotReachable:
		return "remote host not reachable"
	case LoginCloudNotResponding:
		return "cloud not responding"
	case LoginCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ErrorKind tags transport-level faults in the diagnostic log.
type ErrorKind string

const (
	ErrorKindTransport ErrorKind = "transport"
	ErrorKindCommand   ErrorKind = "command"
	ErrorKindLogin     ErrorKind = "login"
)

// ErrorLogEntry is a single diagnostic record.
type ErrorLogEntry struct {
	ID          uuid.UUID
	Kind        ErrorKind
	Description string
	Timestamp   time.Time
}

// Device is a client paired with a server instance.
type Device struct {
	ID        uuid.UUID
	UserID    uint64 // derived from the client public key
	PublicKey []byte // 33-byte compressed secp256k1 key
	Name      string
	PairedAt  time.Time
	LastSeen  time.Time
}

// DataRecord is an administrative key/value entry stored on the server for one client.
type DataRecord struct {
	UserID    uint64
	Key       string
	Value     []byte
	Ver       int64
	UpdatedAt time.Time
}
