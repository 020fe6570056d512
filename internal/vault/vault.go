// Package vault stores the small set of string secrets an instance needs
// (PIN, server public key, private key, display name).
package vault

import "sync"

// Well-known secret keys.
const (
	KeyPIN             = "pin"
	KeyServerPublicKey = "ServerPublicKey"
	KeyName            = "Name"
	KeyPrivateKey      = "PrivateKey"
	KeyQRKey           = "QRKey"
	KeySessionKey      = "SessionKey"
	KeyPendingQR       = "PendingQR"
)

// Store is a string-keyed secret store. Set with a nil value clears the key.
type Store interface {
	Get(key string) (string, bool)
	Set(key string, value *string) error
}

// Ptr is a helper for Set.
func Ptr(s string) *string { return &s }

// Memory is an in-process Store.
type Memory struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory { return &Memory{m: map[string]string{}} }

func (s *Memory) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *Memory) Set(key string, value *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == nil {
		delete(s.m, key)
		return nil
	}
	s.m[key] = *value
	return nil
}
