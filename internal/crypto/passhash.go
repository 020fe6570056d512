// Package crypto implements server-side PIN hashing and verification.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters.
const (
	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024 // KiB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
	saltLen             = 16
)

// ErrEmptyPIN is returned when hashing an empty PIN.
var ErrEmptyPIN = errors.New("crypto: empty pin")

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// PINHash is a salted Argon2id digest of a pairing PIN.
type PINHash struct {
	Salt []byte
	Sum  []byte
}

// NewPINHash hashes pin under a fresh random salt.
func NewPINHash(pin string) (PINHash, error) {
	if pin == "" {
		return PINHash{}, ErrEmptyPIN
	}
	salt, err := RandBytes(saltLen)
	if err != nil {
		return PINHash{}, err
	}
	return PINHash{Salt: salt, Sum: derive([]byte(pin), salt)}, nil
}

// IsZero reports whether no PIN has been hashed.
func (h PINHash) IsZero() bool { return len(h.Sum) == 0 }

// Verify compares pin against h in constant time. A zero hash matches nothing.
func (h PINHash) Verify(pin string) bool {
	if h.IsZero() || pin == "" {
		return false
	}
	return subtle.ConstantTimeCompare(derive([]byte(pin), h.Salt), h.Sum) == 1
}

func derive(pin, salt []byte) []byte {
	return argon2.IDKey(pin, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}
