// Package peercrypto contains the AEAD primitives used between paired peers and
// for the on-disk secret vault.
package peercrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Params
const (
	KeyLen = 32

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

var peerInfo = []byte("paircloud/peer/v1")

func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// DeriveKEK derives a vault key-encryption key from a passphrase and salt using Argon2id.
func DeriveKEK(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, KeyLen)
}

// DerivePeerKey expands an ECDH shared secret into a symmetric key via HKDF-SHA256.
// Both peers derive the same key regardless of direction.
func DerivePeerKey(shared []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, shared, nil, peerInfo)
	key := make([]byte, KeyLen)
	_, err := r.Read(key)
	return key, err
}

// Seal encrypts plaintext with XChaCha20-Poly1305 and a random nonce; the nonce is prepended.
func Seal(key, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, err := Rand(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, aad)...)
	return out, nil
}

// Open decrypts a blob produced by Seal with the same AAD.
func Open(key, aad, blob []byte) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("blob too short")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := blob[:chacha20poly1305.NonceSizeX]
	ct := blob[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, aad)
}

// RouteAAD binds a sealed payload to its sender, recipient and command header.
func RouteAAD(from, to uint64, appID, code uint16) []byte {
	aad := make([]byte, 0, 20)
	aad = binary.LittleEndian.AppendUint64(aad, from)
	aad = binary.LittleEndian.AppendUint64(aad, to)
	aad = binary.LittleEndian.AppendUint16(aad, appID)
	aad = binary.LittleEndian.AppendUint16(aad, code)
	return aad
}
