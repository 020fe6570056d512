// Package identity holds the bitcoin-style secp256k1 key pair that identifies an
// instance on the transport instead of a user/password account.
package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/and161185/paircloud/internal/errs"
)

// PublicKeyLen is the size of a compressed public key.
const PublicKeyLen = secp256k1.PubKeyBytesLenCompressed

// Identity is a private key with its cached public key and user id.
type Identity struct {
	priv   *secp256k1.PrivateKey
	pub    []byte
	userID uint64
}

// Generate creates a fresh random identity.
func Generate() (*Identity, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return fromPrivate(priv), nil
}

// FromHex restores an identity persisted with Hex.
func FromHex(s string) (*Identity, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != secp256k1.PrivKeyBytesLen {
		return nil, fmt.Errorf("private key: %w", errs.ErrFormat)
	}
	return fromPrivate(secp256k1.PrivKeyFromBytes(b)), nil
}

// FromPassphrase derives a deterministic identity from a passphrase, the way
// brain wallets do. Used when a context is opened with a passphrase override.
func FromPassphrase(passphrase string) (*Identity, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("empty passphrase: %w", errs.ErrFormat)
	}
	seed := sha256.Sum256([]byte("paircloud/identity/v1:" + passphrase))
	return fromPrivate(secp256k1.PrivKeyFromBytes(seed[:])), nil
}

func fromPrivate(priv *secp256k1.PrivateKey) *Identity {
	pub := priv.PubKey().SerializeCompressed()
	return &Identity{priv: priv, pub: pub, userID: UserID(pub)}
}

// Hex returns the private key for persistence in the vault.
func (id *Identity) Hex() string { return hex.EncodeToString(id.priv.Serialize()) }

// PublicKey returns a copy of the compressed public key.
func (id *Identity) PublicKey() []byte { return append([]byte(nil), id.pub...) }

// UserID returns the numeric id derived from the public key.
func (id *Identity) UserID() uint64 { return id.userID }

// SharedSecret computes the ECDH secret with a peer's compressed public key.
func (id *Identity) SharedSecret(peerPub []byte) ([]byte, error) {
	pk, err := secp256k1.ParsePubKey(peerPub)
	if err != nil {
		return nil, fmt.Errorf("peer key: %w", errs.ErrFormat)
	}
	return secp256k1.GenerateSharedSecret(id.priv, pk), nil
}

// SignHello signs the relay registration timestamp.
func (id *Identity) SignHello(ts time.Time) []byte {
	h := helloDigest(id.pub, ts)
	return ecdsa.Sign(id.priv, h[:]).Serialize()
}

// VerifyHello checks a registration signature produced by SignHello.
func VerifyHello(pub []byte, ts time.Time, sig []byte) bool {
	pk, err := secp256k1.ParsePubKey(pub)
	if err != nil {
		return false
	}
	s, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	h := helloDigest(pub, ts)
	return s.Verify(h[:], pk)
}

func helloDigest(pub []byte, ts time.Time) [32]byte {
	buf := make([]byte, 0, len(pub)+8)
	buf = append(buf, pub...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(ts.Unix()))
	return sha256.Sum256(buf)
}

// ValidatePublicKey reports whether b is a valid compressed curve point.
func ValidatePublicKey(b []byte) error {
	if len(b) != PublicKeyLen {
		return fmt.Errorf("public key length %d: %w", len(b), errs.ErrFormat)
	}
	if _, err := secp256k1.ParsePubKey(b); err != nil {
		return fmt.Errorf("public key: %w", errs.ErrFormat)
	}
	return nil
}

// UserID derives the numeric transport id of a public key.
func UserID(pub []byte) uint64 { return xxhash.Sum64(pub) }
