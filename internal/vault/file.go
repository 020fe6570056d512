package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/and161185/paircloud/internal/crypto/peercrypto"
)

const (
	fileName = "vault.bin"
	saltLen  = 16
)

// File is a Store persisted as a single sealed JSON document in the instance directory.
type File struct {
	mu   sync.RWMutex
	path string
	salt []byte
	kek  []byte
	m    map[string]string
}

// DefaultPassphrase derives the passphrase used when none is configured.
// It ties the vault to its directory only; set a real passphrase in production.
func DefaultPassphrase(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = filepath.Clean(dir)
	}
	sum := sha256.Sum256([]byte("paircloud/vault:" + abs))
	return hex.EncodeToString(sum[:])
}

// OpenFile loads (or creates) the vault under dir, sealed with passphrase.
func OpenFile(dir, passphrase string) (*File, error) {
	if passphrase == "" {
		return nil, errors.New("vault: empty passphrase")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("vault dir: %w", err)
	}
	f := &File{path: filepath.Join(dir, fileName), m: map[string]string{}}

	b, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		salt, err := peercrypto.Rand(saltLen)
		if err != nil {
			return nil, err
		}
		f.salt = salt
		f.kek = peercrypto.DeriveKEK([]byte(passphrase), salt)
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("vault read: %w", err)
	}

	if len(b) < saltLen {
		return nil, errors.New("vault: file too short")
	}
	f.salt = b[:saltLen]
	f.kek = peercrypto.DeriveKEK([]byte(passphrase), f.salt)
	pt, err := peercrypto.Open(f.kek, f.salt, b[saltLen:])
	if err != nil {
		return nil, fmt.Errorf("vault open: %w", err)
	}
	if err := json.Unmarshal(pt, &f.m); err != nil {
		return nil, fmt.Errorf("vault decode: %w", err)
	}
	return f, nil
}

func (f *File) Get(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.m[key]
	return v, ok
}

func (f *File) Set(key string, value *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if value == nil {
		delete(f.m, key)
	} else {
		f.m[key] = *value
	}
	return f.flush()
}

// flush rewrites the sealed document via a temp file and rename.
func (f *File) flush() error {
	pt, err := json.Marshal(f.m)
	if err != nil {
		return err
	}
	ct, err := peercrypto.Seal(f.kek, f.salt, pt)
	if err != nil {
		return err
	}
	out := make([]byte, 0, len(f.salt)+len(ct))
	out = append(out, f.salt...)
	out = append(out, ct...)

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}
