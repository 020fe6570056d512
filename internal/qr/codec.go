// Package qr encodes and decodes the binary pairing credential carried by QR codes.
//
// Layout after base64 decoding, offsets from the start of the blob:
//
//	[0]      type tag (0 direct, 1 legacy, 2 indirect)
//	type 0:  [1:34]  compressed server public key, [34:] entry point suffix
//	type 2:  [1:25]  key material, [25:33] server id (little endian), [33:] suffix
//
// The suffix is ASCII, not null terminated, and runs to the end of the blob.
package qr

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"

	"github.com/and161185/paircloud/internal/crypto/litecipher"
	"github.com/and161185/paircloud/internal/errs"
	"github.com/and161185/paircloud/internal/identity"
)

// Type is the credential format tag.
type Type uint8

const (
	TypeDirect   Type = 0
	TypeLegacy   Type = 1
	TypeIndirect Type = 2
)

// KeyMaterialLen is the size of the indirect reference key material.
const KeyMaterialLen = 24

const (
	legacyBlockLen = 256 + 3
	serverIDLen    = 8
)

// IndirectRef points at a server whose public key must be fetched after connecting.
type IndirectRef struct {
	ServerID    uint64
	KeyMaterial [KeyMaterialLen]byte
}

// Credential is a decoded pairing credential.
type Credential struct {
	Type            Type
	ServerPublicKey []byte       // TypeDirect only
	Indirect        *IndirectRef // TypeIndirect only
	Suffix          string       // raw entry point suffix, possibly empty
}

// EntryPoint returns the resolved entry point of a decoded credential.
func (c Credential) EntryPoint() string {
	ep, _ := ResolveEntryPoint(c.Suffix)
	return ep
}

// Decode parses base64 text into a credential. It has no side effects.
func Decode(text string) (Credential, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Credential{}, fmt.Errorf("empty credential: %w", errs.ErrFormat)
	}
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return Credential{}, fmt.Errorf("base64: %w", errs.ErrFormat)
	}
	if len(raw) == 0 {
		return Credential{}, fmt.Errorf("empty blob: %w", errs.ErrFormat)
	}

	c := Credential{Type: Type(raw[0])}
	body := raw[1:]
	switch c.Type {
	case TypeDirect:
		if len(body) < identity.PublicKeyLen {
			return Credential{}, fmt.Errorf("short direct credential: %w", errs.ErrFormat)
		}
		pub := body[:identity.PublicKeyLen]
		if err := identity.ValidatePublicKey(pub); err != nil {
			return Credential{}, err
		}
		c.ServerPublicKey = append([]byte(nil), pub...)
		body = body[identity.PublicKeyLen:]
	case TypeLegacy:
		// the legacy block (256+3 bytes) is never interpreted
		return Credential{}, fmt.Errorf("legacy credential (%d-byte block) unsupported: %w", legacyBlockLen, errs.ErrFormat)
	case TypeIndirect:
		if len(body) < KeyMaterialLen+serverIDLen {
			return Credential{}, fmt.Errorf("short indirect credential: %w", errs.ErrFormat)
		}
		ref := &IndirectRef{}
		copy(ref.KeyMaterial[:], body[:KeyMaterialLen])
		ref.ServerID = binary.LittleEndian.Uint64(body[KeyMaterialLen:])
		c.Indirect = ref
		body = body[KeyMaterialLen+serverIDLen:]
	default:
		return Credential{}, fmt.Errorf("type %d: %w", c.Type, errs.ErrFormat)
	}

	if !isASCII(body) {
		return Credential{}, fmt.Errorf("entry point suffix not ascii: %w", errs.ErrFormat)
	}
	c.Suffix = string(body)
	if _, err := ResolveEntryPoint(c.Suffix); err != nil {
		return Credential{}, err
	}
	return c, nil
}

// Encode is the exact inverse of Decode for direct and indirect credentials.
func Encode(c Credential) (string, error) {
	if !isASCII([]byte(c.Suffix)) {
		return "", fmt.Errorf("entry point suffix not ascii: %w", errs.ErrFormat)
	}
	if _, err := ResolveEntryPoint(c.Suffix); err != nil {
		return "", err
	}
	var raw []byte
	switch c.Type {
	case TypeDirect:
		if err := identity.ValidatePublicKey(c.ServerPublicKey); err != nil {
			return "", err
		}
		raw = make([]byte, 0, 1+identity.PublicKeyLen+len(c.Suffix))
		raw = append(raw, byte(TypeDirect))
		raw = append(raw, c.ServerPublicKey...)
	case TypeIndirect:
		if c.Indirect == nil {
			return "", fmt.Errorf("missing indirect reference: %w", errs.ErrFormat)
		}
		raw = make([]byte, 0, 1+KeyMaterialLen+serverIDLen+len(c.Suffix))
		raw = append(raw, byte(TypeIndirect))
		raw = append(raw, c.Indirect.KeyMaterial[:]...)
		raw = binary.LittleEndian.AppendUint64(raw, c.Indirect.ServerID)
	default:
		return "", fmt.Errorf("type %d not encodable: %w", c.Type, errs.ErrFormat)
	}
	raw = append(raw, c.Suffix...)
	return base64.StdEncoding.EncodeToString(raw), nil
}

// ResolveEntryPoint applies the default domain rules to a credential suffix.
func ResolveEntryPoint(suffix string) (string, error) {
	ep := suffix
	switch {
	case ep == "":
		ep = DefaultDomain
	case !strings.Contains(ep, "."):
		ep += "." + DefaultDomain
	}
	if err := checkURI(ep); err != nil {
		return "", err
	}
	return ep, nil
}

// checkURI accepts absolute URIs and bare host[:port] references.
func checkURI(ep string) error {
	if strings.Contains(ep, "://") {
		u, err := url.Parse(ep)
		if err != nil || u.Host == "" {
			return fmt.Errorf("entry point %q: %w", ep, errs.ErrFormat)
		}
		return nil
	}
	u, err := url.Parse("//" + ep)
	if err != nil || u.Host == "" {
		return fmt.Errorf("entry point %q: %w", ep, errs.ErrFormat)
	}
	return nil
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}

// SealPublicKey obscures a server public key for an indirect credential reply.
func SealPublicKey(keyMaterial [KeyMaterialLen]byte, pub []byte) []byte {
	return litecipher.Transform(keyMaterial[:], pub)
}

// RevealPublicKey recovers and validates the server key sent for an indirect reference.
func (r IndirectRef) RevealPublicKey(sealed []byte) ([]byte, error) {
	pub := litecipher.Transform(r.KeyMaterial[:], sealed)
	if err := identity.ValidatePublicKey(pub); err != nil {
		return nil, err
	}
	return pub, nil
}
