package relay

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/and161185/paircloud/internal/errs"
)

// Kind identifies a relay frame.
type Kind uint8

const (
	KindHello Kind = iota + 1
	KindHelloAck
	KindLogin
	KindLoginAck
	KindLoginNak
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindHelloAck:
		return "hello-ack"
	case KindLogin:
		return "login"
	case KindLoginAck:
		return "login-ack"
	case KindLoginNak:
		return "login-nak"
	case KindCommand:
		return "command"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// FlagPlain marks a payload that is not sealed for the recipient.
const FlagPlain uint8 = 1 << 0

// LoginNak reason codes carried in Frame.Code.
const (
	NakUnauthorized uint16 = iota + 1
	NakRateLimited
	NakLicenseExpired
	NakInternal
)

const headerLen = 1 + 1 + 8 + 8 + 1 + 2 + 2

// Frame is the unit exchanged over the relay stream.
type Frame struct {
	Kind    Kind
	Flags   uint8
	From    uint64
	To      uint64
	PubKey  []byte
	AppID   uint16
	Code    uint16
	Payload []byte
}

// MarshalBinary encodes the frame as
// kind u8 | flags u8 | from u64 | to u64 | keylen u8 | key | app u16 | code u16 | payload.
func (f Frame) MarshalBinary() ([]byte, error) {
	if len(f.PubKey) > math.MaxUint8 {
		return nil, fmt.Errorf("frame: public key length %d: %w", len(f.PubKey), errs.ErrFormat)
	}
	b := make([]byte, 0, headerLen+len(f.PubKey)+len(f.Payload))
	b = append(b, byte(f.Kind), f.Flags)
	b = binary.LittleEndian.AppendUint64(b, f.From)
	b = binary.LittleEndian.AppendUint64(b, f.To)
	b = append(b, byte(len(f.PubKey)))
	b = append(b, f.PubKey...)
	b = binary.LittleEndian.AppendUint16(b, f.AppID)
	b = binary.LittleEndian.AppendUint16(b, f.Code)
	b = append(b, f.Payload...)
	return b, nil
}

// UnmarshalBinary decodes a frame produced by MarshalBinary.
func (f *Frame) UnmarshalBinary(b []byte) error {
	if len(b) < headerLen {
		return fmt.Errorf("frame: short header (%d bytes): %w", len(b), errs.ErrFormat)
	}
	f.Kind = Kind(b[0])
	f.Flags = b[1]
	f.From = binary.LittleEndian.Uint64(b[2:10])
	f.To = binary.LittleEndian.Uint64(b[10:18])
	kl := int(b[18])
	rest := b[19:]
	if len(rest) < kl+4 {
		return fmt.Errorf("frame: truncated key: %w", errs.ErrFormat)
	}
	f.PubKey = nil
	if kl > 0 {
		f.PubKey = append([]byte(nil), rest[:kl]...)
	}
	rest = rest[kl:]
	f.AppID = binary.LittleEndian.Uint16(rest[0:2])
	f.Code = binary.LittleEndian.Uint16(rest[2:4])
	f.Payload = nil
	if len(rest) > 4 {
		f.Payload = append([]byte(nil), rest[4:]...)
	}
	if f.Kind < KindHello || f.Kind > KindCommand {
		return fmt.Errorf("frame: %v: %w", f.Kind, errs.ErrFormat)
	}
	return nil
}

// EncodeParams packs command parameters as count u16 followed by
// length u32 + bytes for each parameter.
func EncodeParams(params [][]byte) ([]byte, error) {
	if len(params) > math.MaxUint16 {
		return nil, fmt.Errorf("params: %d parameters: %w", len(params), errs.ErrFormat)
	}
	n := 2
	for _, p := range params {
		n += 4 + len(p)
	}
	b := make([]byte, 0, n)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(params)))
	for _, p := range params {
		b = binary.LittleEndian.AppendUint32(b, uint32(len(p)))
		b = append(b, p...)
	}
	return b, nil
}

// DecodeParams is the inverse of EncodeParams.
func DecodeParams(b []byte) ([][]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b) < 2 {
		return nil, fmt.Errorf("params: short count: %w", errs.ErrFormat)
	}
	cnt := int(binary.LittleEndian.Uint16(b))
	b = b[2:]
	out := make([][]byte, 0, cnt)
	for i := 0; i < cnt; i++ {
		if len(b) < 4 {
			return nil, fmt.Errorf("params: [%d] short length: %w", i, errs.ErrFormat)
		}
		l := binary.LittleEndian.Uint32(b)
		b = b[4:]
		if uint64(len(b)) < uint64(l) {
			return nil, fmt.Errorf("params: [%d] truncated: %w", i, errs.ErrFormat)
		}
		p := make([]byte, l)
		copy(p, b[:l])
		out = append(out, p)
		b = b[l:]
	}
	if len(b) != 0 {
		return nil, fmt.Errorf("params: %d trailing bytes: %w", len(b), errs.ErrFormat)
	}
	return out, nil
}
