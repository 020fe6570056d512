// Package litecipher implements the compact keyed XOR stream cipher used to
// obscure short secrets carried in pairing QR codes and share links.
//
// It is a portability mechanism, not a vetted primitive: there is no
// authentication and Mix256 is not collision resistant. Output must stay
// bit-exact across implementations, so shift amounts and operand order are fixed.
package litecipher

import "encoding/binary"

const (
	blockLen  = 8
	digestLen = 32
)

// Transform encrypts or decrypts data with key. It is its own inverse:
// Transform(k, Transform(k, d)) == d for any key and data length.
func Transform(key, data []byte) []byte {
	k := adjustKey(key, len(data))

	// keystream slices consumed per Mix256 digest, bounded by the key length
	period := len(k) / blockLen
	if period < 1 {
		period = 1
	}
	if period > digestLen/blockLen {
		period = digestLen / blockLen
	}

	out := make([]byte, len(data))
	var ks []byte
	var block [blockLen]byte
	for i, off := 0, 0; off < len(data); i, off = i+1, off+blockLen {
		pos := i % period
		if pos == 0 {
			seed := make([]byte, 0, len(ks)+len(k))
			seed = append(seed, ks...)
			seed = append(seed, k...)
			ks = Mix256(seed)
		}
		// zero padding of the final partial block
		block = [blockLen]byte{}
		n := copy(block[:], data[off:])
		slice := ks[pos*blockLen : (pos+1)*blockLen]
		for j := 0; j < n; j++ {
			out[off+j] = block[j] ^ slice[j]
		}
	}
	return out
}

// adjustKey zero-extends key to at least 4 bytes and replaces its first 4 bytes
// with dataLen XOR the original little-endian prefix.
func adjustKey(key []byte, dataLen int) []byte {
	n := len(key)
	if n < 4 {
		n = 4
	}
	k := make([]byte, n)
	copy(k, key)
	prefix := binary.LittleEndian.Uint32(k[:4])
	binary.LittleEndian.PutUint32(k[:4], uint32(dataLen)^prefix)
	return k
}

// Mix256 is the 32-byte mixing hash behind the keystream. Input is zero padded
// to a multiple of 32 bytes. The result is always 32 bytes, also for empty input.
func Mix256(input []byte) []byte {
	acc := [8]uint32{
		0x55555555, 0xAAAAAAAA,
		0x33333333, 0xCCCCCCCC,
		0x0F0F0F0F, 0xF0F0F0F0,
		0x00FF00FF, 0xFF00FF00,
	}

	n := uint32(len(input))
	s := n
	s ^= s << (1 + n%30)
	s ^= s >> (1 + n%29)

	var chunk [digestLen]byte
	var words [8]uint32
	for off := 0; off < len(input); off += digestLen {
		chunk = [digestLen]byte{}
		copy(chunk[:], input[off:])
		for j := range words {
			words[j] = binary.LittleEndian.Uint32(chunk[j*4:])
			s ^= words[j]
		}
		s ^= s << (1 + s%28)
		s ^= s >> (1 + s%29)
		s ^= s << (1 + s%30)
		for j := range acc {
			acc[j] ^= words[j] ^ s
		}
	}

	out := make([]byte, digestLen)
	for j, a := range acc {
		binary.LittleEndian.PutUint32(out[j*4:], a)
	}
	return out
}
