package litecipher

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransform_Involution(t *testing.T) {
	t.Parallel()
	lengths := []int{0, 1, 7, 8, 9, 31, 32, 33}
	for keyLen := 0; keyLen <= 64; keyLen++ {
		key := make([]byte, keyLen)
		for i := range key {
			key[i] = byte(i*31 + keyLen)
		}
		for _, n := range lengths {
			data := make([]byte, n)
			for i := range data {
				data[i] = byte(i*7 + 3)
			}
			t.Run(fmt.Sprintf("k%d_d%d", keyLen, n), func(t *testing.T) {
				enc := Transform(key, data)
				require.Len(t, enc, n)
				require.Equal(t, data, Transform(key, enc))
			})
		}
	}
}

func TestTransform_ObscuresAndDependsOnKey(t *testing.T) {
	t.Parallel()
	data := []byte("compressed-public-key-bytes-here!")
	a := Transform([]byte("key-material-one-24bytes"), data)
	b := Transform([]byte("key-material-two-24bytes"), data)
	require.NotEqual(t, data, a)
	require.NotEqual(t, a, b)
}

func TestTransform_DoesNotMutateInputs(t *testing.T) {
	t.Parallel()
	key := []byte{1, 2}
	data := []byte{9, 9, 9}
	_ = Transform(key, data)
	require.Equal(t, []byte{1, 2}, key)
	require.Equal(t, []byte{9, 9, 9}, data)
}

func TestTransform_LengthIsPartOfKey(t *testing.T) {
	t.Parallel()
	key := []byte("same-key")
	short := Transform(key, bytes.Repeat([]byte{0}, 8))
	long := Transform(key, bytes.Repeat([]byte{0}, 9))
	require.NotEqual(t, short, long[:8])
}

func TestMix256_DeterministicFixedLength(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, 1, 31, 32, 33, 64, 100} {
		in := bytes.Repeat([]byte{0xA5}, n)
		a := Mix256(in)
		require.Len(t, a, 32)
		require.Equal(t, a, Mix256(append([]byte(nil), in...)))
	}
}

func TestMix256_EmptyInputReturnsSeeds(t *testing.T) {
	t.Parallel()
	got := Mix256(nil)
	want := []byte{
		0x55, 0x55, 0x55, 0x55, 0xAA, 0xAA, 0xAA, 0xAA,
		0x33, 0x33, 0x33, 0x33, 0xCC, 0xCC, 0xCC, 0xCC,
		0x0F, 0x0F, 0x0F, 0x0F, 0xF0, 0xF0, 0xF0, 0xF0,
		0xFF, 0x00, 0xFF, 0x00, 0x00, 0xFF, 0x00, 0xFF,
	}
	require.Equal(t, want, got)
}

func TestMix256_SensitiveToInput(t *testing.T) {
	t.Parallel()
	require.NotEqual(t, Mix256([]byte{1}), Mix256([]byte{2}))
	// zero padding is not ambiguous because the length seeds the scalar
	require.NotEqual(t, Mix256([]byte{0}), Mix256([]byte{0, 0}))
}

func seq(from, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(from + i)
	}
	return b
}

func TestMix256_KnownAnswers(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   []byte
		want string
	}{
		{[]byte{0}, "d1d545552e2abaaab7b32333484cdccc8b8f1f0f7470e0f07b80ef00847f10ff"},
		{[]byte("abc"), "d936b30247ab2ffdde32b66421cd499be20e8a581df175a712017a57edfe85a8"},
		{seq(0, 40), "b30c71414cf38ebefd433d0c06b8c6f7d9671928229ce2d32160e12fda9b1ad4"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, hex.EncodeToString(Mix256(tc.in)), "input %x", tc.in)
	}
}

func TestTransform_KnownAnswers(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		key, data []byte
		want      string
	}{
		{"short key", []byte("paircloud"), []byte("hello"), "5eeb1d51b0"},
		{"empty key", nil, make([]byte, 12), "cd549f553eab60aa063209fc"},
		{"multi block", seq(100, 24), seq(0, 33), "a02d0d2b76dafadce74b6b4d00ac8caadb7757712c80a08658f8277e5cfc237a60"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, hex.EncodeToString(Transform(tc.key, tc.data)))
		})
	}
}
