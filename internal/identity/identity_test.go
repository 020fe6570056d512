package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/paircloud/internal/errs"
)

func TestGenerate_HexRoundTrip(t *testing.T) {
	t.Parallel()
	id, err := Generate()
	require.NoError(t, err)
	require.Len(t, id.PublicKey(), PublicKeyLen)
	require.Equal(t, UserID(id.PublicKey()), id.UserID())

	back, err := FromHex(id.Hex())
	require.NoError(t, err)
	require.Equal(t, id.PublicKey(), back.PublicKey())
	require.Equal(t, id.UserID(), back.UserID())
}

func TestFromHex_Bad(t *testing.T) {
	t.Parallel()
	_, err := FromHex("zz")
	require.ErrorIs(t, err, errs.ErrFormat)
	_, err = FromHex("abcd")
	require.ErrorIs(t, err, errs.ErrFormat)
}

func TestSharedSecret_Symmetric(t *testing.T) {
	t.Parallel()
	a, _ := Generate()
	b, _ := Generate()
	sa, err := a.SharedSecret(b.PublicKey())
	require.NoError(t, err)
	sb, err := b.SharedSecret(a.PublicKey())
	require.NoError(t, err)
	require.Equal(t, sa, sb)

	_, err = a.SharedSecret([]byte{1, 2, 3})
	require.ErrorIs(t, err, errs.ErrFormat)
}

func TestHelloSignature(t *testing.T) {
	t.Parallel()
	a, _ := Generate()
	b, _ := Generate()
	ts := time.Unix(1700000000, 0)
	sig := a.SignHello(ts)
	require.True(t, VerifyHello(a.PublicKey(), ts, sig))
	require.False(t, VerifyHello(b.PublicKey(), ts, sig))
	require.False(t, VerifyHello(a.PublicKey(), ts.Add(time.Second), sig))
	require.False(t, VerifyHello(a.PublicKey(), ts, []byte{0x30}))
}

func TestValidatePublicKey(t *testing.T) {
	t.Parallel()
	a, _ := Generate()
	require.NoError(t, ValidatePublicKey(a.PublicKey()))

	bad := make([]byte, PublicKeyLen)
	bad[0] = 0x05
	require.ErrorIs(t, ValidatePublicKey(bad), errs.ErrFormat)
	require.ErrorIs(t, ValidatePublicKey(a.PublicKey()[:32]), errs.ErrFormat)
}

func TestFromPassphrase(t *testing.T) {
	t.Parallel()
	a, err := FromPassphrase("correct horse")
	require.NoError(t, err)
	b, err := FromPassphrase("correct horse")
	require.NoError(t, err)
	c, err := FromPassphrase("battery staple")
	require.NoError(t, err)
	require.Equal(t, a.PublicKey(), b.PublicKey())
	require.NotEqual(t, a.PublicKey(), c.PublicKey())

	_, err = FromPassphrase("")
	require.ErrorIs(t, err, errs.ErrFormat)
}
