package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/paircloud/internal/errs"
)

var key = []byte("0123456789abcdef0123456789abcdef")

func TestIssueVerify(t *testing.T) {
	tok, exp, err := Issue(key, 18446744073709551615, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 2*time.Second)

	id, err := Verify(key, tok)
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551615), id)
}

func TestVerifyRejects(t *testing.T) {
	tok, _, err := Issue(key, 7, time.Hour)
	require.NoError(t, err)

	_, err = Verify([]byte("other-key"), tok)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = Verify(key, tok+"x")
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	expired, _, err := Issue(key, 7, -time.Minute)
	require.NoError(t, err)
	_, err = Verify(key, expired)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	within, _, err := Issue(key, 7, -10*time.Second)
	require.NoError(t, err)
	_, err = Verify(key, within)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "7"})
	s, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = Verify(key, s)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestIssueEmptyKey(t *testing.T) {
	_, _, err := Issue(nil, 1, time.Hour)
	require.Error(t, err)
}
