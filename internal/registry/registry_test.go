package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/paircloud/internal/errs"
	"github.com/and161185/paircloud/internal/model"
	"github.com/and161185/paircloud/internal/pairing"
	"github.com/and161185/paircloud/internal/transport"
	"github.com/and161185/paircloud/internal/vault"
)

func noTransport(transport.Options) (transport.Context, error) { return nil, errs.ErrNotConnected }

func clientOpts(path string) pairing.Options {
	return pairing.Options{
		Role:        model.RoleClient,
		StoragePath: path,
		Vault:       vault.NewMemory(),
		Transport:   noTransport,
	}
}

func createABC(t *testing.T) (*Registry, [3]*pairing.Cloud) {
	t.Helper()
	r := New(zaptest.NewLogger(t))
	dir := t.TempDir()
	var out [3]*pairing.Cloud
	for i, name := range []string{"a", "b", "c"} {
		c, err := r.Create(clientOpts(filepath.Join(dir, name)))
		require.NoError(t, err)
		out[i] = c
	}
	return r, out
}

func TestLastInstance(t *testing.T) {
	t.Run("remove middle", func(t *testing.T) {
		r, in := createABC(t)
		last, ok := r.LastInstance()
		require.True(t, ok)
		assert.Same(t, in[2], last)

		require.True(t, r.Remove(in[1]))
		last, _ = r.LastInstance()
		assert.Same(t, in[2], last)

		require.True(t, r.Remove(in[2]))
		last, _ = r.LastInstance()
		assert.Same(t, in[0], last)
	})
	t.Run("remove last", func(t *testing.T) {
		r, in := createABC(t)
		require.True(t, r.Remove(in[2]))
		last, _ := r.LastInstance()
		assert.Same(t, in[1], last)
		assert.False(t, r.Remove(in[2]))
		assert.Equal(t, 2, r.Len())
	})
	t.Run("empty", func(t *testing.T) {
		_, ok := New(nil).LastInstance()
		assert.False(t, ok)
	})
}

func TestCreateDuplicatePath(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	dir := t.TempDir()
	a, err := r.Create(clientOpts(dir))
	require.NoError(t, err)
	_, err = r.Create(clientOpts(dir + string(filepath.Separator)))
	require.ErrorIs(t, err, errs.ErrAlreadyExists)

	got, ok := r.Lookup(a.ID())
	require.True(t, ok)
	assert.Same(t, a, got)

	r.Remove(a)
	_, err = r.Create(clientOpts(dir))
	require.NoError(t, err)
}

func TestDestroyDeletesStorage(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	dir := filepath.Join(t.TempDir(), "instance")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "f"), []byte("x"), 0o600))

	c, err := r.Create(clientOpts(dir))
	require.NoError(t, err)
	require.NoError(t, r.Destroy(c))

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	assert.Zero(t, r.Len())
}

func TestRemoveKeepsStorage(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o600))
	c, err := r.Create(clientOpts(dir))
	require.NoError(t, err)
	require.True(t, r.Remove(c))
	_, err = os.Stat(filepath.Join(dir, "f"))
	assert.NoError(t, err)
}

func TestCloseAll(t *testing.T) {
	r, _ := createABC(t)
	r.CloseAll()
	assert.Zero(t, r.Len())
}

func TestCreateExplicitID(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	dir := t.TempDir()

	opts := clientOpts(filepath.Join(dir, "a"))
	opts.ID = 42
	a, err := r.Create(opts)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), a.ID())
	got, ok := r.Lookup(42)
	require.True(t, ok)
	assert.Same(t, a, got)

	other := clientOpts(filepath.Join(dir, "b"))
	other.ID = 42
	_, err = r.Create(other)
	require.ErrorIs(t, err, errs.ErrAlreadyExists, "id taken")

	samePath := clientOpts(filepath.Join(dir, "a"))
	samePath.ID = 43
	_, err = r.Create(samePath)
	require.ErrorIs(t, err, errs.ErrAlreadyExists, "path taken")

	b, err := r.Create(clientOpts(filepath.Join(dir, "b")))
	require.NoError(t, err)
	assert.Equal(t, pairing.InstanceID(filepath.Join(dir, "b")), b.ID())
}
