package pairing

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/paircloud/internal/identity"
	"github.com/and161185/paircloud/internal/model"
	"github.com/and161185/paircloud/internal/mux"
	"github.com/and161185/paircloud/internal/service"
	"github.com/and161185/paircloud/internal/transport"
)

// gatedData holds Load of one key until release is closed.
type gatedData struct {
	service.DataService
	key     string
	release chan struct{}
}

func (g *gatedData) Load(ctx context.Context, userID uint64, key string) (*model.DataRecord, error) {
	if key == g.key {
		<-g.release
	}
	return g.DataService.Load(ctx, userID, key)
}

// pairedWithGate logs a client into a server whose Load("a") blocks, after
// storing "a" and "b".
func pairedWithGate(t *testing.T) (*Cloud, *Cloud, *gatedData) {
	t.Helper()
	n := newFakeNet()
	srv := newServer(t, n, false)
	gate := &gatedData{DataService: srv.opts.Data, key: "a", release: make(chan struct{})}
	srv.opts.Data = gate
	cli := newClient(t, n, 10*time.Second, nil)
	ctx := context.Background()

	text, err := srv.PairingQR()
	require.NoError(t, err)
	require.Equal(t, model.LoginSuccessful, cli.Login(ctx, text, serverPIN, ""))
	_, err = cli.SaveData(ctx, "a", []byte("first"))
	require.NoError(t, err)
	_, err = cli.SaveData(ctx, "b", []byte("second"))
	require.NoError(t, err)
	t.Cleanup(func() {
		select {
		case <-gate.release:
		default:
			close(gate.release)
		}
	})
	return srv, cli, gate
}

func pendingIDs(c *Cloud) []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint32, 0, len(c.pending))
	for id := range c.pending {
		out = append(out, id)
	}
	return out
}

func TestRequest_LateReplyAfterTimeout(t *testing.T) {
	_, cli, gate := pairedWithGate(t)
	ctx := context.Background()

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	_, err := cli.LoadData(short, "a")
	cancel()
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, pendingIDs(cli))

	// The server answers "a" only after "b" is already waiting.
	time.AfterFunc(100*time.Millisecond, func() { close(gate.release) })
	v, err := cli.LoadData(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "second", string(v))
	assert.Empty(t, pendingIDs(cli))
}

func TestClientAdmin_ForeignReplyIgnored(t *testing.T) {
	srv, cli, gate := pairedWithGate(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		v   []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := cli.LoadData(ctx, "a")
		done <- result{v, err}
	}()
	require.Eventually(t, func() bool { return len(pendingIDs(cli)) == 1 }, 2*time.Second, 5*time.Millisecond)
	rid := binary.LittleEndian.AppendUint32(nil, pendingIDs(cli)[0])

	stranger, err := identity.Generate()
	require.NoError(t, err)
	forged := [][]byte{{statusOK}, rid, []byte("forged")}
	for _, from := range []transport.Contact{
		{UserID: stranger.UserID(), PublicKey: stranger.PublicKey()},
		{UserID: srv.Identity().UserID(), PublicKey: stranger.PublicKey()},
		{UserID: srv.Identity().UserID()},
	} {
		adminHandler{cli}.HandleAdmin(ctx, from, mux.LoadData, forged)
	}
	// Right sender, wrong command.
	adminHandler{cli}.HandleAdmin(ctx, transport.Contact{UserID: srv.Identity().UserID(), PublicKey: srv.Identity().PublicKey()}, mux.LoadAllData, forged)
	assert.Len(t, pendingIDs(cli), 1)

	close(gate.release)
	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, "first", string(r.v))
	case <-ctx.Done():
		t.Fatal("reply not delivered")
	}
}

func TestServeAdmin_RequestWithoutIDDropped(t *testing.T) {
	n := newFakeNet()
	srv := newServer(t, n, false)
	cli := newClient(t, n, 10*time.Second, nil)
	ctx := context.Background()

	text, err := srv.PairingQR()
	require.NoError(t, err)
	require.Equal(t, model.LoginSuccessful, cli.Login(ctx, text, serverPIN, ""))

	// A bare key where the id belongs; the server must not store anything.
	require.True(t, cli.SendCommand(ctx, mux.ToUser(srv.Identity().UserID()), mux.SaveData, []byte("k"), []byte("v")))
	_, err = cli.LoadData(ctx, "k")
	assert.Error(t, err)
}
