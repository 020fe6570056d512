package relay

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/and161185/paircloud/internal/errs"
	"github.com/and161185/paircloud/internal/identity"
	"github.com/and161185/paircloud/internal/transport"
)

type loginEvent struct {
	server transport.Contact
	token  []byte
	err    error
}

type recHandler struct {
	up       chan bool
	msgs     chan transport.Message
	logins   chan loginEvent
	transErr chan error
	pin      string
}

var _ transport.Handler = (*recHandler)(nil)

func newRecHandler() *recHandler {
	return &recHandler{
		up:       make(chan bool, 8),
		msgs:     make(chan transport.Message, 8),
		logins:   make(chan loginEvent, 8),
		transErr: make(chan error, 8),
	}
}

func (h *recHandler) OnConnectivity(up bool) { h.up <- up }
func (h *recHandler) OnMessage(_ context.Context, m transport.Message) {
	h.msgs <- m
}
func (h *recHandler) Authenticate(_ context.Context, _ transport.Contact, pin string) ([]byte, error) {
	if pin != h.pin {
		return nil, errs.ErrUnauthorized
	}
	return []byte("token-" + pin), nil
}
func (h *recHandler) OnAuthenticated(s transport.Contact, token []byte) {
	h.logins <- loginEvent{server: s, token: token}
}
func (h *recHandler) OnLoginError(s transport.Contact, err error) {
	h.logins <- loginEvent{server: s, err: err}
}
func (h *recHandler) OnTransportError(err error) {
	select {
	case h.transErr <- err:
	default:
	}
}

func startHub(t *testing.T) (*Hub, *bufconn.Listener) {
	t.Helper()
	log := zaptest.NewLogger(t)
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ChainStreamInterceptor(RecoverStream(log), LoggingStream(log)))
	hub := NewHub(log, HubOptions{})
	RegisterRelayServer(srv, hub)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return hub, lis
}

func testConfig(lis *bufconn.Listener) Config {
	return Config{
		Target:      "passthrough:///bufnet",
		Insecure:    true,
		BackoffBase: 10 * time.Millisecond,
		BackoffMax:  50 * time.Millisecond,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		},
	}
}

func dialPeer(t *testing.T, lis *bufconn.Listener, h *recHandler) (*Client, *identity.Identity) {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	c, err := Dial(transport.Options{EntryPoint: "bufnet", Identity: id, Handler: h, Logger: zaptest.NewLogger(t)}, testConfig(lis))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	select {
	case up := <-h.up:
		require.True(t, up)
	case <-time.After(5 * time.Second):
		t.Fatal("no connectivity")
	}
	return c, id
}

func TestRelay_CommandAndLogin(t *testing.T) {
	hub, lis := startHub(t)

	srvH := newRecHandler()
	srvH.pin = "2468"
	srv, srvID := dialPeer(t, lis, srvH)
	cliH := newRecHandler()
	cli, cliID := dialPeer(t, lis, cliH)

	require.Eventually(t, func() bool { return hub.Peers() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, cli.Connected())
	assert.True(t, cli.HostReachable())

	server, err := cli.AddContact(srvID.PublicKey())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, cli.Send(ctx, server, 0x6370, 1, [][]byte{[]byte("key")}))
	select {
	case m := <-srvH.msgs:
		assert.Equal(t, cliID.UserID(), m.Sender.UserID)
		assert.Equal(t, cliID.PublicKey(), m.Sender.PublicKey)
		assert.Equal(t, uint16(0x6370), m.AppID)
		assert.Equal(t, uint16(1), m.Code)
		assert.Equal(t, [][]byte{[]byte("key")}, m.Params)
	case <-time.After(5 * time.Second):
		t.Fatal("command not delivered")
	}

	require.NoError(t, cli.Login(ctx, server, "0000"))
	select {
	case ev := <-cliH.logins:
		require.ErrorIs(t, ev.err, errs.ErrUnauthorized)
	case <-time.After(5 * time.Second):
		t.Fatal("no login reply")
	}

	require.NoError(t, cli.Login(ctx, server, "2468"))
	select {
	case ev := <-cliH.logins:
		require.NoError(t, ev.err)
		assert.Equal(t, "token-2468", string(ev.token))
		assert.Equal(t, srvID.UserID(), ev.server.UserID)
	case <-time.After(5 * time.Second):
		t.Fatal("no login reply")
	}

	// plain request and plain reply
	require.NoError(t, cli.Send(ctx, transport.Contact{UserID: srvID.UserID()}, 0x6370, 5, nil))
	var req transport.Message
	select {
	case req = <-srvH.msgs:
		assert.False(t, req.Sender.Known())
	case <-time.After(5 * time.Second):
		t.Fatal("plain command not delivered")
	}
	require.NoError(t, srv.Send(ctx, req.Sender, 0x6370, 5, [][]byte{[]byte("sealed-key")}))
	select {
	case m := <-cliH.msgs:
		assert.Equal(t, [][]byte{[]byte("sealed-key")}, m.Params)
	case <-time.After(5 * time.Second):
		t.Fatal("plain reply not delivered")
	}

	require.NoError(t, cli.Close())
	assert.False(t, cli.Connected())
	require.ErrorIs(t, cli.Send(ctx, server, 1, 1, nil), errs.ErrNotConnected)
}

func TestRelay_AddContactRejectsBadKey(t *testing.T) {
	_, lis := startHub(t)
	c, _ := dialPeer(t, lis, newRecHandler())
	_, err := c.AddContact([]byte{1, 2, 3})
	require.ErrorIs(t, err, errs.ErrFormat)
}

func TestHub_RejectsForgedHello(t *testing.T) {
	_, lis := startHub(t)
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
	)
	require.NoError(t, err)
	defer cc.Close()

	id, err := identity.Generate()
	require.NoError(t, err)
	now := time.Now()
	payload := binary.LittleEndian.AppendUint64(nil, uint64(now.Unix()))
	payload = append(payload, id.SignHello(now)...)

	tests := map[string]Frame{
		"wrong id":  {Kind: KindHello, From: id.UserID() + 1, PubKey: id.PublicKey(), Payload: payload},
		"no sig":    {Kind: KindHello, From: id.UserID(), PubKey: id.PublicKey(), Payload: payload[:8]},
		"not hello": {Kind: KindCommand, From: id.UserID(), PubKey: id.PublicKey()},
	}
	for name, f := range tests {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			stream, err := NewRelayClient(cc).Exchange(ctx)
			require.NoError(t, err)
			b, err := f.MarshalBinary()
			require.NoError(t, err)
			require.NoError(t, stream.Send(wrapperspb.Bytes(b)))
			_, err = stream.Recv()
			require.Error(t, err)
			code := status.Code(err)
			assert.Contains(t, []codes.Code{codes.Unauthenticated, codes.InvalidArgument}, code)
		})
	}
}
