package relay

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/and161185/paircloud/internal/crypto/peercrypto"
	"github.com/and161185/paircloud/internal/errs"
	"github.com/and161185/paircloud/internal/transport"
)

// DefaultPort is used when the entry point carries no port.
const DefaultPort = "8443"

// Config tunes relay clients.
type Config struct {
	// Target overrides the dial target derived from the entry point.
	Target string
	// CAFile enables TLS with the given root certificate; Insecure disables TLS.
	CAFile   string
	Insecure bool
	// DialOptions are appended to the defaults.
	DialOptions []grpc.DialOption
	// BackoffBase and BackoffMax bound the reconnect backoff.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// ProbeTimeout bounds the health probe behind HostReachable.
	ProbeTimeout time.Duration
}

// Address turns an entry point into a host:port dial address.
func Address(entryPoint string) (string, error) {
	ep := entryPoint
	if strings.Contains(ep, "://") {
		u, err := url.Parse(ep)
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("entry point %q: %w", entryPoint, errs.ErrFormat)
		}
		ep = u.Host
	}
	if ep == "" {
		return "", fmt.Errorf("empty entry point: %w", errs.ErrFormat)
	}
	if _, _, err := net.SplitHostPort(ep); err == nil {
		return ep, nil
	}
	return net.JoinHostPort(strings.Trim(ep, "[]"), DefaultPort), nil
}

// NewFactory returns a transport.Factory that opens relay clients with cfg.
func NewFactory(cfg Config) transport.Factory {
	return func(opts transport.Options) (transport.Context, error) {
		return Dial(opts, cfg)
	}
}

// Client is a transport.Context backed by a relay hub stream.
type Client struct {
	opts   transport.Options
	cfg    Config
	log    *zap.Logger
	cc     *grpc.ClientConn
	relay  RelayClient
	health healthpb.HealthClient

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connected atomic.Bool

	sendMu sync.Mutex
	stream Relay_ExchangeClient

	keysMu sync.Mutex
	keys   map[string][]byte
}

var _ transport.Context = (*Client)(nil)

// Dial creates the client connection and starts the reconnecting stream loop.
// It does not wait for the hub; connectivity is reported through the handler.
func Dial(opts transport.Options, cfg Config) (*Client, error) {
	if opts.Identity == nil || opts.Handler == nil {
		return nil, errors.New("relay: identity and handler are required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}

	target := cfg.Target
	if target == "" {
		addr, err := Address(opts.EntryPoint)
		if err != nil {
			return nil, err
		}
		target = addr
	}

	var creds credentials.TransportCredentials
	switch {
	case cfg.Insecure:
		creds = insecure.NewCredentials()
	case cfg.CAFile != "":
		c, err := credentials.NewClientTLSFromFile(cfg.CAFile, "")
		if err != nil {
			return nil, fmt.Errorf("tls: %w", err)
		}
		creds = c
	default:
		creds = credentials.NewTLS(nil)
	}
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, cfg.DialOptions...)
	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	c := &Client{
		opts:   opts,
		cfg:    cfg,
		log:    opts.Logger.With(zap.String("entry", opts.EntryPoint), zap.Uint64("self", opts.Identity.UserID())),
		cc:     cc,
		relay:  NewRelayClient(cc),
		health: healthpb.NewHealthClient(cc),
		keys:   map[string][]byte{},
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.wg.Add(1)
	go c.run()
	return c, nil
}

func (c *Client) Connected() bool { return c.connected.Load() }

// HostReachable probes the hub health service.
func (c *Client) HostReachable() bool {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.ProbeTimeout)
	defer cancel()
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

func (c *Client) AddContact(pub []byte) (transport.Contact, error) {
	ct, err := transport.ContactFromKey(pub)
	if err != nil {
		return transport.Contact{}, err
	}
	if _, err := c.peerKey(ct.PublicKey); err != nil {
		return transport.Contact{}, err
	}
	return ct, nil
}

// Login sends the PIN sealed for the server.
func (c *Client) Login(ctx context.Context, server transport.Contact, pin string) error {
	if !server.Known() {
		return errs.ErrNoContact
	}
	return c.sendSealed(ctx, Frame{Kind: KindLogin, To: server.UserID}, server.PublicKey, []byte(pin))
}

// Send forwards one command datagram. Contacts without a public key receive
// the parameters unsealed.
func (c *Client) Send(ctx context.Context, to transport.Contact, appID, code uint16, params [][]byte) error {
	payload, err := EncodeParams(params)
	if err != nil {
		return err
	}
	f := Frame{Kind: KindCommand, To: to.UserID, AppID: appID, Code: code}
	if !to.Known() {
		f.Flags |= FlagPlain
		f.Payload = payload
		return c.write(ctx, f)
	}
	return c.sendSealed(ctx, f, to.PublicKey, payload)
}

func (c *Client) Close() error {
	c.cancel()
	c.wg.Wait()
	return c.cc.Close()
}

func (c *Client) sendSealed(ctx context.Context, f Frame, peerPub, plaintext []byte) error {
	key, err := c.peerKey(peerPub)
	if err != nil {
		return err
	}
	f.From = c.opts.Identity.UserID()
	f.Payload, err = peercrypto.Seal(key, peercrypto.RouteAAD(f.From, f.To, f.AppID, f.Code), plaintext)
	if err != nil {
		return err
	}
	return c.write(ctx, f)
}

func (c *Client) write(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.From = c.opts.Identity.UserID()
	b, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.stream == nil {
		return errs.ErrNotConnected
	}
	return c.stream.Send(wrapperspb.Bytes(b))
}

func (c *Client) peerKey(pub []byte) ([]byte, error) {
	c.keysMu.Lock()
	defer c.keysMu.Unlock()
	if k, ok := c.keys[string(pub)]; ok {
		return k, nil
	}
	shared, err := c.opts.Identity.SharedSecret(pub)
	if err != nil {
		return nil, err
	}
	k, err := peercrypto.DerivePeerKey(shared)
	if err != nil {
		return nil, err
	}
	c.keys[string(pub)] = k
	return k, nil
}

// run keeps one stream open until Close. A stream that was established and
// then lost restarts the backoff from its base.
func (c *Client) run() {
	defer c.wg.Done()
	for c.ctx.Err() == nil {
		b := retry.NewExponential(c.cfg.BackoffBase)
		b = retry.WithCappedDuration(c.cfg.BackoffMax, b)
		_ = retry.Do(c.ctx, b, func(ctx context.Context) error {
			established, err := c.session(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				c.opts.Handler.OnTransportError(err)
			}
			if established {
				return nil
			}
			return retry.RetryableError(err)
		})
	}
}

func (c *Client) session(ctx context.Context) (bool, error) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.relay.Exchange(sctx)
	if err != nil {
		return false, fmt.Errorf("open stream: %w", err)
	}
	id := c.opts.Identity
	now := time.Now()
	hello := Frame{Kind: KindHello, From: id.UserID(), PubKey: id.PublicKey()}
	hello.Payload = binary.LittleEndian.AppendUint64(nil, uint64(now.Unix()))
	hello.Payload = append(hello.Payload, id.SignHello(now)...)
	b, err := hello.MarshalBinary()
	if err != nil {
		return false, err
	}
	if err := stream.Send(wrapperspb.Bytes(b)); err != nil {
		return false, fmt.Errorf("hello: %w", err)
	}
	msg, err := stream.Recv()
	if err != nil {
		return false, fmt.Errorf("hello: %w", err)
	}
	var ack Frame
	if err := ack.UnmarshalBinary(msg.GetValue()); err != nil || ack.Kind != KindHelloAck {
		return false, fmt.Errorf("hello: unexpected reply: %w", errs.ErrFormat)
	}

	c.sendMu.Lock()
	c.stream = stream
	c.sendMu.Unlock()
	c.connected.Store(true)
	c.log.Info("relay connected")
	c.opts.Handler.OnConnectivity(true)

	err = c.readLoop(sctx, stream)

	c.sendMu.Lock()
	c.stream = nil
	c.sendMu.Unlock()
	c.connected.Store(false)
	c.log.Info("relay disconnected", zap.Error(err))
	c.opts.Handler.OnConnectivity(false)
	if status.Code(err) == codes.Canceled {
		err = nil
	}
	return true, err
}

func (c *Client) readLoop(ctx context.Context, stream Relay_ExchangeClient) error {
	for {
		msg, err := stream.Recv()
		if err != nil {
			return err
		}
		var f Frame
		if err := f.UnmarshalBinary(msg.GetValue()); err != nil {
			c.opts.Handler.OnTransportError(err)
			continue
		}
		if err := c.dispatch(ctx, f); err != nil {
			c.opts.Handler.OnTransportError(fmt.Errorf("%v from %d: %w", f.Kind, f.From, err))
		}
	}
}

func (c *Client) open(f Frame) ([]byte, error) {
	key, err := c.peerKey(f.PubKey)
	if err != nil {
		return nil, err
	}
	return peercrypto.Open(key, peercrypto.RouteAAD(f.From, f.To, f.AppID, f.Code), f.Payload)
}

func (c *Client) dispatch(ctx context.Context, f Frame) error {
	sender := transport.Contact{UserID: f.From, PublicKey: f.PubKey}
	h := c.opts.Handler

	switch f.Kind {
	case KindCommand:
		payload := f.Payload
		if f.Flags&FlagPlain == 0 {
			var err error
			if payload, err = c.open(f); err != nil {
				return err
			}
		} else {
			// the reply to a plain request must also go out plain
			sender.PublicKey = nil
		}
		params, err := DecodeParams(payload)
		if err != nil {
			return err
		}
		h.OnMessage(ctx, transport.Message{Sender: sender, AppID: f.AppID, Code: f.Code, Params: params})

	case KindLogin:
		pin, err := c.open(f)
		if err != nil {
			return err
		}
		token, aerr := h.Authenticate(ctx, sender, string(pin))
		if aerr != nil {
			c.log.Info("login rejected", zap.Uint64("client", sender.UserID), zap.Error(aerr))
			return c.write(ctx, Frame{Kind: KindLoginNak, To: sender.UserID, Code: nakCode(aerr)})
		}
		return c.sendSealed(ctx, Frame{Kind: KindLoginAck, To: sender.UserID}, sender.PublicKey, token)

	case KindLoginAck:
		token, err := c.open(f)
		if err != nil {
			return err
		}
		h.OnAuthenticated(sender, token)

	case KindLoginNak:
		h.OnLoginError(sender, nakError(f.Code))
	}
	return nil
}

func nakCode(err error) uint16 {
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		return NakUnauthorized
	case errors.Is(err, errs.ErrRateLimited):
		return NakRateLimited
	case errors.Is(err, errs.ErrLicenseExpired):
		return NakLicenseExpired
	default:
		return NakInternal
	}
}

func nakError(code uint16) error {
	switch code {
	case NakUnauthorized:
		return errs.ErrUnauthorized
	case NakRateLimited:
		return errs.ErrRateLimited
	case NakLicenseExpired:
		return errs.ErrLicenseExpired
	default:
		return fmt.Errorf("login refused (code %d)", code)
	}
}
