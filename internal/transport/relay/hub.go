package relay

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/and161185/paircloud/internal/identity"
)

// HubOptions tune a Hub.
type HubOptions struct {
	// FrameRate and FrameBurst limit frames per second accepted from one peer.
	FrameRate  float64
	FrameBurst int
	// HelloSkew is the accepted clock difference for a Hello timestamp.
	HelloSkew time.Duration
	// QueueLen is the outbound queue per peer; frames beyond it are dropped.
	QueueLen int
}

func (o *HubOptions) defaults() {
	if o.FrameRate <= 0 {
		o.FrameRate = 50
	}
	if o.FrameBurst <= 0 {
		o.FrameBurst = 100
	}
	if o.HelloSkew <= 0 {
		o.HelloSkew = 5 * time.Minute
	}
	if o.QueueLen <= 0 {
		o.QueueLen = 64
	}
}

type hubPeer struct {
	id  uint64
	pub []byte
	out chan []byte
	lim *rate.Limiter
	// kick is closed when a newer stream registers the same id.
	kick chan struct{}
}

// Hub is the rendezvous relay. It accepts one Exchange stream per peer and
// forwards frames by destination user id. Frames to unknown peers are dropped.
type Hub struct {
	UnimplementedRelayServer

	log  *zap.Logger
	opts HubOptions
	now  func() time.Time

	mu    sync.RWMutex
	peers map[uint64]*hubPeer
}

// NewHub constructs an empty hub.
func NewHub(log *zap.Logger, opts HubOptions) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	opts.defaults()
	return &Hub{log: log, opts: opts, now: time.Now, peers: map[uint64]*hubPeer{}}
}

// Peers returns the number of registered peers.
func (h *Hub) Peers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Exchange serves one peer stream. The first frame must be a valid Hello.
func (h *Hub) Exchange(stream Relay_ExchangeServer) error {
	msg, err := stream.Recv()
	if err != nil {
		return err
	}
	var hello Frame
	if err := hello.UnmarshalBinary(msg.GetValue()); err != nil || hello.Kind != KindHello {
		return status.Error(codes.InvalidArgument, "expected hello")
	}
	if err := h.verifyHello(hello); err != nil {
		h.log.Warn("hello rejected", zap.Uint64("from", hello.From), zap.Error(err))
		return status.Error(codes.Unauthenticated, err.Error())
	}

	p := &hubPeer{
		id:   hello.From,
		pub:  hello.PubKey,
		out:  make(chan []byte, h.opts.QueueLen),
		lim:  rate.NewLimiter(rate.Limit(h.opts.FrameRate), h.opts.FrameBurst),
		kick: make(chan struct{}),
	}
	h.register(p)
	defer h.unregister(p)
	ack, _ := Frame{Kind: KindHelloAck, To: p.id}.MarshalBinary()
	if err := stream.Send(wrapperspb.Bytes(ack)); err != nil {
		return err
	}
	h.log.Info("peer registered", zap.Uint64("peer", p.id))

	ctx := stream.Context()
	recvErr := make(chan error, 1)
	go func() { recvErr <- h.readLoop(stream, p) }()

	for {
		select {
		case b := <-p.out:
			if err := stream.Send(wrapperspb.Bytes(b)); err != nil {
				return err
			}
		case err := <-recvErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case <-p.kick:
			return status.Error(codes.Aborted, "replaced by a newer stream")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Hub) verifyHello(f Frame) error {
	if err := identity.ValidatePublicKey(f.PubKey); err != nil {
		return err
	}
	if identity.UserID(f.PubKey) != f.From {
		return errors.New("user id does not match public key")
	}
	if len(f.Payload) < 8 {
		return errors.New("missing timestamp")
	}
	ts := time.Unix(int64(binary.LittleEndian.Uint64(f.Payload)), 0)
	if d := h.now().Sub(ts); d > h.opts.HelloSkew || d < -h.opts.HelloSkew {
		return errors.New("timestamp out of range")
	}
	if !identity.VerifyHello(f.PubKey, ts, f.Payload[8:]) {
		return errors.New("bad signature")
	}
	return nil
}

func (h *Hub) readLoop(stream Relay_ExchangeServer, p *hubPeer) error {
	for {
		msg, err := stream.Recv()
		if err != nil {
			return err
		}
		if !p.lim.Allow() {
			h.log.Warn("frame rate exceeded, dropping", zap.Uint64("peer", p.id))
			continue
		}
		var f Frame
		if err := f.UnmarshalBinary(msg.GetValue()); err != nil {
			h.log.Warn("bad frame", zap.Uint64("peer", p.id), zap.Error(err))
			continue
		}
		if f.Kind == KindHello || f.Kind == KindHelloAck {
			continue
		}
		// the sender identity is the one proven at hello
		f.From, f.PubKey = p.id, p.pub
		h.route(f)
	}
}

func (h *Hub) route(f Frame) {
	h.mu.RLock()
	dst, ok := h.peers[f.To]
	h.mu.RUnlock()
	if !ok {
		h.log.Debug("undeliverable frame", zap.Uint64("from", f.From), zap.Uint64("to", f.To), zap.Stringer("kind", f.Kind))
		return
	}
	b, err := f.MarshalBinary()
	if err != nil {
		return
	}
	select {
	case dst.out <- b:
	default:
		h.log.Warn("peer queue full, dropping", zap.Uint64("to", f.To))
	}
}

func (h *Hub) register(p *hubPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.peers[p.id]; ok {
		close(old.kick)
	}
	h.peers[p.id] = p
}

func (h *Hub) unregister(p *hubPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.peers[p.id]; ok && cur == p {
		delete(h.peers, p.id)
	}
}
