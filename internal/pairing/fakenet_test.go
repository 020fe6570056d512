package pairing

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/and161185/paircloud/internal/errs"
	"github.com/and161185/paircloud/internal/transport"
)

// fakeNet is an in-process transport: every opened context registers under
// its user id and frames are delivered on per-end goroutines.
type fakeNet struct {
	mu        sync.Mutex
	ends      map[uint64]*fakeEnd
	offline   bool
	reachable bool
	dials     int
}

func newFakeNet() *fakeNet { return &fakeNet{ends: map[uint64]*fakeEnd{}, reachable: true} }

func (n *fakeNet) factory(opts transport.Options) (transport.Context, error) {
	e := &fakeEnd{
		net:  n,
		me:   transport.Contact{UserID: opts.Identity.UserID(), PublicKey: opts.Identity.PublicKey()},
		h:    opts.Handler,
		q:    make(chan func(), 64),
		done: make(chan struct{}),
	}
	n.mu.Lock()
	n.dials++
	offline := n.offline
	if !offline {
		n.ends[e.me.UserID] = e
	}
	n.mu.Unlock()

	go e.loop()
	if !offline {
		e.connected.Store(true)
		e.enqueue(func() { e.h.OnConnectivity(true) })
	}
	return e, nil
}

func (n *fakeNet) lookup(id uint64) *fakeEnd {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ends[id]
}

func (n *fakeNet) dialCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dials
}

type fakeEnd struct {
	net       *fakeNet
	me        transport.Contact
	h         transport.Handler
	q         chan func()
	done      chan struct{}
	connected atomic.Bool
	closed    atomic.Bool
}

var _ transport.Context = (*fakeEnd)(nil)

func (e *fakeEnd) loop() {
	for {
		select {
		case f := <-e.q:
			f()
		case <-e.done:
			return
		}
	}
}

func (e *fakeEnd) enqueue(f func()) {
	select {
	case e.q <- f:
	case <-e.done:
	}
}

func (e *fakeEnd) Connected() bool { return e.connected.Load() && !e.closed.Load() }

func (e *fakeEnd) HostReachable() bool {
	e.net.mu.Lock()
	defer e.net.mu.Unlock()
	return e.net.reachable
}

func (e *fakeEnd) AddContact(pub []byte) (transport.Contact, error) {
	return transport.ContactFromKey(pub)
}

func (e *fakeEnd) Login(_ context.Context, server transport.Contact, pin string) error {
	if !e.Connected() {
		return errs.ErrNotConnected
	}
	dst := e.net.lookup(server.UserID)
	if dst == nil {
		return nil
	}
	dst.enqueue(func() {
		tok, err := dst.h.Authenticate(context.Background(), e.me, pin)
		e.enqueue(func() {
			if err != nil {
				e.h.OnLoginError(dst.me, err)
				return
			}
			e.h.OnAuthenticated(dst.me, tok)
		})
	})
	return nil
}

func (e *fakeEnd) Send(_ context.Context, to transport.Contact, appID, code uint16, params [][]byte) error {
	if !e.Connected() {
		return errs.ErrNotConnected
	}
	dst := e.net.lookup(to.UserID)
	if dst == nil {
		return nil
	}
	sender := e.me
	if !to.Known() {
		sender.PublicKey = nil
	}
	msg := transport.Message{Sender: sender, AppID: appID, Code: code, Params: params}
	dst.enqueue(func() { dst.h.OnMessage(context.Background(), msg) })
	return nil
}

func (e *fakeEnd) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.net.mu.Lock()
	if e.net.ends[e.me.UserID] == e {
		delete(e.net.ends, e.me.UserID)
	}
	e.net.mu.Unlock()
	close(e.done)
	return nil
}
