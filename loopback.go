package taurus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/glycerine/idem"
)

// LoopbackHub joins LoopbackBackends living in the same
// process, by name. Each hub is its own namespace, so
// parallel tests do not collide.
type LoopbackHub struct {
	mut    sync.Mutex
	byName map[string]*LoopbackBackend
}

func NewLoopbackHub() *LoopbackHub {
	return &LoopbackHub{
		byName: make(map[string]*LoopbackBackend),
	}
}

// LoopbackBackend connects connectors without a network.
// Messages keep their boundaries, so no framing is used,
// and it has no goroutines: ProcessEvents applies its
// requests inline.
type LoopbackBackend struct {
	hub  *LoopbackHub
	name string
	conn *Connector

	links *Mutexmap[*loopbackLink, struct{}]

	halt     *idem.Halter
	stopOnce sync.Once
}

// loopbackLink is one end of an in-process connection,
// and the Peer handle on that end.
type loopbackLink struct {
	owner  *LoopbackBackend
	peer   *Peer
	remote *loopbackLink
	closed atomic.Bool
}

// NewBackend registers name on the hub.
func (h *LoopbackHub) NewBackend(name string) (*LoopbackBackend, error) {
	h.mut.Lock()
	defer h.mut.Unlock()
	if _, already := h.byName[name]; already {
		return nil, fmt.Errorf("%w: loopback name '%v' already in use", ErrConfig, name)
	}
	b := &LoopbackBackend{
		hub:   h,
		name:  name,
		links: NewMutexmap[*loopbackLink, struct{}](),
		halt:  idem.NewHalterNamed("taurus.LoopbackBackend." + name),
	}
	h.byName[name] = b
	return b, nil
}

func (h *LoopbackHub) lookup(name string) (*LoopbackBackend, bool) {
	h.mut.Lock()
	defer h.mut.Unlock()
	b, ok := h.byName[name]
	return b, ok
}

func (h *LoopbackHub) forget(b *LoopbackBackend) {
	h.mut.Lock()
	if h.byName[b.name] == b {
		delete(h.byName, b.name)
	}
	h.mut.Unlock()
}

func (b *LoopbackBackend) Name() string { return b.name }

func (b *LoopbackBackend) Attach(c *Connector) error {
	if b.conn != nil {
		return fmt.Errorf("%w: loopback backend '%v' already attached", ErrConfig, b.name)
	}
	b.conn = c
	c.Halt.AddChild(b.halt)
	return nil
}

func (b *LoopbackBackend) Fragmenter() Fragmenter {
	return NoFragmentationFragmenter{}
}

func (b *LoopbackBackend) ProcessesRequestsInline() bool { return true }

// Connect opens a connection to the backend registered as
// name. Both connectors see a connection attempt; the
// local Peer is returned.
func (b *LoopbackBackend) Connect(name string) (*Peer, error) {
	if b.conn == nil {
		return nil, fmt.Errorf("loopback backend '%v' not attached to a Connector", b.name)
	}
	if b.halt.ReqStop.IsClosed() {
		return nil, ErrConnectorClosed
	}
	r, ok := b.hub.lookup(name)
	if !ok {
		return nil, fmt.Errorf("no loopback backend named '%v'", name)
	}
	if r.conn == nil || r.halt.ReqStop.IsClosed() {
		return nil, fmt.Errorf("loopback backend '%v' is not accepting connections", name)
	}
	la := &loopbackLink{owner: b}
	lb := &loopbackLink{owner: r}
	la.remote = lb
	lb.remote = la
	la.peer = b.conn.NewPeer(la, "loopback://"+r.name)
	lb.peer = r.conn.NewPeer(lb, "loopback://"+b.name)

	b.links.Set(la, struct{}{})
	r.links.Set(lb, struct{}{})

	b.conn.EnqueueConnectionAttempted(la.peer)
	r.conn.EnqueueConnectionAttempted(lb.peer)
	return la.peer, nil
}

func (b *LoopbackBackend) link(peer *Peer) (*loopbackLink, bool) {
	if peer == nil {
		return nil, false
	}
	l, ok := peer.handle.(*loopbackLink)
	if !ok || l.owner != b {
		return nil, false
	}
	return l, true
}

// ApplySend delivers frame straight into the remote
// connector's received queue.
func (b *LoopbackBackend) ApplySend(peer *Peer, frame []byte) error {
	l, ok := b.link(peer)
	if !ok || l.closed.Load() || l.remote.closed.Load() {
		return ErrStaleHandle
	}
	r := l.remote
	r.owner.conn.EnqueueMessageReceived(r.peer, frame)
	return nil
}

// ApplyDisconnect closes both ends. The remote side is
// told the same reason.
func (b *LoopbackBackend) ApplyDisconnect(peer *Peer, reason DisconnectReason) {
	l, ok := b.link(peer)
	if !ok {
		return
	}
	b.closeLink(l, reason)
}

func (b *LoopbackBackend) closeLink(l *loopbackLink, reason DisconnectReason) {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}
	b.links.Del(l)
	r := l.remote
	if r.closed.CompareAndSwap(false, true) {
		r.owner.links.Del(r)
		r.owner.conn.EnqueueDisconnected(r.peer, reason)
	}
}

// Stop closes any links left with ReasonDisposed and
// takes the name off the hub.
func (b *LoopbackBackend) Stop() error {
	b.stopOnce.Do(func() {
		b.halt.ReqStop.Close()
		for l := range b.links.GetMapReset() {
			b.closeLink(l, ReasonDisposed)
		}
		b.hub.forget(b)
		b.halt.Done.Close()
	})
	return nil
}
