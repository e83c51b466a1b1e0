package taurus

import (
	"fmt"
	"sync"
	"time"

	"github.com/glycerine/idem"
)

// Connector presents one peer lifecycle and message API
// over any Backend.
//
// Backend goroutines feed events in through the
// Enqueue* methods; a single consumer goroutine calls
// ProcessEvents in a loop, and that is the only place
// Handler callbacks run. IsPeerContained, Close and the
// registry behind them belong to the consumer goroutine
// too. DisconnectPeer and SendMessageToPeerAsync may be
// called from anywhere.
type Connector struct {
	cfg     *Config
	backend Backend
	handler Handler
	decider Decider
	inline  bool

	frag   Fragmenter
	tag    pressTag
	press  *pressor
	decomp *decomp

	q   *eventQueues
	reg *peerRegistry

	metrics *connectorMetrics

	// serializes ProcessRequests.
	reqMut sync.Mutex

	// requestsReady wakes a backend service goroutine.
	requestsReady chan struct{}

	Halt *idem.Halter

	closeMut sync.Mutex
	closing  bool
	closed   bool
}

// NewConnector validates cfg, attaches backend and
// starts it. A nil handler ignores every event; a nil
// decide accepts every peer.
func NewConnector(cfg *Config, backend Backend, handler Handler, decide Decider) (*Connector, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: nil Backend", ErrConfig)
	}
	tag, err := encodePressTag(cfg.CompressAlgo)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if handler == nil {
		handler = &HandlerFuncs{}
	}
	c := &Connector{
		cfg:           cfg.Clone(),
		backend:       backend,
		handler:       handler,
		decider:       decide,
		frag:          backend.Fragmenter(),
		tag:           tag,
		press:         newPressor(cfg.MaxMessageSize),
		decomp:        newDecomp(cfg.MaxMessageSize),
		q:             newEventQueues(),
		reg:           newPeerRegistry(),
		metrics:       newConnectorMetrics(cfg.Name),
		requestsReady: make(chan struct{}, 1),
		Halt:          idem.NewHalterNamed("taurus.Connector." + cfg.Name),
	}
	if ir, ok := backend.(inlineRequester); ok {
		c.inline = ir.ProcessesRequestsInline()
	}
	if err := c.metrics.register(c.cfg.Metrics); err != nil {
		return nil, err
	}
	if err := backend.Attach(c); err != nil {
		c.metrics.unregister(c.cfg.Metrics)
		return nil, err
	}
	return c, nil
}

func (c *Connector) Config() *Config {
	return c.cfg
}

func (c *Connector) Backend() Backend {
	return c.backend
}

// NewPeer is for backends: it mints a Peer with a fresh
// identity, owned by c. handle must be comparable.
func (c *Connector) NewPeer(handle any, endpoint string) *Peer {
	return &Peer{
		ID:       NewPeerIdentity(),
		Endpoint: endpoint,
		handle:   handle,
		conn:     c,
	}
}

// EnqueueConnectionAttempted reports a new inbound or
// outbound connection. Goroutine safe.
func (c *Connector) EnqueueConnectionAttempted(peer *Peer) {
	c.q.connectionAttempted.push(peer)
}

// EnqueueDisconnected reports that the transport lost
// the peer. Goroutine safe.
func (c *Connector) EnqueueDisconnected(peer *Peer, reason DisconnectReason) {
	c.q.disconnected.push(disconnectRecord{peer: peer, reason: reason})
}

// EnqueueMessageReceived hands over raw bytes exactly as
// the transport delivered them. raw is retained; the
// caller must not reuse it. Goroutine safe.
func (c *Connector) EnqueueMessageReceived(peer *Peer, raw []byte) {
	if len(raw) == 0 {
		return
	}
	c.q.messageReceived.push(messageRecord{peer: peer, data: raw})
}

// RequestsReady fires after new disconnect or send
// requests were queued. Service goroutines select on it
// alongside their ServiceInterval ticker.
func (c *Connector) RequestsReady() <-chan struct{} {
	return c.requestsReady
}

func (c *Connector) wake() {
	select {
	case c.requestsReady <- struct{}{}:
	default:
	}
}

// IsPeerContained reports whether peer is registered:
// same identity, same transport handle, this connector.
// Consumer goroutine only.
func (c *Connector) IsPeerContained(peer *Peer) bool {
	return c.reg.contains(peer)
}

// Peers lists the registered peers in a stable order.
// Consumer goroutine only.
func (c *Connector) Peers() []*Peer {
	return c.reg.peers()
}

func (c *Connector) PeerCount() int {
	return c.reg.len()
}

// DisconnectPeer asks for peer to be disconnected. It
// only queues the request; a request for a peer that is
// no longer registered by the time ProcessEvents sees it
// is dropped. Calling it twice is harmless.
func (c *Connector) DisconnectPeer(peer *Peer, reason DisconnectReason) {
	if peer == nil {
		return
	}
	c.q.disconnectionRequested.push(disconnectRecord{peer: peer, reason: reason})
}

// SendMessageToPeerAsync compresses msg, frames it, and
// queues it for the backend; it never blocks on the
// network. msg is kept for OnPeerMessageSent and must not
// be modified until the result is Done.
//
// An empty msg is a no-op: the result is already
// complete and nothing is queued.
func (c *Connector) SendMessageToPeerAsync(peer *Peer, msg []byte) *SendResult {
	if len(msg) == 0 {
		return completedSendResult()
	}
	res := newSendResult()
	if peer == nil || peer.conn != c {
		res.complete(false, nil)
		return res
	}
	if c.isClosed() {
		res.complete(false, ErrConnectorClosed)
		return res
	}
	pressed, err := c.press.handleCompress(c.tag, msg)
	if err != nil {
		res.complete(false, err)
		return res
	}
	if len(pressed) > c.cfg.MaxMessageSize {
		res.complete(false, fmt.Errorf("%w: %v bytes after compression > MaxMessageSize %v", ErrFrameTooLarge, len(pressed), c.cfg.MaxMessageSize))
		return res
	}
	frame, err := c.frag.Fragment(pressed)
	if err != nil {
		res.complete(false, err)
		return res
	}
	c.q.sendRequested.push(&sendRecord{
		peer:    peer,
		message: msg,
		frame:   frame,
		result:  res,
	})
	c.wake()
	return res
}

// Stats is safe from any goroutine.
func (c *Connector) Stats() Stats {
	return c.metrics.snapshot(c.cfg.Name)
}

func (c *Connector) isClosed() bool {
	c.closeMut.Lock()
	defer c.closeMut.Unlock()
	return c.closed
}

// Close disconnects every peer with reason, pumping
// ProcessEvents until the registry is empty, then stops
// the backend. Call it from the consumer goroutine. Peers
// the backend has not let go of after
// Config.CloseTimeout are removed anyway. Later calls
// return nil and do nothing.
func (c *Connector) Close(reason DisconnectReason) (err error) {
	c.closeMut.Lock()
	if c.closing || c.closed {
		c.closeMut.Unlock()
		return nil
	}
	c.closing = true
	c.closeMut.Unlock()

	deadline := time.Now().Add(c.cfg.CloseTimeout)
	for c.reg.len() > 0 {
		for _, p := range c.reg.peers() {
			c.DisconnectPeer(p, reason)
		}
		c.ProcessEvents()
		if c.reg.len() == 0 {
			break
		}
		if time.Now().After(deadline) {
			alwaysPrintf("%v: Close gave up waiting on %v peer(s) after %v; removing them",
				c.cfg.Name, c.reg.len(), c.cfg.CloseTimeout)
			c.forceRemoveAll(reason)
			break
		}
		if !c.inline {
			time.Sleep(time.Millisecond)
		}
	}

	c.Halt.ReqStop.Close()
	err = c.backend.Stop()
	c.decomp.Close()
	c.metrics.unregister(c.cfg.Metrics)

	c.closeMut.Lock()
	c.closed = true
	c.closeMut.Unlock()
	c.Halt.Done.Close()
	return
}

func (c *Connector) forceRemoveAll(reason DisconnectReason) {
	for _, p := range c.reg.peers() {
		ent, ok := c.reg.lookup(p)
		if !ok {
			continue
		}
		c.retire(ent)
		c.metrics.disconnected.WithLabelValues(reason.String()).Inc()
		c.handler.OnPeerDisconnected(p, reason)
	}
	c.metrics.peers.Set(0)
}
