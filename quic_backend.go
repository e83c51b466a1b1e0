package taurus

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glycerine/idem"
	"github.com/quic-go/quic-go"
	"go.uber.org/multierr"
)

// quicHello opens every stream, dialer to listener; a
// QUIC stream is invisible to the accepting side until
// its first byte arrives.
var quicHello = []byte(WireVersion)

// QUICBackend is the reliable-UDP transport. Each peer
// is one QUIC connection carrying one bidirectional
// stream. A stream is an ordered byte stream, so Taurus
// framing is used on it just as on TCP.
//
// Disconnect reasons cross the wire as the QUIC
// application error code.
type QUICBackend struct {
	cfg  *Config
	conn *Connector
	frag *TaurusFragmenter

	tlsConf  *tls.Config
	quicConf *quic.Config

	mut       sync.Mutex
	udpConn   *net.UDPConn
	transport *quic.Transport
	lsn       *quic.EarlyListener

	conns *Mutexmap[*quicConn, struct{}]

	// cancels Accept/handshake waits on Stop.
	ctx    context.Context
	cancel context.CancelFunc

	halt     *idem.Halter
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
}

type quicConn struct {
	qc   quic.Connection
	st   quic.Stream
	peer *Peer

	closing atomic.Bool
}

func NewQUICBackend(cfg *Config) (*QUICBackend, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if cfg.IdleTimeout <= 0 {
		return nil, fmt.Errorf("%w: QUIC needs IdleTimeout > 0", ErrConfig)
	}
	tlsConf, err := newEphemeralTLSConfig()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &QUICBackend{
		cfg:     cfg.Clone(),
		frag:    NewTaurusFragmenter(cfg.MaxMessageSize),
		tlsConf: tlsConf,
		quicConf: &quic.Config{
			InitialPacketSize:    1200, // stay under MTU 1280 links such as Tailscale.
			HandshakeIdleTimeout: cfg.ConnectTimeout,
			MaxIdleTimeout:       cfg.IdleTimeout,
			KeepAlivePeriod:      cfg.KeepAlive,
		},
		conns:  NewMutexmap[*quicConn, struct{}](),
		ctx:    ctx,
		cancel: cancel,
		halt:   idem.NewHalterNamed("taurus.QUICBackend." + cfg.Name),
	}, nil
}

func (b *QUICBackend) Fragmenter() Fragmenter {
	return b.frag
}

func (b *QUICBackend) Attach(c *Connector) error {
	if b.conn != nil {
		return fmt.Errorf("%w: QUICBackend already attached", ErrConfig)
	}
	b.conn = c
	c.Halt.AddChild(b.halt)

	b.wg.Add(1)
	go b.serviceLoop()
	return nil
}

func (b *QUICBackend) serviceLoop() {
	defer b.wg.Done()
	tick := time.NewTicker(b.cfg.ServiceInterval)
	defer tick.Stop()
	for {
		select {
		case <-b.conn.RequestsReady():
		case <-tick.C:
		case <-b.halt.ReqStop.Chan:
			return
		}
		b.conn.ProcessRequests()
	}
}

// getTransport binds the backend's single UDP socket.
// laddr nil means an ephemeral port, for dial-only use.
// Call with b.mut held.
func (b *QUICBackend) getTransport(laddr *net.UDPAddr) (*quic.Transport, error) {
	if b.transport != nil {
		if laddr != nil {
			return nil, fmt.Errorf("QUICBackend already bound to %v; Listen before Dial", b.udpConn.LocalAddr())
		}
		return b.transport, nil
	}
	udpConn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	b.udpConn = udpConn
	b.transport = &quic.Transport{
		Conn:               udpConn,
		ConnectionIDLength: 20,
	}
	return b.transport, nil
}

// Listen binds addr ("host:port" or "udp://host:port";
// explicit port) and starts accepting.
func (b *QUICBackend) Listen(addr string) (net.Addr, error) {
	if b.conn == nil {
		return nil, fmt.Errorf("QUICBackend.Listen: not attached to a Connector")
	}
	hostport, err := ValidateAddr(addr, "udp")
	if err != nil {
		return nil, err
	}
	laddr, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return nil, err
	}

	b.mut.Lock()
	defer b.mut.Unlock()
	if b.halt.ReqStop.IsClosed() {
		return nil, ErrConnectorClosed
	}
	if b.lsn != nil {
		return nil, fmt.Errorf("QUICBackend already listening on %v", b.lsn.Addr())
	}
	tr, err := b.getTransport(laddr)
	if err != nil {
		return nil, err
	}
	lsn, err := tr.ListenEarly(b.tlsConf, b.quicConf)
	if err != nil {
		return nil, err
	}
	b.lsn = lsn
	b.wg.Add(1)
	go b.acceptLoop(lsn)
	return lsn.Addr(), nil
}

func (b *QUICBackend) acceptLoop(lsn *quic.EarlyListener) {
	defer b.wg.Done()
	for {
		qc, err := lsn.Accept(b.ctx)
		if err != nil {
			if b.halt.ReqStop.IsClosed() || b.ctx.Err() != nil ||
				errors.Is(err, quic.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
				return
			}
			alwaysPrintf("%v: quic accept failed: %v", b.cfg.Name, err)
			return
		}
		b.wg.Add(1)
		go b.admit(qc)
	}
}

// admit finishes the handshake and reads the hello before
// the connection becomes a Peer.
func (b *QUICBackend) admit(qc quic.EarlyConnection) {
	defer b.wg.Done()

	select {
	case <-qc.HandshakeComplete():
	case <-qc.Context().Done():
		return
	case <-b.ctx.Done():
		qc.CloseWithError(quic.ApplicationErrorCode(ReasonDisposed.Code()), ReasonDisposed.String())
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.ConnectTimeout)
	defer cancel()
	st, err := qc.AcceptStream(ctx)
	if err != nil {
		qc.CloseWithError(quic.ApplicationErrorCode(ReasonTimedOut.Code()), "no stream")
		return
	}
	hello := make([]byte, len(quicHello))
	if err := readFull(st, hello, b.cfg.ConnectTimeout); err != nil || !bytes.Equal(hello, quicHello) {
		qc.CloseWithError(quic.ApplicationErrorCode(ReasonError.Code()), "bad hello")
		return
	}
	b.startConn(qc, st)
}

// Dial connects to addr and opens the stream. The Peer is
// registered by the next ProcessEvents.
func (b *QUICBackend) Dial(ctx context.Context, addr string) (*Peer, error) {
	if b.conn == nil {
		return nil, fmt.Errorf("QUICBackend.Dial: not attached to a Connector")
	}
	hostport, err := ValidateAddr(addr, "udp")
	if err != nil {
		return nil, err
	}
	raddr, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return nil, err
	}

	b.mut.Lock()
	if b.halt.ReqStop.IsClosed() {
		b.mut.Unlock()
		return nil, ErrConnectorClosed
	}
	tr, err := b.getTransport(nil)
	b.mut.Unlock()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout)
	defer cancel()
	qc, err := tr.Dial(ctx, raddr, b.tlsConf, b.quicConf)
	if err != nil {
		return nil, err
	}
	st, err := qc.OpenStreamSync(ctx)
	if err != nil {
		qc.CloseWithError(quic.ApplicationErrorCode(ReasonError.Code()), "open stream failed")
		return nil, err
	}
	if err := writeFull(st, quicHello, b.cfg.ConnectTimeout); err != nil {
		qc.CloseWithError(quic.ApplicationErrorCode(ReasonError.Code()), "hello failed")
		return nil, err
	}
	st.SetWriteDeadline(time.Time{})
	peer := b.startConn(qc, st)
	if peer == nil {
		return nil, ErrConnectorClosed
	}
	return peer, nil
}

func (b *QUICBackend) startConn(qc quic.Connection, st quic.Stream) *Peer {
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.halt.ReqStop.IsClosed() {
		qc.CloseWithError(quic.ApplicationErrorCode(ReasonDisposed.Code()), ReasonDisposed.String())
		return nil
	}
	c := &quicConn{qc: qc, st: st}
	c.peer = b.conn.NewPeer(c, formatEndpoint("udp", qc.RemoteAddr()))
	b.conns.Set(c, struct{}{})
	b.conn.EnqueueConnectionAttempted(c.peer)

	b.wg.Add(1)
	go b.readLoop(c)
	return c.peer
}

func (b *QUICBackend) readLoop(c *quicConn) {
	defer b.wg.Done()
	buf := make([]byte, readChunk)
	for {
		n, err := c.st.Read(buf)
		if n > 0 {
			b.conn.EnqueueMessageReceived(c.peer, bytes.Clone(buf[:n]))
		}
		if err != nil {
			if c.closing.CompareAndSwap(false, true) {
				b.conns.Del(c)
				c.qc.CloseWithError(quic.ApplicationErrorCode(ReasonError.Code()), "read failed")
				b.conn.EnqueueDisconnected(c.peer, reasonFromQUICErr(err))
			}
			return
		}
	}
}

// reasonFromQUICErr prefers the remote's own reason code.
func reasonFromQUICErr(err error) DisconnectReason {
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) {
		if appErr.Remote {
			return DisconnectReasonFromCode(uint64(appErr.ErrorCode))
		}
		return ReasonError
	}
	var idle *quic.IdleTimeoutError
	if errors.As(err, &idle) {
		return ReasonTimedOut
	}
	var hs *quic.HandshakeTimeoutError
	if errors.As(err, &hs) {
		return ReasonTimedOut
	}
	return reasonFromReadErr(err)
}

func (b *QUICBackend) handle(peer *Peer) (*quicConn, bool) {
	if peer == nil {
		return nil, false
	}
	c, ok := peer.handle.(*quicConn)
	return c, ok
}

func (b *QUICBackend) ApplySend(peer *Peer, frame []byte) error {
	c, ok := b.handle(peer)
	if !ok || c.closing.Load() {
		return ErrStaleHandle
	}
	return writeFull(c.st, frame, b.cfg.WriteTimeout)
}

func (b *QUICBackend) ApplyDisconnect(peer *Peer, reason DisconnectReason) {
	c, ok := b.handle(peer)
	if !ok {
		return
	}
	if c.closing.CompareAndSwap(false, true) {
		b.conns.Del(c)
		c.qc.CloseWithError(quic.ApplicationErrorCode(reason.Code()), reason.String())
	}
}

func (b *QUICBackend) Stop() error {
	b.stopOnce.Do(func() {
		b.mut.Lock()
		b.halt.ReqStop.Close()
		lsn := b.lsn
		tr := b.transport
		udpConn := b.udpConn
		b.mut.Unlock()
		b.cancel()

		var err error
		for c := range b.conns.GetMapReset() {
			if c.closing.CompareAndSwap(false, true) {
				c.qc.CloseWithError(quic.ApplicationErrorCode(ReasonDisposed.Code()), ReasonDisposed.String())
			}
		}
		if lsn != nil {
			if e := lsn.Close(); e != nil && !errors.Is(e, net.ErrClosed) {
				err = multierr.Append(err, e)
			}
		}
		if tr != nil {
			if e := tr.Close(); e != nil && !errors.Is(e, net.ErrClosed) {
				err = multierr.Append(err, e)
			}
			udpConn.Close()
		}
		b.wg.Wait()
		b.stopErr = err
		b.halt.Done.Close()
	})
	return b.stopErr
}
