package taurus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glycerine/idem"
	"go.uber.org/multierr"
)

// TCPBackend carries Taurus frames over plain TCP.
//
// Goroutines: one accept loop per Listen, one reader per
// connection, and one service loop that runs
// Connector.ProcessRequests when woken or on each
// Config.ServiceInterval tick. Frames are written by the
// service loop.
type TCPBackend struct {
	cfg  *Config
	conn *Connector
	frag *TaurusFragmenter

	mut  sync.Mutex
	lsns []net.Listener

	conns *Mutexmap[*tcpConn, struct{}]

	halt     *idem.Halter
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
}

type tcpConn struct {
	nc   net.Conn
	peer *Peer

	// set by whoever closes nc first; that side alone
	// decides whether a disconnect gets reported.
	closing atomic.Bool
}

func NewTCPBackend(cfg *Config) *TCPBackend {
	if cfg == nil {
		cfg = NewConfig()
	}
	return &TCPBackend{
		cfg:   cfg.Clone(),
		frag:  NewTaurusFragmenter(cfg.MaxMessageSize),
		conns: NewMutexmap[*tcpConn, struct{}](),
		halt:  idem.NewHalterNamed("taurus.TCPBackend." + cfg.Name),
	}
}

func (b *TCPBackend) Fragmenter() Fragmenter {
	return b.frag
}

func (b *TCPBackend) Attach(c *Connector) error {
	if b.conn != nil {
		return fmt.Errorf("%w: TCPBackend already attached", ErrConfig)
	}
	b.conn = c
	c.Halt.AddChild(b.halt)

	b.wg.Add(1)
	go b.serviceLoop()
	return nil
}

func (b *TCPBackend) serviceLoop() {
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

// Listen starts accepting on addr ("host:port" or
// "tcp://host:port"; the port must be explicit) and
// returns the bound address.
func (b *TCPBackend) Listen(addr string) (net.Addr, error) {
	if b.conn == nil {
		return nil, fmt.Errorf("TCPBackend.Listen: not attached to a Connector")
	}
	hostport, err := ValidateAddr(addr, "tcp")
	if err != nil {
		return nil, err
	}
	lsn, err := net.Listen("tcp", hostport)
	if err != nil {
		return nil, err
	}
	if b.cfg.MaxConnections > 0 {
		lsn = newLimitListener(lsn, b.cfg.MaxConnections)
	}

	b.mut.Lock()
	if b.halt.ReqStop.IsClosed() {
		b.mut.Unlock()
		lsn.Close()
		return nil, ErrConnectorClosed
	}
	b.lsns = append(b.lsns, lsn)
	b.wg.Add(1)
	b.mut.Unlock()

	go b.acceptLoop(lsn)
	return lsn.Addr(), nil
}

func (b *TCPBackend) acceptLoop(lsn net.Listener) {
	defer b.wg.Done()
	for {
		nc, err := lsn.Accept()
		if err != nil {
			if b.halt.ReqStop.IsClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			alwaysPrintf("%v: tcp accept on %v failed: %v", b.cfg.Name, lsn.Addr(), err)
			return
		}
		b.startConn(nc)
	}
}

// Dial connects to addr. The returned Peer is registered
// by the next ProcessEvents, subject to the Decider like
// any inbound peer.
func (b *TCPBackend) Dial(ctx context.Context, addr string) (*Peer, error) {
	if b.conn == nil {
		return nil, fmt.Errorf("TCPBackend.Dial: not attached to a Connector")
	}
	hostport, err := ValidateAddr(addr, "tcp")
	if err != nil {
		return nil, err
	}
	d := net.Dialer{
		Timeout:   b.cfg.ConnectTimeout,
		KeepAlive: b.cfg.KeepAlive,
	}
	nc, err := d.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, err
	}
	peer := b.startConn(nc)
	if peer == nil {
		return nil, ErrConnectorClosed
	}
	return peer, nil
}

func (b *TCPBackend) startConn(nc net.Conn) *Peer {
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.halt.ReqStop.IsClosed() {
		nc.Close()
		return nil
	}
	tc := &tcpConn{nc: nc}
	tc.peer = b.conn.NewPeer(tc, formatEndpoint("tcp", nc.RemoteAddr()))
	b.conns.Set(tc, struct{}{})

	// the attempt is queued before any bytes can be.
	b.conn.EnqueueConnectionAttempted(tc.peer)

	b.wg.Add(1)
	go b.readLoop(tc)
	return tc.peer
}

func (b *TCPBackend) readLoop(tc *tcpConn) {
	defer b.wg.Done()
	buf := make([]byte, readChunk)
	for {
		if b.cfg.IdleTimeout > 0 {
			tc.nc.SetReadDeadline(time.Now().Add(b.cfg.IdleTimeout))
		}
		n, err := tc.nc.Read(buf)
		if n > 0 {
			b.conn.EnqueueMessageReceived(tc.peer, bytes.Clone(buf[:n]))
		}
		if err != nil {
			if tc.closing.CompareAndSwap(false, true) {
				b.conns.Del(tc)
				tc.nc.Close()
				b.conn.EnqueueDisconnected(tc.peer, reasonFromReadErr(err))
			}
			return
		}
	}
}

func (b *TCPBackend) handle(peer *Peer) (*tcpConn, bool) {
	if peer == nil {
		return nil, false
	}
	tc, ok := peer.handle.(*tcpConn)
	return tc, ok
}

func (b *TCPBackend) ApplySend(peer *Peer, frame []byte) error {
	tc, ok := b.handle(peer)
	if !ok || tc.closing.Load() {
		return ErrStaleHandle
	}
	return writeFull(tc.nc, frame, b.cfg.WriteTimeout)
}

// ApplyDisconnect closes the socket. Plain TCP has no
// way to tell the remote why.
func (b *TCPBackend) ApplyDisconnect(peer *Peer, reason DisconnectReason) {
	tc, ok := b.handle(peer)
	if !ok {
		return
	}
	if tc.closing.CompareAndSwap(false, true) {
		b.conns.Del(tc)
		tc.nc.Close()
	}
}

// Stop closes listeners and any connections left, and
// waits for every backend goroutine.
func (b *TCPBackend) Stop() error {
	b.stopOnce.Do(func() {
		b.mut.Lock()
		b.halt.ReqStop.Close()
		lsns := b.lsns
		b.lsns = nil
		b.mut.Unlock()

		var err error
		for _, lsn := range lsns {
			if e := lsn.Close(); e != nil && !errors.Is(e, net.ErrClosed) {
				err = multierr.Append(err, e)
			}
		}
		for tc := range b.conns.GetMapReset() {
			if tc.closing.CompareAndSwap(false, true) {
				if e := tc.nc.Close(); e != nil && !errors.Is(e, net.ErrClosed) {
					err = multierr.Append(err, e)
				}
			}
		}
		b.wg.Wait()
		b.stopErr = err
		b.halt.Done.Close()
	})
	return b.stopErr
}
