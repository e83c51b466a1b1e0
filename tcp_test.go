package taurus

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"
)

// echoHandler sends every received message back.
func echoHandler(rec *recorder) *HandlerFuncs {
	h := rec.handler()
	inner := h.MessageReceived
	h.MessageReceived = func(p *Peer, msg []byte) {
		inner(p, msg)
		p.Connector().SendMessageToPeerAsync(p, msg)
	}
	return h
}

func newTCPServer(t *testing.T, cfg *Config) (*Connector, *recorder, string) {
	cfg.Name = t.Name() + "-srv"
	rec := &recorder{}
	b := NewTCPBackend(cfg)
	srv, err := NewConnector(cfg, b, echoHandler(rec), nil)
	panicOn(err)
	addr := fmt.Sprintf("tcp://127.0.0.1:%v", GetAvailPort())
	_, err = b.Listen(addr)
	panicOn(err)
	return srv, rec, addr
}

func Test300_tcp_echo(t *testing.T) {

	cv.Convey("messages sent over TCP come back in order, including ones larger than a read", t, func() {
		srv, srec, addr := newTCPServer(t, NewConfig())
		defer srv.Close(ReasonDisposed)

		cfg := NewConfig()
		cfg.Name = t.Name() + "-cli"
		cb := NewTCPBackend(cfg)
		var got [][]byte
		crec := &recorder{}
		h := crec.handler()
		h.MessageReceived = func(p *Peer, msg []byte) { got = append(got, msg) }
		cli, err := NewConnector(cfg, cb, h, nil)
		panicOn(err)

		peer, err := cb.Dial(context.Background(), addr)
		cv.So(err, cv.ShouldBeNil)
		ok := pumpUntil(5*time.Second, func() bool {
			return crec.count("connected") == 1 && srec.count("connected") == 1
		}, cli, srv)
		cv.So(ok, cv.ShouldBeTrue)

		var sent [][]byte
		for i, sz := range []int{1, 10, 1000, 70000, 200000, 5} {
			msg := bytes.Repeat([]byte{byte('a' + i)}, sz)
			sent = append(sent, msg)
			cli.SendMessageToPeerAsync(peer, msg)
		}
		ok = pumpUntil(5*time.Second, func() bool { return len(got) == len(sent) }, cli, srv)
		cv.So(ok, cv.ShouldBeTrue)
		for i := range sent {
			cv.So(bytes.Equal(got[i], sent[i]), cv.ShouldBeTrue)
		}

		cv.So(cli.Close(ReasonDisposed), cv.ShouldBeNil)
		ok = pumpUntil(5*time.Second, func() bool { return srec.count("disconnected:RemoteClosed") == 1 }, srv)
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(srv.PeerCount(), cv.ShouldEqual, 0)
	})
}

func Test301_tcp_resyncs_on_garbage(t *testing.T) {

	cv.Convey("a raw client writing junk, then a real frame, is understood", t, func() {
		srv, srec, addr := newTCPServer(t, NewConfig())
		defer srv.Close(ReasonDisposed)

		_, hostport := splitEndpoint(addr)
		nc, err := net.Dial("tcp", hostport)
		panicOn(err)
		defer nc.Close()

		_, err = nc.Write([]byte("GET / HTTP/1.0\r\n\r\n"))
		panicOn(err)
		f := wire(srv, []byte("after the junk"))
		// trickle the frame in pieces.
		for i := 0; i < len(f); i += 5 {
			j := i + 5
			if j > len(f) {
				j = len(f)
			}
			_, err = nc.Write(f[i:j])
			panicOn(err)
			time.Sleep(time.Millisecond)
		}
		ok := pumpUntil(5*time.Second, func() bool {
			return srec.count("received:after the junk") == 1
		}, srv)
		cv.So(ok, cv.ShouldBeTrue)

		// and the echo comes back framed.
		nc.SetReadDeadline(time.Now().Add(5 * time.Second))
		d := NewDefragmenterStream(DefaultMaxMessageSize)
		buf := make([]byte, 1024)
		var echo []byte
		for {
			pumpUntil(time.Millisecond, func() bool { return false }, srv)
			n, err := nc.Read(buf)
			panicOn(err)
			d.Write(buf[:n])
			if m, ok := d.TryDequeuingMessage(); ok {
				echo, err = srv.decomp.handleDecompress(m)
				panicOn(err)
				break
			}
		}
		cv.So(string(echo), cv.ShouldEqual, "after the junk")
	})
}

func Test302_tcp_idle_timeout(t *testing.T) {

	cv.Convey("a silent connection is dropped with TimedOut after IdleTimeout", t, func() {
		cfg := NewConfig()
		cfg.IdleTimeout = 100 * time.Millisecond
		cfg.KeepAlive = 0
		srv, srec, addr := newTCPServer(t, cfg)
		defer srv.Close(ReasonDisposed)

		_, hostport := splitEndpoint(addr)
		nc, err := net.Dial("tcp", hostport)
		panicOn(err)
		defer nc.Close()

		ok := pumpUntil(5*time.Second, func() bool {
			return srec.count("disconnected:TimedOut") == 1
		}, srv)
		cv.So(ok, cv.ShouldBeTrue)
	})
}

func Test303_tcp_addresses_need_ports(t *testing.T) {

	cv.Convey("Listen and Dial reject addresses without an explicit port, or with the wrong scheme", t, func() {
		cfg := NewConfig()
		cfg.Name = t.Name()
		b := NewTCPBackend(cfg)
		c, err := NewConnector(cfg, b, nil, nil)
		panicOn(err)
		defer c.Close(ReasonDisposed)

		_, err = b.Listen("127.0.0.1:0")
		cv.So(err, cv.ShouldNotBeNil)
		_, err = b.Listen("udp://127.0.0.1:9999")
		cv.So(err, cv.ShouldNotBeNil)
		_, err = b.Dial(context.Background(), "127.0.0.1")
		cv.So(err, cv.ShouldNotBeNil)
	})
}
