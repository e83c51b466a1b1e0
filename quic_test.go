package taurus

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"
)

func newQUICPair(t *testing.T) (srv, cli *Connector, srec, crec *recorder, peer *Peer, got *[][]byte) {
	scfg := NewConfig()
	scfg.Name = t.Name() + "-srv"
	sb, err := NewQUICBackend(scfg)
	panicOn(err)
	srec = &recorder{}
	srv, err = NewConnector(scfg, sb, echoHandler(srec), nil)
	panicOn(err)
	addr := fmt.Sprintf("udp://127.0.0.1:%v", GetAvailUDPPort())
	_, err = sb.Listen(addr)
	panicOn(err)

	ccfg := NewConfig()
	ccfg.Name = t.Name() + "-cli"
	ccfg.CompressAlgo = "lz4"
	cb, err := NewQUICBackend(ccfg)
	panicOn(err)
	crec = &recorder{}
	got = new([][]byte)
	h := crec.handler()
	h.MessageReceived = func(p *Peer, msg []byte) { *got = append(*got, msg) }
	cli, err = NewConnector(ccfg, cb, h, nil)
	panicOn(err)

	peer, err = cb.Dial(context.Background(), addr)
	panicOn(err)
	ok := pumpUntil(5*time.Second, func() bool {
		return crec.count("connected") == 1 && srec.count("connected") == 1
	}, cli, srv)
	if !ok {
		t.Fatalf("QUIC peers never connected")
	}
	return
}

func Test400_quic_echo(t *testing.T) {

	cv.Convey("messages sent over QUIC come back whole and in order", t, func() {
		srv, cli, _, _, peer, got := newQUICPair(t)
		defer srv.Close(ReasonDisposed)
		defer cli.Close(ReasonDisposed)

		cv.So(peer.Endpoint[:6], cv.ShouldEqual, "udp://")

		var sent [][]byte
		for i, sz := range []int{3, 3000, 100000} {
			msg := bytes.Repeat([]byte{byte('0' + i)}, sz)
			sent = append(sent, msg)
			cli.SendMessageToPeerAsync(peer, msg)
		}
		ok := pumpUntil(5*time.Second, func() bool { return len(*got) == len(sent) }, cli, srv)
		cv.So(ok, cv.ShouldBeTrue)
		for i := range sent {
			cv.So(bytes.Equal((*got)[i], sent[i]), cv.ShouldBeTrue)
		}
	})
}

func Test401_quic_carries_disconnect_reason(t *testing.T) {

	cv.Convey("a QUIC disconnect tells the remote why", t, func() {
		srv, cli, srec, crec, peer, _ := newQUICPair(t)
		defer srv.Close(ReasonDisposed)
		defer cli.Close(ReasonDisposed)

		cli.DisconnectPeer(peer, ReasonDenied)
		ok := pumpUntil(5*time.Second, func() bool {
			return crec.count("disconnected:Denied") == 1 && srec.count("disconnected:Denied") == 1
		}, cli, srv)
		cv.So(ok, cv.ShouldBeTrue)
	})

	cv.Convey("closing one connector reports Disposed on the other", t, func() {
		srv, cli, srec, _, _, _ := newQUICPair(t)
		defer srv.Close(ReasonDisposed)

		cv.So(cli.Close(ReasonDisposed), cv.ShouldBeNil)
		ok := pumpUntil(5*time.Second, func() bool {
			return srec.count("disconnected:Disposed") == 1
		}, srv)
		cv.So(ok, cv.ShouldBeTrue)
	})
}

func Test402_quic_needs_idle_timeout(t *testing.T) {

	cv.Convey("NewQUICBackend refuses a config with no IdleTimeout", t, func() {
		cfg := NewConfig()
		cfg.IdleTimeout = 0
		cfg.KeepAlive = 0
		_, err := NewQUICBackend(cfg)
		cv.So(err, cv.ShouldNotBeNil)
	})
}
