package taurus

import (
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"
)

// pumpUntil runs ProcessEvents on every connector, from
// the test goroutine, until cond holds or timeout.
func pumpUntil(timeout time.Duration, cond func() bool, conns ...*Connector) bool {
	deadline := time.Now().Add(timeout)
	for {
		for _, c := range conns {
			c.ProcessEvents()
		}
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Microsecond)
	}
}

func newLoopbackPair(t *testing.T) (hub *LoopbackHub, ca, cb *Connector, ra, rb *recorder) {
	hub = NewLoopbackHub()
	ba, err := hub.NewBackend("a")
	panicOn(err)
	bb, err := hub.NewBackend("b")
	panicOn(err)

	ra, rb = &recorder{}, &recorder{}
	cfgA := NewConfig()
	cfgA.Name = t.Name() + "-a"
	cfgB := NewConfig()
	cfgB.Name = t.Name() + "-b"
	cfgB.CompressAlgo = "zstd:01"

	ca, err = NewConnector(cfgA, ba, ra.handler(), nil)
	panicOn(err)
	cb, err = NewConnector(cfgB, bb, rb.handler(), nil)
	panicOn(err)
	return
}

func Test200_loopback_delivers_once(t *testing.T) {

	cv.Convey("two loopback peers: A sends [1,2,3] and B's OnPeerMessageReceived fires exactly once with it", t, func() {
		_, ca, cb, ra, rb := newLoopbackPair(t)
		defer ca.Close(ReasonDisposed)
		defer cb.Close(ReasonDisposed)

		pa, err := ca.Backend().(*LoopbackBackend).Connect("b")
		cv.So(err, cv.ShouldBeNil)
		cv.So(pa.Endpoint, cv.ShouldEqual, "loopback://b")

		ok := pumpUntil(time.Second, func() bool {
			return ra.count("connected") == 1 && rb.count("connected") == 1
		}, ca, cb)
		cv.So(ok, cv.ShouldBeTrue)

		res := ca.SendMessageToPeerAsync(pa, []byte{0x01, 0x02, 0x03})
		ok = pumpUntil(time.Second, func() bool {
			return rb.count("received:\x01\x02\x03") == 1
		}, ca, cb)
		cv.So(ok, cv.ShouldBeTrue)

		for i := 0; i < 10; i++ {
			ca.ProcessEvents()
			cb.ProcessEvents()
		}
		cv.So(rb.count("received:\x01\x02\x03"), cv.ShouldEqual, 1)
		cv.So(ra.count("sent:\x01\x02\x03"), cv.ShouldEqual, 1)
		cv.So(res.IsDone(), cv.ShouldBeTrue)
		cv.So(res.Sent(), cv.ShouldBeTrue)

		// B compresses with zstd, A with s2; each reads the other.
		pb := cb.Peers()[0]
		cb.SendMessageToPeerAsync(pb, []byte("pong"))
		ok = pumpUntil(time.Second, func() bool { return ra.count("received:pong") == 1 }, ca, cb)
		cv.So(ok, cv.ShouldBeTrue)
	})
}

func Test201_loopback_disconnect_carries_reason(t *testing.T) {

	cv.Convey("DisconnectPeer on one side reaches the other side with the same reason", t, func() {
		_, ca, cb, ra, rb := newLoopbackPair(t)
		defer cb.Close(ReasonDisposed)

		pa, err := ca.Backend().(*LoopbackBackend).Connect("b")
		panicOn(err)
		pumpUntil(time.Second, func() bool { return rb.count("connected") == 1 }, ca, cb)

		ca.DisconnectPeer(pa, ReasonTimedOut)
		ok := pumpUntil(time.Second, func() bool {
			return ra.count("disconnected:TimedOut") == 1 && rb.count("disconnected:TimedOut") == 1
		}, ca, cb)
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(ca.PeerCount(), cv.ShouldEqual, 0)
		cv.So(cb.PeerCount(), cv.ShouldEqual, 0)

		// a send to the gone peer completes without error.
		res := ca.SendMessageToPeerAsync(pa, []byte("late"))
		ca.ProcessEvents()
		cv.So(res.IsDone(), cv.ShouldBeTrue)
		cv.So(res.Sent(), cv.ShouldBeFalse)
		cv.So(res.Err(), cv.ShouldBeNil)

		// Close on A tells B Disposed.
		_, err = ca.Backend().(*LoopbackBackend).Connect("b")
		panicOn(err)
		pumpUntil(time.Second, func() bool { return rb.count("connected") == 2 }, ca, cb)
		cv.So(ca.Close(ReasonDisposed), cv.ShouldBeNil)
		ok = pumpUntil(time.Second, func() bool { return rb.count("disconnected:Disposed") == 1 }, cb)
		cv.So(ok, cv.ShouldBeTrue)
	})
}

func Test202_loopback_hub_names(t *testing.T) {

	cv.Convey("hub names are unique, unknown names fail to connect, and Stop frees the name", t, func() {
		hub := NewLoopbackHub()
		b, err := hub.NewBackend("x")
		cv.So(err, cv.ShouldBeNil)
		_, err = hub.NewBackend("x")
		cv.So(err, cv.ShouldNotBeNil)

		_, err = b.Connect("y")
		cv.So(err, cv.ShouldNotBeNil) // not attached

		c, err := NewConnector(nil, b, nil, nil)
		panicOn(err)
		_, err = b.Connect("nobody")
		cv.So(err, cv.ShouldNotBeNil)

		cv.So(c.Close(ReasonDisposed), cv.ShouldBeNil)
		_, err = hub.NewBackend("x")
		cv.So(err, cv.ShouldBeNil)
	})
}
