package taurus

import (
	"sync"

	"github.com/glycerine/loquet"
)

// SendResult is returned by SendMessageToPeerAsync. It
// completes once the backend has taken the frame, or
// the send was dropped or failed.
type SendResult struct {
	mut  sync.Mutex
	done bool
	sent bool
	err  error

	doneCh *loquet.Chan[SendResult]
}

func newSendResult() *SendResult {
	r := &SendResult{}
	r.doneCh = loquet.NewChan(r)
	return r
}

// completedSendResult is what a zero-length send gets.
func completedSendResult() *SendResult {
	r := newSendResult()
	r.complete(true, nil)
	return r
}

func (r *SendResult) complete(sent bool, err error) {
	r.mut.Lock()
	if r.done {
		r.mut.Unlock()
		return
	}
	r.done = true
	r.sent = sent
	r.err = err
	r.mut.Unlock()
	r.doneCh.Close()
}

// Done is closed on completion.
func (r *SendResult) Done() <-chan struct{} {
	return r.doneCh.WhenClosed()
}

func (r *SendResult) IsDone() (done bool) {
	r.mut.Lock()
	done = r.done
	r.mut.Unlock()
	return
}

// Sent reports whether the backend accepted the frame.
// A send to a stale peer completes with Sent false and
// a nil Err.
func (r *SendResult) Sent() (sent bool) {
	r.mut.Lock()
	sent = r.sent
	r.mut.Unlock()
	return
}

func (r *SendResult) Err() (err error) {
	r.mut.Lock()
	err = r.err
	r.mut.Unlock()
	return
}
