package taurus

import (
	"fmt"
	"sync"

	"github.com/glycerine/loquet"
)

// DecisionOutcome is the state of a PendingDecision.
type DecisionOutcome int

const (
	DecisionPending  DecisionOutcome = 0
	DecisionAccepted DecisionOutcome = 1
	DecisionDenied   DecisionOutcome = 2

	// DecisionFaulted means the decision failed to produce
	// an answer. The peer is denied with ReasonError.
	DecisionFaulted DecisionOutcome = 3
)

func (o DecisionOutcome) String() string {
	switch o {
	case DecisionPending:
		return "Pending"
	case DecisionAccepted:
		return "Accepted"
	case DecisionDenied:
		return "Denied"
	case DecisionFaulted:
		return "Faulted"
	}
	return fmt.Sprintf("DecisionOutcome(%d)", int(o))
}

// PendingDecision is an accept/deny answer that may
// arrive later, from any goroutine. It moves out of
// DecisionPending exactly once; later Accept, Deny or
// Fail calls are ignored and report false.
//
// ProcessEvents polls Outcome and never waits on it.
type PendingDecision struct {
	mut     sync.Mutex
	outcome DecisionOutcome
	err     error

	resolved *loquet.Chan[DecisionOutcome]
}

func NewPendingDecision() *PendingDecision {
	return &PendingDecision{
		resolved: loquet.NewChan[DecisionOutcome](nil),
	}
}

// Resolved returns an already answered decision.
func Resolved(accept bool) *PendingDecision {
	d := NewPendingDecision()
	if accept {
		d.Accept()
	} else {
		d.Deny()
	}
	return d
}

func (d *PendingDecision) Accept() bool {
	return d.resolve(DecisionAccepted, nil)
}

func (d *PendingDecision) Deny() bool {
	return d.resolve(DecisionDenied, nil)
}

// Fail marks the decision faulted. err is kept for Err.
func (d *PendingDecision) Fail(err error) bool {
	if err == nil {
		err = fmt.Errorf("connection decision faulted")
	}
	return d.resolve(DecisionFaulted, err)
}

func (d *PendingDecision) resolve(o DecisionOutcome, err error) bool {
	d.mut.Lock()
	if d.outcome != DecisionPending {
		d.mut.Unlock()
		return false
	}
	d.outcome = o
	d.err = err
	d.mut.Unlock()
	d.resolved.Close()
	return true
}

// Outcome never blocks.
func (d *PendingDecision) Outcome() (o DecisionOutcome) {
	d.mut.Lock()
	o = d.outcome
	d.mut.Unlock()
	return
}

// Err is the error given to Fail, or nil.
func (d *PendingDecision) Err() (err error) {
	d.mut.Lock()
	err = d.err
	d.mut.Unlock()
	return
}

// WhenResolved is closed once the outcome is final.
func (d *PendingDecision) WhenResolved() <-chan struct{} {
	return d.resolved.WhenClosed()
}

// Decider is asked about every newly registered peer,
// inbound or outbound, on the consumer goroutine. It
// must not block; slow checks return a PendingDecision
// and resolve it later. A nil Decider accepts everyone.
type Decider func(peer *Peer) *PendingDecision

// AcceptAll is the nil Decider made explicit.
func AcceptAll(peer *Peer) *PendingDecision {
	return Resolved(true)
}

// decide runs the user's Decider. A panic, or a nil
// answer, becomes a faulted decision.
func decide(f Decider, peer *Peer) (d *PendingDecision) {
	if f == nil {
		return Resolved(true)
	}
	defer func() {
		if r := recover(); r != nil {
			d = NewPendingDecision()
			d.Fail(fmt.Errorf("connection decider panic for %v: %v", peer, r))
		}
	}()
	d = f(peer)
	if d == nil {
		d = NewPendingDecision()
		d.Fail(fmt.Errorf("connection decider returned nil for %v", peer))
	}
	return
}
