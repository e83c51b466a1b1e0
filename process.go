package taurus

import (
	"errors"
)

// ProcessEvents drains the event queues once, in a fixed
// order, firing Handler callbacks as it goes:
//
//  1. connection attempts: register, ask the Decider
//  2. decisions: connect or deny the resolved ones
//  3. disconnect requests: keep those for live peers
//  4. disconnects: unregister, notify
//  5. completed sends
//  6. received bytes: defragment, decompress, deliver
//
// It never blocks. Call it from one goroutine only.
func (c *Connector) ProcessEvents() {
	if c.inline {
		c.ProcessRequests()
	}
	c.processConnectionAttempts()
	c.processDecisions()
	c.processDisconnectRequests()
	c.processDisconnected()
	c.processMessagesSent()
	c.processMessagesReceived()
}

func (c *Connector) processConnectionAttempts() {
	for _, p := range c.q.connectionAttempted.drainAll() {
		if c.isClosed() {
			// a handler closed us mid-batch.
			c.metrics.stale.Inc()
			continue
		}
		if p == nil || p.conn != c || p.retired || !c.reg.tryInsert(p) {
			// duplicate identity, not ours, or already gone.
			c.metrics.stale.Inc()
			continue
		}
		c.metrics.attempted.Inc()
		c.metrics.peers.Set(float64(c.reg.len()))

		d := decide(c.decider, p)
		c.q.decisionPending.push(&pendingEntry{peer: p, decision: d})
		c.handler.OnPeerConnectionAttempted(p)
	}
}

// processDecisions rotates the decision queue once:
// resolved entries are acted on and dropped, pending ones
// go to the back. The scan stops at the first entry it
// already sent to the back, so each entry is looked at
// once per call.
func (c *Connector) processDecisions() {
	var first *pendingEntry
	for {
		e, ok := c.q.decisionPending.tryPop()
		if !ok {
			break
		}
		if e == first {
			c.q.decisionPending.push(e)
			break
		}
		ent, ok := c.reg.lookup(e.peer)
		if !ok {
			// peer left before anyone decided.
			c.metrics.stale.Inc()
			continue
		}
		switch e.decision.Outcome() {
		case DecisionPending:
			if first == nil {
				first = e
			}
			c.q.decisionPending.push(e)
		case DecisionAccepted:
			c.connected(ent)
		case DecisionDenied:
			c.denied(ent, ReasonDenied)
		default:
			c.denied(ent, ReasonError)
		}
	}
	c.metrics.decisions.Set(float64(c.q.decisionPending.len()))
}

func (c *Connector) connected(ent *peerEntry) {
	ent.accepted = true
	c.metrics.connected.Inc()
	c.handler.OnPeerConnected(ent.peer)

	held := ent.held
	ent.held = nil
	for _, h := range held {
		if ent.muted {
			// a handler above disconnected or closed.
			return
		}
		if h.sent {
			c.handler.OnPeerMessageSent(ent.peer, h.msg)
		} else {
			c.handler.OnPeerMessageReceived(ent.peer, h.msg)
		}
	}
}

func (c *Connector) denied(ent *peerEntry, reason DisconnectReason) {
	ent.muted = true
	ent.held = nil
	c.DisconnectPeer(ent.peer, reason)
	c.metrics.denied.WithLabelValues(reason.String()).Inc()
	c.handler.OnPeerConnectionDenied(ent.peer, reason)
}

func (c *Connector) processDisconnectRequests() {
	valid := false
	for _, r := range c.q.disconnectionRequested.drainAll() {
		if !c.reg.contains(r.peer) {
			c.metrics.stale.Inc()
			continue
		}
		c.q.validatedDisconnectionRequested.push(r)
		valid = true
	}
	if valid {
		c.wake()
	}
}

func (c *Connector) processDisconnected() {
	for _, r := range c.q.disconnected.drainAll() {
		ent, ok := c.reg.lookup(r.peer)
		if !ok {
			c.metrics.stale.Inc()
			continue
		}
		c.retire(ent)
		c.metrics.peers.Set(float64(c.reg.len()))
		c.metrics.disconnected.WithLabelValues(r.reason.String()).Inc()
		c.handler.OnPeerDisconnected(r.peer, r.reason)
	}
}

// retire unregisters ent for good. Its Peer is never
// admitted again, and any loop still holding ent sees it
// muted, even when a handler removed it mid-loop.
func (c *Connector) retire(ent *peerEntry) {
	c.reg.remove(ent.peer)
	ent.peer.retired = true
	ent.muted = true
	ent.stream = nil
	ent.held = nil
}

func (c *Connector) processMessagesSent() {
	for _, s := range c.q.messageSent.drainAll() {
		// the backend took the bytes either way.
		s.result.complete(true, nil)

		ent, ok := c.reg.lookup(s.peer)
		if !ok {
			c.metrics.stale.Inc()
			continue
		}
		c.metrics.msgSent.Inc()
		c.metrics.bytesSent.Add(float64(len(s.frame)))
		switch {
		case ent.muted:
		case ent.accepted:
			c.handler.OnPeerMessageSent(s.peer, s.message)
		default:
			ent.held = append(ent.held, heldEvent{sent: true, msg: s.message})
		}
	}
}

func (c *Connector) processMessagesReceived() {
	for _, m := range c.q.messageReceived.drainAll() {
		ent, ok := c.reg.lookup(m.peer)
		if !ok {
			c.metrics.stale.Inc()
			continue
		}
		if ent.muted {
			continue
		}
		c.metrics.bytesRecv.Add(float64(len(m.data)))
		if ent.stream == nil {
			ent.stream = c.frag.NewDefragmenter()
		}
		stream := ent.stream
		stream.Write(m.data)

		for !ent.muted {
			frame, ok := stream.TryDequeuingMessage()
			if !ok {
				break
			}
			msg, err := c.decomp.handleDecompress(frame)
			if err != nil {
				alwaysPrintf("%v: dropping %v, undecodable message: %v", c.cfg.Name, m.peer, err)
				ent.muted = true
				ent.held = nil
				stream.Reset()
				c.DisconnectPeer(m.peer, ReasonError)
				break
			}
			c.metrics.msgReceived.Inc()
			if ent.accepted {
				c.handler.OnPeerMessageReceived(m.peer, msg)
			} else {
				ent.held = append(ent.held, heldEvent{msg: msg})
			}
		}
	}
}

// ProcessRequests applies queued disconnects and sends
// through the backend. Backends call it from their
// service goroutine; inline backends get it from
// ProcessEvents.
func (c *Connector) ProcessRequests() {
	c.reqMut.Lock()
	defer c.reqMut.Unlock()

	for _, r := range c.q.validatedDisconnectionRequested.drainAll() {
		c.backend.ApplyDisconnect(r.peer, r.reason)
		c.q.disconnected.push(r)
	}
	for _, s := range c.q.sendRequested.drainAll() {
		err := c.backend.ApplySend(s.peer, s.frame)
		switch {
		case err == nil:
			c.q.messageSent.push(s)
		case errors.Is(err, ErrStaleHandle):
			s.result.complete(false, nil)
		default:
			c.metrics.sendsFailed.Inc()
			s.result.complete(false, err)
			c.backend.ApplyDisconnect(s.peer, ReasonError)
			c.q.disconnected.push(disconnectRecord{peer: s.peer, reason: ReasonError})
		}
	}
}
