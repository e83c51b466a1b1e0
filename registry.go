package taurus

// peerEntry is what the registry keeps per peer.
type peerEntry struct {
	peer *Peer

	// accepted flips when OnPeerConnected fires.
	accepted bool

	// muted: denied, or sent us garbage. No more
	// message notifications while it is torn down.
	muted bool

	// stream is created on the first received bytes
	// and dropped with the entry.
	stream Defragmenter

	// held notifications that arrived before the
	// decision; flushed after OnPeerConnected,
	// discarded on deny or disconnect.
	held []heldEvent
}

type heldEvent struct {
	sent bool // else received.
	msg  []byte
}

// peerRegistry is the set of live peers. Only the
// consumer goroutine touches it.
type peerRegistry struct {
	m *omap[string, *peerEntry]
}

func newPeerRegistry() *peerRegistry {
	return &peerRegistry{
		m: newOmap[string, *peerEntry](),
	}
}

// tryInsert adds peer unless its identity is already
// registered.
func (r *peerRegistry) tryInsert(peer *Peer) bool {
	return r.m.setIfAbsent(peer.ID.String(), &peerEntry{peer: peer})
}

// lookup returns the entry only if it is for exactly
// this peer: same identity, handle and connector.
func (r *peerRegistry) lookup(peer *Peer) (*peerEntry, bool) {
	if peer == nil {
		return nil, false
	}
	e, ok := r.m.get2(peer.ID.String())
	if !ok || !samePeer(e.peer, peer) {
		return nil, false
	}
	return e, true
}

func (r *peerRegistry) contains(peer *Peer) bool {
	_, ok := r.lookup(peer)
	return ok
}

func (r *peerRegistry) remove(peer *Peer) bool {
	if !r.contains(peer) {
		return false
	}
	return r.m.delkey(peer.ID.String())
}

func (r *peerRegistry) len() int {
	return r.m.Len()
}

// peers returns the registered peers in identity order.
func (r *peerRegistry) peers() (out []*Peer) {
	for _, e := range r.m.all() {
		out = append(out, e.peer)
	}
	return
}
