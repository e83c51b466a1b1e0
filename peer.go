package taurus

import (
	"fmt"
)

// Peer is the connector's view of one remote endpoint.
//
// A Peer is created by a backend (see Connector.NewPeer)
// and belongs to exactly one Connector. Two Peer values
// denote the same registered peer only if identity,
// transport handle and owning connector all match; a
// Peer left over from an earlier connection is "stale"
// and every event about it is dropped.
type Peer struct {
	ID PeerIdentity

	// Endpoint is "network://host:port", or
	// "loopback://name" for the in-process backend.
	Endpoint string

	// handle is the backend's connection object. It must
	// be comparable; backends use pointers.
	handle any

	conn *Connector

	// retired is set, on the consumer goroutine, once the
	// peer has been unregistered. A retired Peer is never
	// registered again.
	retired bool
}

// Handle returns the backend-specific connection object.
func (p *Peer) Handle() any {
	return p.handle
}

// Connector returns the owning connector.
func (p *Peer) Connector() *Connector {
	return p.conn
}

func (p *Peer) String() string {
	if p == nil {
		return "Peer(nil)"
	}
	return fmt.Sprintf("Peer{%v %v}", p.ID.Short(), p.Endpoint)
}

// samePeer is the registry's containment test.
func samePeer(a, b *Peer) bool {
	if a == nil || b == nil {
		return false
	}
	return a.ID == b.ID && a.handle == b.handle && a.conn == b.conn
}
