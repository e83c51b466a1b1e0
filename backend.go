package taurus

import (
	"fmt"
)

// Backend is a concrete transport under a Connector.
//
// Backends own their goroutines. Those goroutines report
// into the connector only through
// EnqueueConnectionAttempted, EnqueueDisconnected and
// EnqueueMessageReceived, and they apply the connector's
// requests by running Connector.ProcessRequests, which
// calls back into ApplyDisconnect and ApplySend.
type Backend interface {
	// Attach is called once by NewConnector, before any
	// other method. Service goroutines start here.
	Attach(c *Connector) error

	// Fragmenter picks framing: Taurus frames for byte
	// streams, pass-through where the transport keeps
	// message boundaries.
	Fragmenter() Fragmenter

	// ApplyDisconnect tears down the peer's connection.
	// It must tolerate being called more than once for
	// the same peer, and for peers it no longer knows.
	ApplyDisconnect(peer *Peer, reason DisconnectReason)

	// ApplySend hands a whole frame to the transport.
	// Return ErrStaleHandle if peer's handle is already
	// gone; any other error forces a disconnect with
	// ReasonError.
	ApplySend(peer *Peer, frame []byte) error

	// Stop halts the backend's goroutines and waits for
	// them. Idempotent.
	Stop() error
}

// inlineRequester is implemented by backends that have
// no service goroutine; ProcessEvents then runs
// ProcessRequests itself before draining.
type inlineRequester interface {
	ProcessesRequestsInline() bool
}

var ErrStaleHandle = fmt.Errorf("peer handle no longer owned by the backend")

var ErrConnectorClosed = fmt.Errorf("connector closed")
