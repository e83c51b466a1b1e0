package taurus

import (
	"fmt"
)

// DisconnectReason says why a peer went away. It is
// carried through the disconnection queues to
// OnPeerDisconnected and OnPeerConnectionDenied, and on
// QUIC it travels to the remote side as the application
// error code.
type DisconnectReason int

const (
	ReasonInvalid DisconnectReason = 0

	// ReasonDisposed is used when the local connector
	// shuts down, see Connector.Close.
	ReasonDisposed DisconnectReason = 1

	// ReasonError covers transport faults, failed sends,
	// undecodable payloads and connection decisions
	// that failed instead of answering.
	ReasonError DisconnectReason = 2

	ReasonDenied   DisconnectReason = 3
	ReasonTimedOut DisconnectReason = 4

	// ReasonRemoteClosed is an orderly close from the
	// other side that carried no reason of its own.
	ReasonRemoteClosed DisconnectReason = 5

	// keep last.
	reasonOutOfBounds DisconnectReason = 6
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonInvalid:
		return "Invalid"
	case ReasonDisposed:
		return "Disposed"
	case ReasonError:
		return "Error"
	case ReasonDenied:
		return "Denied"
	case ReasonTimedOut:
		return "TimedOut"
	case ReasonRemoteClosed:
		return "RemoteClosed"
	}
	return fmt.Sprintf("DisconnectReason(%d)", int(r))
}

// Code is the raw numeric form sent out of band by
// transports that can carry one.
func (r DisconnectReason) Code() uint64 {
	return uint64(r)
}

// DisconnectReasonFromCode maps a raw code received from
// a transport back to a DisconnectReason. Anything
// unrecognized becomes ReasonInvalid.
func DisconnectReasonFromCode(code uint64) DisconnectReason {
	if code >= uint64(reasonOutOfBounds) {
		return ReasonInvalid
	}
	return DisconnectReason(code)
}
