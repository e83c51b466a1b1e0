package taurus

// Handler receives the connector's notifications. Every
// method is called on the goroutine running
// ProcessEvents, one at a time, so implementations need
// no locking of their own. They may call back into the
// Connector (DisconnectPeer, SendMessageToPeerAsync,
// even Close); after Close returns, the batch in hand
// delivers nothing more.
//
// For any one peer the order is: ConnectionAttempted,
// then Connected or ConnectionDenied, then any number of
// MessageSent/MessageReceived (only after Connected),
// then Disconnected last.
type Handler interface {
	OnPeerConnectionAttempted(peer *Peer)
	OnPeerConnected(peer *Peer)
	OnPeerConnectionDenied(peer *Peer, reason DisconnectReason)
	OnPeerDisconnected(peer *Peer, reason DisconnectReason)
	OnPeerMessageSent(peer *Peer, msg []byte)
	OnPeerMessageReceived(peer *Peer, msg []byte)
}

// HandlerFuncs lets callers supply only the callbacks
// they care about. Nil fields are skipped.
type HandlerFuncs struct {
	ConnectionAttempted func(peer *Peer)
	Connected           func(peer *Peer)
	ConnectionDenied    func(peer *Peer, reason DisconnectReason)
	Disconnected        func(peer *Peer, reason DisconnectReason)
	MessageSent         func(peer *Peer, msg []byte)
	MessageReceived     func(peer *Peer, msg []byte)
}

var _ Handler = &HandlerFuncs{}

func (h *HandlerFuncs) OnPeerConnectionAttempted(peer *Peer) {
	if h.ConnectionAttempted != nil {
		h.ConnectionAttempted(peer)
	}
}

func (h *HandlerFuncs) OnPeerConnected(peer *Peer) {
	if h.Connected != nil {
		h.Connected(peer)
	}
}

func (h *HandlerFuncs) OnPeerConnectionDenied(peer *Peer, reason DisconnectReason) {
	if h.ConnectionDenied != nil {
		h.ConnectionDenied(peer, reason)
	}
}

func (h *HandlerFuncs) OnPeerDisconnected(peer *Peer, reason DisconnectReason) {
	if h.Disconnected != nil {
		h.Disconnected(peer, reason)
	}
}

func (h *HandlerFuncs) OnPeerMessageSent(peer *Peer, msg []byte) {
	if h.MessageSent != nil {
		h.MessageSent(peer, msg)
	}
}

func (h *HandlerFuncs) OnPeerMessageReceived(peer *Peer, msg []byte) {
	if h.MessageReceived != nil {
		h.MessageReceived(peer, msg)
	}
}
