package taurus

// disconnectRecord travels through the three
// disconnection queues.
type disconnectRecord struct {
	peer   *Peer
	reason DisconnectReason
}

// messageRecord is a raw chunk of received bytes, in
// arrival order, not yet defragmented.
type messageRecord struct {
	peer *Peer
	data []byte
}

// sendRecord follows one SendMessageToPeerAsync call
// from send-requested through message-sent.
type sendRecord struct {
	peer    *Peer
	message []byte // what the caller gave us; reported in OnPeerMessageSent.
	frame   []byte // compressed and framed; what goes on the wire.
	result  *SendResult
}

// pendingEntry is a peer whose accept/deny decision
// may still be outstanding.
type pendingEntry struct {
	peer     *Peer
	decision *PendingDecision
}

// eventQueues are the only channel between backend
// goroutines and the consumer goroutine. The registry
// stays consumer-only.
type eventQueues struct {
	connectionAttempted *fifo[*Peer]

	// consumer-only in practice; step 1 fills it
	// and step 2 rotates it.
	decisionPending *fifo[*pendingEntry]

	disconnectionRequested          *fifo[disconnectRecord]
	validatedDisconnectionRequested *fifo[disconnectRecord]
	disconnected                    *fifo[disconnectRecord]

	sendRequested *fifo[*sendRecord]
	messageSent   *fifo[*sendRecord]

	messageReceived *fifo[messageRecord]
}

func newEventQueues() *eventQueues {
	return &eventQueues{
		connectionAttempted:             newFifo[*Peer](),
		decisionPending:                 newFifo[*pendingEntry](),
		disconnectionRequested:          newFifo[disconnectRecord](),
		validatedDisconnectionRequested: newFifo[disconnectRecord](),
		disconnected:                    newFifo[disconnectRecord](),
		sendRequested:                   newFifo[*sendRecord](),
		messageSent:                     newFifo[*sendRecord](),
		messageReceived:                 newFifo[messageRecord](),
	}
}
