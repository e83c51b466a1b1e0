/*
Package taurus connects peers over interchangeable
transports and hands their traffic to one consumer
goroutine as ordered events.

A Connector owns a registry of peers and a set of
thread-safe event queues. Transport backends (TCP,
QUIC, or the in-process loopback) run on their own
goroutines and only ever enqueue: connection
attempts, received bytes, and disconnects. The
consumer calls ProcessEvents in a loop; all Handler
callbacks fire there, on the consumer's goroutine, and
in a fixed order:

	connection attempts -> decisions -> disconnect requests ->
	disconnects -> send completions -> received messages

New peers pass through a Decider, which returns a
PendingDecision that may be resolved later from any
goroutine. Until it is accepted the peer gets no
OnPeerConnected, and anything it sends is held back, so
a consumer never sees a message from a peer it has not
been told about.

On byte-stream transports every message travels in a
Taurus frame: the 8-byte marker "tAURUS\r\n", a
little-endian int32 length, then the payload. The
receiving DefragmenterStream scans for the marker, so
it resynchronizes after garbage. Payloads carry a one
byte compression tag; see Config.CompressAlgo.

Sends are asynchronous. SendMessageToPeerAsync returns
a SendResult that completes once the backend has
written the frame, or with an error.

The cmd/srv and cmd/cli programs are an echo server and
load generator built on this package.
*/
package taurus
