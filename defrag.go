package taurus

import (
	"encoding/binary"
)

// Defragmenter reassembles messages from the byte
// chunks a transport happens to deliver. It is
// push-only: Write never fails and never blocks;
// malformed input just leaves a frame incomplete or is
// skipped while resynchronizing.
type Defragmenter interface {
	Write(p []byte)
	TryDequeuingMessage() (msg []byte, ok bool)
	IsMessagePending() bool
	Reset()
}

// DefragmenterStream decodes Taurus frames incrementally.
//
// Until synchronized, every incoming byte is shifted into
// a 64-bit window and the window compared against
// FrameMagic, so the marker is found at any offset. Then
// 4 length bytes are collected (they may straddle
// writes), then exactly N payload bytes. Only one frame
// is ever in progress; completed frames wait in FIFO
// order for TryDequeuingMessage.
type DefragmenterStream struct {
	maxMessage int

	window uint64
	synced bool

	lenBuf  [4]byte
	lenHave int
	haveLen bool

	payload []byte
	have    int

	done     [][]byte
	doneHead int
}

func NewDefragmenterStream(maxMessageSize int) *DefragmenterStream {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &DefragmenterStream{maxMessage: maxMessageSize}
}

// Write consumes all of p. p is not retained.
func (d *DefragmenterStream) Write(p []byte) {
	for len(p) > 0 {
		if !d.synced {
			p = d.scanMagic(p)
			continue
		}
		if !d.haveLen {
			n := copy(d.lenBuf[d.lenHave:], p)
			d.lenHave += n
			p = p[n:]
			if d.lenHave < 4 {
				return
			}
			sz := int32(binary.LittleEndian.Uint32(d.lenBuf[:]))
			if sz < 0 || int(sz) > d.maxMessage {
				// false sync. keep looking, starting
				// with the bytes we took as a length.
				lb := d.lenBuf
				d.resetFrame()
				d.scanMagic(lb[:])
				continue
			}
			d.haveLen = true
			d.payload = make([]byte, sz)
			d.have = 0
			if sz == 0 {
				d.finishFrame()
			}
			continue
		}
		n := copy(d.payload[d.have:], p)
		d.have += n
		p = p[n:]
		if d.have == len(d.payload) {
			d.finishFrame()
		}
	}
}

// scanMagic shifts bytes into the window until the
// marker is complete, and returns what is left of p.
func (d *DefragmenterStream) scanMagic(p []byte) []byte {
	for i, b := range p {
		d.window = (d.window >> 8) | uint64(b)<<56
		if d.window == FrameMagic {
			d.synced = true
			d.window = 0
			return p[i+1:]
		}
	}
	return nil
}

// partialMagic reports whether the newest bytes in the
// window are a proper prefix of the marker.
func (d *DefragmenterStream) partialMagic() bool {
	for k := 7; k >= 1; k-- {
		top := d.window >> (8 * (8 - k))
		mask := uint64(1)<<(8*k) - 1
		if top == FrameMagic&mask {
			return true
		}
	}
	return false
}

func (d *DefragmenterStream) finishFrame() {
	d.done = append(d.done, d.payload)
	d.resetFrame()
}

func (d *DefragmenterStream) resetFrame() {
	d.synced = false
	d.window = 0
	d.lenHave = 0
	d.haveLen = false
	d.payload = nil
	d.have = 0
}

// TryDequeuingMessage pops the oldest complete message.
func (d *DefragmenterStream) TryDequeuingMessage() (msg []byte, ok bool) {
	if d.doneHead >= len(d.done) {
		return nil, false
	}
	msg = d.done[d.doneHead]
	d.done[d.doneHead] = nil
	d.doneHead++
	if d.doneHead == len(d.done) {
		d.done = d.done[:0]
		d.doneHead = 0
	}
	return msg, true
}

// IsMessagePending is true while a frame has begun but is
// not yet complete, counting a partly seen marker.
func (d *DefragmenterStream) IsMessagePending() bool {
	return d.synced || d.partialMagic()
}

// Reset discards the frame in progress and any complete
// messages not yet dequeued.
func (d *DefragmenterStream) Reset() {
	d.resetFrame()
	d.done = nil
	d.doneHead = 0
}

// passthroughDefragmenter: each Write is one message.
type passthroughDefragmenter struct {
	done [][]byte
}

func (d *passthroughDefragmenter) Write(p []byte) {
	d.done = append(d.done, append([]byte{}, p...))
}

func (d *passthroughDefragmenter) TryDequeuingMessage() (msg []byte, ok bool) {
	if len(d.done) == 0 {
		return nil, false
	}
	msg = d.done[0]
	d.done[0] = nil
	d.done = d.done[1:]
	return msg, true
}

func (d *passthroughDefragmenter) IsMessagePending() bool { return false }

func (d *passthroughDefragmenter) Reset() { d.done = nil }
