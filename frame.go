package taurus

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// =========================
//
// Taurus frame
//
// 1. magic: first 8 bytes, FrameMagic, little endian.
//           Lets a reader resynchronize on a stream
//           that was joined mid-flight or corrupted.
//
// 2. length: next 4 bytes, signed int32 N, little endian.
//
// 3. payload: the next N bytes.
//
// Integers are little endian on every host, so a frame
// written on one architecture decodes on any other.
//
// =========================

// FrameMagic spells "tAURUS\r\n" on the wire.
const FrameMagic uint64 = 0x0A0D535552554174

const frameHeaderLen = 12

// DefaultMaxMessageSize bounds how much a defragmenter
// will allocate for one frame.
const DefaultMaxMessageSize = 64 << 20

var ErrFrameTooLarge = fmt.Errorf("frame payload too large")

// Fragmenter turns one message into wire bytes, and
// makes the matching per-peer Defragmenter.
type Fragmenter interface {
	Fragment(msg []byte) ([]byte, error)
	FragmentTo(w io.Writer, msg []byte) error
	NewDefragmenter() Defragmenter

	// Framed is false for the pass-through mode, where
	// the transport already preserves message boundaries.
	Framed() bool
}

// TaurusFragmenter writes Taurus frames.
type TaurusFragmenter struct {
	MaxMessageSize int
}

func NewTaurusFragmenter(maxMessageSize int) *TaurusFragmenter {
	if maxMessageSize <= 0 || maxMessageSize > math.MaxInt32 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &TaurusFragmenter{MaxMessageSize: maxMessageSize}
}

func (f *TaurusFragmenter) Framed() bool { return true }

func (f *TaurusFragmenter) Fragment(msg []byte) ([]byte, error) {
	if len(msg) > f.MaxMessageSize {
		return nil, fmt.Errorf("%w: %v bytes > max %v", ErrFrameTooLarge, len(msg), f.MaxMessageSize)
	}
	buf := make([]byte, frameHeaderLen+len(msg))
	putFrameHeader(buf, len(msg))
	copy(buf[frameHeaderLen:], msg)
	return buf, nil
}

// FragmentTo issues a single Write of the whole frame.
func (f *TaurusFragmenter) FragmentTo(w io.Writer, msg []byte) error {
	frame, err := f.Fragment(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

func (f *TaurusFragmenter) NewDefragmenter() Defragmenter {
	return NewDefragmenterStream(f.MaxMessageSize)
}

func putFrameHeader(buf []byte, n int) {
	binary.LittleEndian.PutUint64(buf[:8], FrameMagic)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(int32(n)))
}

// NoFragmentationFragmenter passes messages through
// untouched. Its defragmenter treats every Write as one
// whole message.
type NoFragmentationFragmenter struct{}

func (NoFragmentationFragmenter) Framed() bool { return false }

func (NoFragmentationFragmenter) Fragment(msg []byte) ([]byte, error) {
	return msg, nil
}

func (NoFragmentationFragmenter) FragmentTo(w io.Writer, msg []byte) error {
	_, err := w.Write(msg)
	return err
}

func (NoFragmentationFragmenter) NewDefragmenter() Defragmenter {
	return &passthroughDefragmenter{}
}
