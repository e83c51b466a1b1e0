package taurus

import (
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// readChunk is the per-read buffer of the stream
// backends. Received chunks are copied out before being
// queued, so one buffer serves a connection for life.
const readChunk = 64 << 10

// both net.Conn and quic.Stream qualify.
type deadlineReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

type deadlineWriter interface {
	io.Writer
	SetWriteDeadline(t time.Time) error
}

// readFull reads exactly len(buf) bytes from conn.
// 0 timeout means no timeout.
func readFull(conn deadlineReader, buf []byte, timeout time.Duration) error {
	if timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(timeout))
		defer conn.SetReadDeadline(time.Time{})
	}

	need := len(buf)
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if total == need {
			// probably just EOF
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// writeFull writes all bytes in buf to conn.
// 0 timeout means no timeout.
func writeFull(conn deadlineWriter, buf []byte, timeout time.Duration) error {
	if timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(timeout))
	}

	need := len(buf)
	total := 0
	for total < len(buf) {
		n, err := conn.Write(buf[total:])
		total += n
		if total == need {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// reasonFromReadErr classifies the error that ended a
// stream reader.
func reasonFromReadErr(err error) DisconnectReason {
	if errors.Is(err, io.EOF) {
		return ReasonRemoteClosed
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return ReasonTimedOut
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ReasonTimedOut
	}
	return ReasonError
}
