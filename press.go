package taurus

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// pressor compresses whole messages before framing.
// SendMessageToPeerAsync may be called from any
// goroutine, so it is locked.
type pressor struct {
	mut    sync.Mutex
	maxMsg int

	lz4w *lz4.Writer
	buf  bytes.Buffer

	// one encoder per zstd level, made on first use.
	zenc map[pressTag]*zstd.Encoder
}

func newPressor(maxMsg int) (p *pressor) {
	p = &pressor{
		maxMsg: maxMsg,
		zenc:   make(map[pressTag]*zstd.Encoder),
	}
	p.lz4w = lz4.NewWriter(nil)
	options := []lz4.Option{
		lz4.BlockChecksumOption(true),
		lz4.CompressionLevelOption(lz4.Fast),
	}
	panicOn(p.lz4w.Apply(options...))
	return
}

func zstdLevel(tag pressTag) zstd.EncoderLevel {
	switch tag {
	case pressTagZstd01:
		return zstd.SpeedFastest
	case pressTagZstd03:
		return zstd.SpeedDefault
	case pressTagZstd07:
		return zstd.SpeedBetterCompression
	}
	return zstd.SpeedBestCompression
}

// handleCompress returns the tag byte followed by the
// compressed msg. The result never aliases msg.
func (p *pressor) handleCompress(tag pressTag, msg []byte) ([]byte, error) {
	p.mut.Lock()
	defer p.mut.Unlock()

	switch tag {
	case pressTagNone:
		out := make([]byte, 1+len(msg))
		out[0] = byte(tag)
		copy(out[1:], msg)
		return out, nil

	case pressTagS2:
		enc := s2.Encode(nil, msg)
		out := make([]byte, 1+len(enc))
		out[0] = byte(tag)
		copy(out[1:], enc)
		return out, nil

	case pressTagLz4:
		p.buf.Reset()
		p.buf.WriteByte(byte(tag))
		p.lz4w.Reset(&p.buf)
		if _, err := p.lz4w.Write(msg); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := p.lz4w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress close: %w", err)
		}
		return bytes.Clone(p.buf.Bytes()), nil

	case pressTagZstd01, pressTagZstd03, pressTagZstd07, pressTagZstd11:
		enc, ok := p.zenc[tag]
		if !ok {
			var err error
			enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(tag)))
			if err != nil {
				return nil, fmt.Errorf("zstd encoder for %v: %w", tag, err)
			}
			p.zenc[tag] = enc
		}
		return enc.EncodeAll(msg, []byte{byte(tag)}), nil
	}
	_, err := decodePressTag(tag)
	return nil, err
}

// decomp undoes handleCompress for whatever tag the
// remote used. Consumer goroutine only.
type decomp struct {
	maxMsg int

	lz4r *lz4.Reader
	zdec *zstd.Decoder
}

func newDecomp(maxMsg int) *decomp {
	return &decomp{
		maxMsg: maxMsg,
		lz4r:   lz4.NewReader(nil),
	}
}

var errDecompressTooBig = fmt.Errorf("decompressed message exceeds max message size")

func (d *decomp) handleDecompress(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload has no compression tag")
	}
	tag := pressTag(payload[0])
	body := payload[1:]

	switch tag {
	case pressTagNone:
		return body, nil

	case pressTagS2:
		n, err := s2.DecodedLen(body)
		if err != nil {
			return nil, fmt.Errorf("s2 decompress: %w", err)
		}
		if n > d.maxMsg {
			return nil, errDecompressTooBig
		}
		out, err := s2.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("s2 decompress: %w", err)
		}
		return out, nil

	case pressTagLz4:
		d.lz4r.Reset(bytes.NewReader(body))
		out, err := io.ReadAll(io.LimitReader(d.lz4r, int64(d.maxMsg)+1))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if len(out) > d.maxMsg {
			return nil, errDecompressTooBig
		}
		return out, nil

	case pressTagZstd01, pressTagZstd03, pressTagZstd07, pressTagZstd11:
		if d.zdec == nil {
			var err error
			d.zdec, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(d.maxMsg)))
			if err != nil {
				return nil, fmt.Errorf("zstd decoder: %w", err)
			}
		}
		out, err := d.zdec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	}
	_, err := decodePressTag(tag)
	return nil, err
}

func (d *decomp) Close() {
	if d.zdec != nil {
		d.zdec.Close()
	}
}
