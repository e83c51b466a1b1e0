package hash

import (
	"sync"

	cristalbase64 "github.com/cristalhq/base64"
	"github.com/glycerine/blake3"
)

// prefix on every digest string, naming algorithm and length.
const sumPrefix = "blake3.33B-"

// Blake3 is a goroutine safe running digest. The
// cmd/srv and cmd/cli echo pair each keep one over
// every message sent and every message received, then
// compare the two.
type Blake3 struct {
	mut    sync.Mutex
	hasher *blake3.Hasher
	count  int64
}

// NewBlake3 creates a new Blake3.
func NewBlake3() *Blake3 {
	return &Blake3{
		hasher: blake3.New(64, nil),
	}
}

// Write adds one message. Messages are length
// delimited, so ["ab","c"] and ["a","bc"] differ.
func (b *Blake3) Write(msg []byte) {
	var lenbuf [8]byte
	n := uint64(len(msg))
	for i := range lenbuf {
		lenbuf[i] = byte(n >> (8 * i))
	}
	b.mut.Lock()
	b.hasher.Write(lenbuf[:])
	b.hasher.Write(msg)
	b.count++
	b.mut.Unlock()
}

// Count returns how many messages were written since
// the last Reset.
func (b *Blake3) Count() int64 {
	b.mut.Lock()
	defer b.mut.Unlock()
	return b.count
}

func (b *Blake3) Reset() {
	b.mut.Lock()
	b.hasher.Reset()
	b.count = 0
	b.mut.Unlock()
}

func (b *Blake3) SumString() string {
	b.mut.Lock()
	sum := b.hasher.Sum(nil)
	b.mut.Unlock()
	return RawSumBytesToString(sum)
}

// Blake3OfBytes is goroutine safe and lock free, since
// it creates a new hasher every time.
func Blake3OfBytes(by []byte) []byte {
	h := blake3.New(64, nil)
	h.Write(by)
	return h.Sum(nil)
}

// Blake3OfBytesString calls Blake3OfBytes.
// The returned string starts with
// the "blake3.33B-" prefix.
func Blake3OfBytesString(by []byte) string {
	return RawSumBytesToString(Blake3OfBytes(by))
}

// if you already have the Hasher.Sum() output:
func RawSumBytesToString(by []byte) string {
	return sumPrefix + cristalbase64.URLEncoding.EncodeToString(by[:33])
}
