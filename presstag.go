package taurus

import (
	"fmt"
)

// pressTag is the first byte of every payload the
// connector puts inside a frame. It names the
// compression the sender used, so each side can pick
// its own algorithm and still read the other's:
//
// 00 => no compression
// 01 => s2
// 02 => lz4
// 03 => zstd:01 (fastest time, least compression for zstd)
// 04 => zstd:03
// 05 => zstd:07
// 06 => zstd:11 (best compression)
type pressTag byte

const (
	pressTagNone   pressTag = 0
	pressTagS2     pressTag = 1
	pressTagLz4    pressTag = 2
	pressTagZstd01 pressTag = 3
	pressTagZstd03 pressTag = 4
	pressTagZstd07 pressTag = 5
	pressTagZstd11 pressTag = 6

	// keep this as the last number, just above all
	// the rest, if you add more legit tags above.
	pressTagOutOfBounds pressTag = 7
)

var ErrUnknownCompression = fmt.Errorf("unknown compression")

func (m pressTag) String() (s string) {
	s, err := decodePressTag(m)
	if err != nil {
		return fmt.Sprintf("pressTag(%d)", byte(m))
	}
	if s == "" {
		return "none"
	}
	return
}

func decodePressTag(tag pressTag) (algo string, err error) {
	switch tag {
	case pressTagNone:
		return "", nil
	case pressTagS2:
		return "s2", nil
	case pressTagLz4:
		return "lz4", nil
	case pressTagZstd01:
		return "zstd:01", nil
	case pressTagZstd03:
		return "zstd:03", nil
	case pressTagZstd07:
		return "zstd:07", nil
	case pressTagZstd11:
		return "zstd:11", nil
	}
	return "", fmt.Errorf("%w: tag %v; valid tags are 0-%v", ErrUnknownCompression, byte(tag), byte(pressTagOutOfBounds)-1)
}

// encodePressTag maps a Config.CompressAlgo name to its
// tag. The empty string means no compression.
func encodePressTag(algo string) (tag pressTag, err error) {
	switch algo {
	case "":
		return pressTagNone, nil
	case "s2":
		return pressTagS2, nil
	case "lz4":
		return pressTagLz4, nil
	case "zstd:01":
		return pressTagZstd01, nil
	case "zstd:03":
		return pressTagZstd03, nil
	case "zstd:07":
		return pressTagZstd07, nil
	case "zstd:11":
		return pressTagZstd11, nil
	}
	return 0, fmt.Errorf("%w: '%v' ; "+
		"valid choices: \"\", s2, lz4, zstd:01, zstd:03, zstd:07, zstd:11",
		ErrUnknownCompression, algo)
}
