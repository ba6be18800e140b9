// Package compress implements the engine's adaptive document-body
// compression: small bodies are stored raw, medium bodies use snappy
// for speed, large bodies use zstd for ratio. Grounded on the
// teacher's services/mddbd/compression.go; adapted to return plain
// owned slices instead of pooled buffers with manual Put bookkeeping,
// since compressed bodies here are handed straight to the KV store
// rather than reused across goroutines.
package compress

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

const (
	// SmallThreshold: below this, bodies are stored uncompressed.
	SmallThreshold = 1024
	// MediumThreshold: below this (and at/above SmallThreshold), bodies
	// use snappy; at/above it they use zstd.
	MediumThreshold = 10 * 1024
)

type method byte

const (
	methodRaw method = iota
	methodSnappy
	methodZstd
)

var (
	sharedEncoder *zstd.Encoder
	sharedDecoder *zstd.Decoder
)

func init() {
	var err error
	sharedEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(err)
	}
	sharedDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}
}

// Encode compresses data, choosing a method by size, and prefixes the
// result with a one-byte method tag. It falls back to raw storage
// whenever compression would not shrink the payload.
func Encode(data []byte) []byte {
	switch {
	case len(data) < SmallThreshold:
		return tag(methodRaw, data)
	case len(data) < MediumThreshold:
		compressed := snappy.Encode(nil, data)
		if len(compressed) < len(data) {
			return tag(methodSnappy, compressed)
		}
		return tag(methodRaw, data)
	default:
		compressed := sharedEncoder.EncodeAll(data, nil)
		if len(compressed) < len(data) {
			return tag(methodZstd, compressed)
		}
		return tag(methodRaw, data)
	}
}

// Decode reverses Encode.
func Decode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("compress: empty input")
	}
	payload := data[1:]
	switch method(data[0]) {
	case methodRaw:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case methodSnappy:
		return snappy.Decode(nil, payload)
	case methodZstd:
		return sharedDecoder.DecodeAll(payload, nil)
	default:
		return nil, fmt.Errorf("compress: unknown method tag %d", data[0])
	}
}

func tag(m method, payload []byte) []byte {
	out := make([]byte, len(payload)+1)
	out[0] = byte(m)
	copy(out[1:], payload)
	return out
}
