// Package transfer moves named binary payloads over an ordered, reliable
// transport in size-bounded chunks.
package transfer

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

const (
	chunkType = "chunk"

	headerPrefixLen = 4
	maxHeaderLen    = 16 << 10
)

var ErrMalformedFrame = errors.New("malformed chunk frame")

// Header describes one chunk. TotalSize is the size of the whole payload.
type Header struct {
	Type       string `json:"type"`
	Name       string `json:"name"`
	TotalSize  int64  `json:"totalSize"`
	ChunkIndex int    `json:"chunkIndex"`
}

// EncodeChunk lays out a frame as a big-endian uint32 header length, the JSON
// header and the raw payload.
func EncodeChunk(h Header, payload []byte) ([]byte, error) {
	h.Type = chunkType
	hdr, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encode chunk header: %w", err)
	}
	if len(hdr) > maxHeaderLen {
		return nil, fmt.Errorf("%w: header %d bytes", ErrMalformedFrame, len(hdr))
	}
	buf := make([]byte, headerPrefixLen+len(hdr)+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(hdr)))
	copy(buf[headerPrefixLen:], hdr)
	copy(buf[headerPrefixLen+len(hdr):], payload)
	return buf, nil
}

// DecodeChunk splits a frame. The returned payload aliases frame.
func DecodeChunk(frame []byte) (Header, []byte, error) {
	var h Header
	if len(frame) < headerPrefixLen {
		return h, nil, fmt.Errorf("%w: short frame", ErrMalformedFrame)
	}
	n := binary.BigEndian.Uint32(frame)
	if n > maxHeaderLen || int(n) > len(frame)-headerPrefixLen {
		return h, nil, fmt.Errorf("%w: header length %d", ErrMalformedFrame, n)
	}
	if err := json.Unmarshal(frame[headerPrefixLen:headerPrefixLen+int(n)], &h); err != nil {
		return h, nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if h.Type != chunkType {
		return h, nil, fmt.Errorf("%w: type %q", ErrMalformedFrame, h.Type)
	}
	if h.Name == "" || h.TotalSize < 0 || h.ChunkIndex < 0 {
		return h, nil, fmt.Errorf("%w: bad header fields", ErrMalformedFrame)
	}
	return h, frame[headerPrefixLen+int(n):], nil
}
