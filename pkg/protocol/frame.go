package protocol

import (
	"encoding/binary"
	"fmt"
)

// frameHeaderSize is the length of the binary frame prefix: a 4-byte
// big-endian sequence number.
const frameHeaderSize = 4

// EncodeFrame prepends the sequence number to payload, producing the binary
// wire form of one audio frame. Sequence numbers start at 1 per session and
// must be strictly increasing with no gaps.
func EncodeFrame(seq uint32, payload []byte) []byte {
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, seq)
	copy(buf[frameHeaderSize:], payload)
	return buf
}

// DecodeFrame splits a binary audio frame into its sequence number and PCM
// payload. The payload aliases data; callers must not retain data while the
// payload is in use.
func DecodeFrame(data []byte) (seq uint32, payload []byte, err error) {
	if len(data) < frameHeaderSize {
		return 0, nil, fmt.Errorf("protocol: frame too short: %d bytes", len(data))
	}
	seq = binary.BigEndian.Uint32(data)
	if seq == 0 {
		return 0, nil, fmt.Errorf("protocol: frame sequence must start at 1")
	}
	return seq, data[frameHeaderSize:], nil
}
