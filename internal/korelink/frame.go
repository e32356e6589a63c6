// Package korelink implements the persistent framed TCP link to the
// external controller ("Kore"): 3-byte header framing, an async read loop,
// a strictly-ordered outbound send queue, round-robin candidate ports, and
// backoff-with-jitter reconnect.
package korelink

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame kinds.
const (
	KindSend     byte = 0x53 // 'S' — client-sent data (observed, not forwarded; see DESIGN.md)
	KindRecv     byte = 0x52 // 'R' — client-received data, forwarded to Kore
	KindKeepAlive byte = 0x4B // 'K' — keep-alive, empty payload
)

// MaxPayload is the largest payload a frame may carry.
const MaxPayload = 65535

// HeaderSize is the fixed 3-byte frame header: kind(1) + length(2, LE).
const HeaderSize = 3

// ErrPayloadTooLarge is returned by EncodeFrame when payload exceeds
// MaxPayload.
var ErrPayloadTooLarge = errors.New("korelink: payload exceeds 65535 bytes")

// Codec is the wire-encoding extension seam: it transforms a frame's
// payload before it is written and after it is read. The current design
// only ever installs NoopCodec; the seam exists because the original
// implementation anticipated encoding the payload beyond raw framing.
type Codec interface {
	Encode(payload []byte) []byte
	Decode(payload []byte) []byte
}

// NoopCodec passes payloads through unchanged.
type NoopCodec struct{}

func (NoopCodec) Encode(payload []byte) []byte { return payload }
func (NoopCodec) Decode(payload []byte) []byte { return payload }

// EncodeFrame composes the wire buffer for kind/payload: 3-byte header
// followed by the payload bytes.
func EncodeFrame(kind byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: got %d", ErrPayloadTooLarge, len(payload))
	}
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = kind
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(payload)))
	copy(buf[3:], payload)
	return buf, nil
}

// DecodeHeader parses the 3-byte header into a kind and payload length.
func DecodeHeader(hdr [HeaderSize]byte) (kind byte, length uint16) {
	return hdr[0], binary.LittleEndian.Uint16(hdr[1:3])
}
