package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the fixed frame header length in bytes:
	// type (1) + flags (1) + payload length (2, big-endian).
	HeaderSize = 4

	// MaxPayload is the largest payload a frame can carry.
	MaxPayload = 65535
)

var (
	// ErrPayloadTooLarge indicates a payload above MaxPayload bytes.
	ErrPayloadTooLarge = errors.New("wire: payload too large")

	// ErrNeedMore indicates the buffer does not yet hold a complete
	// frame. No bytes were consumed.
	ErrNeedMore = errors.New("wire: need more data")

	// ErrUnknownType indicates a well-formed frame whose type byte is
	// outside the known set. The frame's bytes were consumed and the
	// caller should skip it.
	ErrUnknownType = errors.New("wire: unknown packet type")
)

// Frame is one TinyMQ protocol unit. Flags are packet-specific; the
// only current user is ADMIN_REQ_ACK, where flags carry the
// success/failure bit.
type Frame struct {
	Type    Type
	Flags   uint8
	Payload []byte
}

// NewFrame builds a frame with flags zero.
func NewFrame(t Type, payload []byte) *Frame {
	return &Frame{Type: t, Payload: payload}
}

// Encode serializes the frame into a fresh byte slice.
func (f *Frame) Encode() ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(f.Payload), MaxPayload)
	}
	buf := make([]byte, HeaderSize+len(f.Payload))
	buf[0] = byte(f.Type)
	buf[1] = f.Flags
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(f.Payload)))
	copy(buf[HeaderSize:], f.Payload)
	return buf, nil
}

// WriteTo writes the encoded frame to w. It implements io.WriterTo.
func (f *Frame) WriteTo(w io.Writer) (int64, error) {
	buf, err := f.Encode()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// Decode slices one frame off the front of buf.
//
// It returns the frame and the number of bytes consumed. ErrNeedMore
// means buf holds less than one complete frame and nothing was
// consumed. ErrUnknownType means a complete frame with an unknown type
// byte was consumed (n > 0) and should be skipped. The payload is
// copied, so the caller may compact buf immediately.
func Decode(buf []byte) (*Frame, int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, ErrNeedMore
	}
	length := int(binary.BigEndian.Uint16(buf[2:4]))
	total := HeaderSize + length
	if len(buf) < total {
		return nil, 0, ErrNeedMore
	}
	t := Type(buf[0])
	if !t.Valid() {
		return nil, total, fmt.Errorf("%w: 0x%02X", ErrUnknownType, buf[0])
	}
	payload := make([]byte, length)
	copy(payload, buf[HeaderSize:total])
	return &Frame{Type: t, Flags: buf[1], Payload: payload}, total, nil
}

// ReadFrame reads exactly one frame from r. Unlike Decode it blocks
// for the full frame, which suits tests and tools that own a
// dedicated connection. Unknown types return ErrUnknownType after the
// payload has been drained.
func ReadFrame(r io.Reader) (*Frame, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := int(binary.BigEndian.Uint16(header[2:4]))
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: short payload: %w", err)
	}
	t := Type(header[0])
	if !t.Valid() {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownType, header[0])
	}
	return &Frame{Type: t, Flags: header[1], Payload: payload}, nil
}
