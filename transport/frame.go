package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/opd-ai/deliverycore/limits"
)

// ErrFrameTooLarge indicates a frame longer than limits.MaxRelayFrame.
var ErrFrameTooLarge = errors.New("relay frame too large")

// frameHeaderSize is the length prefix size.
const frameHeaderSize = 2

// writeFrame writes payload with a 2-byte big-endian length prefix.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > limits.MaxRelayFrame {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	buf := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf, uint16(len(payload)))
	copy(buf[frameHeaderSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed frame.
func readFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	size := int(binary.BigEndian.Uint16(header[:]))
	if size == 0 {
		return nil, fmt.Errorf("read frame: empty frame")
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return payload, nil
}
