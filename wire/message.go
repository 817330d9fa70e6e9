// Package wire frames token messages over the HID byte stream. A
// message starts with two '#' bytes, a big-endian 16-bit kind and a
// big-endian 32-bit payload size, followed by the payload.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxPayloadSize caps incoming payloads. Anything bigger is a corrupt
// stream, not a real message.
const MaxPayloadSize = 1024 * 1024

var (
	ErrMalformedHeader = errors.New("malformed message header")
	ErrPayloadTooBig   = errors.New("message payload too big")
)

const headerMagic = '#'

type Message struct {
	Kind uint16
	Data []byte
}

// ReadFrom reads one message. Leading garbage before the first '#' is
// skipped; a '#' not followed by another '#' fails the read.
func (m *Message) ReadFrom(r io.Reader) (int64, error) {
	var (
		total int64
		buf   [6]byte
	)

	for {
		n, err := io.ReadFull(r, buf[:1])
		total += int64(n)
		if err != nil {
			return total, err
		}
		if buf[0] == headerMagic {
			break
		}
	}

	n, err := io.ReadFull(r, buf[:1])
	total += int64(n)
	if err != nil {
		return total, err
	}
	if buf[0] != headerMagic {
		return total, ErrMalformedHeader
	}

	n, err = io.ReadFull(r, buf[:6])
	total += int64(n)
	if err != nil {
		return total, err
	}

	m.Kind = binary.BigEndian.Uint16(buf[0:2])
	size := binary.BigEndian.Uint32(buf[2:6])
	if size > MaxPayloadSize {
		return total, fmt.Errorf("%w (%d bytes)", ErrPayloadTooBig, size)
	}

	m.Data = make([]byte, size)
	n, err = io.ReadFull(r, m.Data)
	total += int64(n)
	if err != nil {
		return total, err
	}
	return total, nil
}

// WriteTo writes the message in one framed piece.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	header := make([]byte, 8, 8+len(m.Data))
	header[0] = headerMagic
	header[1] = headerMagic
	binary.BigEndian.PutUint16(header[2:4], m.Kind)
	binary.BigEndian.PutUint32(header[4:8], uint32(len(m.Data)))

	n, err := w.Write(append(header, m.Data...))
	return int64(n), err
}
