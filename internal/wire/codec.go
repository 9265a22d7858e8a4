package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// HeaderSize is opcode (1) + payload length (2).
	HeaderSize = 3
	// MaxPayload bounds a single command body.
	MaxPayload = math.MaxUint16
)

var (
	ErrShortFrame     = errors.New("frame shorter than its header")
	ErrTruncated      = errors.New("payload truncated")
	ErrTrailingBytes  = errors.New("trailing bytes after payload")
	ErrUnknownOpcode  = errors.New("unknown opcode")
	ErrPayloadTooBig  = errors.New("payload exceeds maximum size")
	ErrStringTooLong  = errors.New("string exceeds maximum length")
	ErrTooManyMethods = errors.New("too many authentication methods")
)

type encoder struct {
	buf []byte
}

func (e *encoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encoder) u16(v uint16) { e.buf = binary.BigEndian.AppendUint16(e.buf, v) }
func (e *encoder) u32(v uint32) { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64) { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }

func (e *encoder) str(s string, max int) error {
	if len(s) > max {
		return fmt.Errorf("%w: %d > %d", ErrStringTooLong, len(s), max)
	}
	e.u8(uint8(len(s)))
	e.buf = append(e.buf, s...)
	return nil
}

// decoder keeps the first error and returns zero values afterwards.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if d.off+n > len(d.buf) {
		d.fail(fmt.Errorf("%w: need %d bytes at offset %d of %d", ErrTruncated, n, d.off, len(d.buf)))
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() uint8 {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) u16() uint16 {
	if b := d.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if b := d.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (d *decoder) str() string {
	n := int(d.u8())
	return string(d.take(n))
}

// Marshal frames a single message.
func Marshal(m Message) ([]byte, error) {
	return AppendFrame(nil, m)
}

// AppendFrame appends the framed message to buf.
func AppendFrame(buf []byte, m Message) ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, 32)}
	if err := m.encode(e); err != nil {
		return buf, fmt.Errorf("encode %s: %w", m.Opcode(), err)
	}
	if len(e.buf) > MaxPayload {
		return buf, fmt.Errorf("encode %s: %w", m.Opcode(), ErrPayloadTooBig)
	}
	buf = append(buf, uint8(m.Opcode()))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.buf)))
	return append(buf, e.buf...), nil
}

// Unmarshal decodes exactly one framed message.
func Unmarshal(data []byte) (Message, error) {
	m, n, err := next(data)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: %d", ErrTrailingBytes, len(data)-n)
	}
	return m, nil
}

// UnmarshalAll decodes every frame packed into data, in order.
func UnmarshalAll(data []byte) ([]Message, error) {
	var out []Message
	for len(data) > 0 {
		m, n, err := next(data)
		if err != nil {
			return out, err
		}
		out = append(out, m)
		data = data[n:]
	}
	return out, nil
}

func next(data []byte) (Message, int, error) {
	if len(data) < HeaderSize {
		return nil, 0, ErrShortFrame
	}
	op := Opcode(data[0])
	size := int(binary.BigEndian.Uint16(data[1:3]))
	if len(data) < HeaderSize+size {
		return nil, 0, fmt.Errorf("%s: %w", op, ErrTruncated)
	}
	m, err := newMessage(op)
	if err != nil {
		return nil, 0, err
	}
	d := &decoder{buf: data[HeaderSize : HeaderSize+size]}
	m.decode(d)
	if d.err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", op, d.err)
	}
	if d.off != size {
		return nil, 0, fmt.Errorf("decode %s: %w: %d", op, ErrTrailingBytes, size-d.off)
	}
	return m, HeaderSize + size, nil
}
