package comm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

type msgType uint8

const (
	msgHello   msgType = 0x01 // rank announces itself to the root
	msgWelcome msgType = 0x02 // root confirms the group is complete

	msgGather msgType = 0x10 // contribution to a collective round
	msgResult msgType = 0x11 // gathered contributions, sent by the root
)

// Every frame starts with a fixed 8 byte header:
// [Type:1][Flags:1][Rank:2][Len:4]
const frameHeaderSize = 8

// MaxFrameSize bounds a single payload.
const MaxFrameSize = 1 << 30

var (
	ErrFrameTooLarge = errors.New("comm: frame exceeds maximum size")
	ErrMalformed     = errors.New("comm: malformed frame")
)

type frame struct {
	Type    msgType
	Flags   uint8
	Rank    uint16
	Payload []byte
}

func (f *frame) encode(w io.Writer) error {
	if len(f.Payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(f.Payload))
	}

	var header [frameHeaderSize]byte
	header[0] = byte(f.Type)
	header[1] = f.Flags
	binary.BigEndian.PutUint16(header[2:4], f.Rank)
	binary.BigEndian.PutUint32(header[4:8], uint32(len(f.Payload)))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}

func readFrame(r io.Reader) (*frame, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(header[4:8])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	f := &frame{
		Type:  msgType(header[0]),
		Flags: header[1],
		Rank:  binary.BigEndian.Uint16(header[2:4]),
	}
	if n > 0 {
		f.Payload = make([]byte, n)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// packParts lays out gathered contributions as a count followed by
// length-prefixed blobs.
func packParts(parts [][]byte) []byte {
	size := 4
	for _, p := range parts {
		size += 4 + len(p)
	}
	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(parts)))
	for _, p := range parts {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(p)))
		buf = append(buf, p...)
	}
	return buf
}

func unpackParts(buf []byte) ([][]byte, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("%w: short result", ErrMalformed)
	}
	n := binary.BigEndian.Uint32(buf)
	buf = buf[4:]
	if uint64(n) > uint64(len(buf))/4 {
		return nil, fmt.Errorf("%w: %d parts in %d bytes", ErrMalformed, n, len(buf))
	}

	parts := make([][]byte, n)
	for i := range parts {
		if len(buf) < 4 {
			return nil, fmt.Errorf("%w: part %d header", ErrMalformed, i)
		}
		l := binary.BigEndian.Uint32(buf)
		buf = buf[4:]
		if uint64(l) > uint64(len(buf)) {
			return nil, fmt.Errorf("%w: part %d wants %d bytes, %d left", ErrMalformed, i, l, len(buf))
		}
		parts[i] = buf[:l:l]
		buf = buf[l:]
	}
	if len(buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(buf))
	}
	return parts, nil
}
