package tree

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/nbody/internal/body"
	"gonum.org/v1/gonum/spatial/r2"
)

// Wire layout, big-endian:
//
//	header   'B' 'H' version
//	domain   center.x center.y size        (float64 bits)
//	node     tag [payload]                  (pre-order)
//
//	tag 0    empty
//	tag 1    leaf: uvarint count, count × (varint id, mass, x, y), mass, com.x, com.y
//	tag 2    internal: mass, com.x, com.y, then NE NW SE SW children
//
// The format only has to round-trip within one run.
const (
	codecVersion = 1

	tagEmpty    = 0
	tagLeaf     = 1
	tagInternal = 2

	headerSize = 3 + 3*8
	// smallest possible encoded member: one-byte varint id plus three floats
	minMemberSize = 1 + 3*8
)

var (
	ErrBadMagic      = errors.New("tree: bad codec header")
	ErrTruncated     = errors.New("tree: truncated buffer")
	ErrUnknownTag    = errors.New("tree: unknown node tag")
	ErrTooDeep       = errors.New("tree: encoded tree exceeds max depth")
	ErrTrailingBytes = errors.New("tree: trailing bytes after tree")
	ErrBadLeaf       = errors.New("tree: malformed leaf")
)

// MarshalBinary encodes the tree. Floats are written bit for bit so a
// decoded tree yields identical forces.
func (t *Tree) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf = append(buf, 'B', 'H', codecVersion)
	buf = appendVec(buf, t.domain.Center)
	buf = appendFloat(buf, t.domain.Size)
	return appendNode(buf, t.root), nil
}

// UnmarshalBinary replaces t with the tree encoded in data.
func (t *Tree) UnmarshalBinary(data []byte) error {
	d, err := Decode(data)
	if err != nil {
		return err
	}
	*t = *d
	return nil
}

// Decode parses a buffer produced by MarshalBinary.
func Decode(data []byte) (*Tree, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d byte header", ErrTruncated, len(data))
	}
	if data[0] != 'B' || data[1] != 'H' || data[2] != codecVersion {
		return nil, ErrBadMagic
	}

	r := &reader{buf: data, off: 3}
	center, _ := r.vec()
	size, _ := r.float()

	root, err := r.node(0)
	if err != nil {
		return nil, err
	}
	if r.off != len(r.buf) {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingBytes, len(r.buf)-r.off)
	}
	return &Tree{domain: body.Domain{Center: center, Size: size}, root: root}, nil
}

func appendFloat(buf []byte, f float64) []byte {
	return binary.BigEndian.AppendUint64(buf, math.Float64bits(f))
}

func appendVec(buf []byte, v r2.Vec) []byte {
	return appendFloat(appendFloat(buf, v.X), v.Y)
}

func appendNode(buf []byte, n node) []byte {
	switch n := n.(type) {
	case empty:
		return append(buf, tagEmpty)
	case *leaf:
		buf = append(buf, tagLeaf)
		buf = binary.AppendUvarint(buf, uint64(len(n.members)))
		for _, m := range n.members {
			buf = binary.AppendVarint(buf, m.id)
			buf = appendFloat(buf, m.mass)
			buf = appendVec(buf, m.pos)
		}
		buf = appendFloat(buf, n.mass)
		return appendVec(buf, n.com)
	case *internal:
		buf = append(buf, tagInternal)
		buf = appendFloat(buf, n.mass)
		buf = appendVec(buf, n.com)
		for _, child := range n.children {
			buf = appendNode(buf, child)
		}
		return buf
	default:
		panic(unreachable(n))
	}
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) readByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, ErrTruncated
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) float() (float64, error) {
	if r.remaining() < 8 {
		return 0, ErrTruncated
	}
	f := math.Float64frombits(binary.BigEndian.Uint64(r.buf[r.off:]))
	r.off += 8
	return f, nil
}

func (r *reader) vec() (r2.Vec, error) {
	x, err := r.float()
	if err != nil {
		return r2.Vec{}, err
	}
	y, err := r.float()
	if err != nil {
		return r2.Vec{}, err
	}
	return r2.Vec{X: x, Y: y}, nil
}

func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		return 0, ErrTruncated
	}
	r.off += n
	return v, nil
}

func (r *reader) varint() (int64, error) {
	v, n := binary.Varint(r.buf[r.off:])
	if n <= 0 {
		return 0, ErrTruncated
	}
	r.off += n
	return v, nil
}

func (r *reader) node(depth int) (node, error) {
	tag, err := r.readByte()
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagEmpty:
		return empty{}, nil
	case tagLeaf:
		if depth > MaxDepth {
			return nil, ErrTooDeep
		}
		return r.leaf()
	case tagInternal:
		if depth >= MaxDepth {
			return nil, ErrTooDeep
		}
		n := &internal{}
		if n.mass, err = r.float(); err != nil {
			return nil, err
		}
		if n.com, err = r.vec(); err != nil {
			return nil, err
		}
		for q := range n.children {
			if n.children[q], err = r.node(depth + 1); err != nil {
				return nil, err
			}
		}
		return n, nil
	default:
		return nil, fmt.Errorf("%w: %d at offset %d", ErrUnknownTag, tag, r.off-1)
	}
}

func (r *reader) leaf() (*leaf, error) {
	count, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if count == 0 || count > uint64(r.remaining()/minMemberSize) {
		return nil, fmt.Errorf("%w: %d members", ErrBadLeaf, count)
	}

	l := &leaf{members: make([]member, count)}
	for i := range l.members {
		m := &l.members[i]
		if m.id, err = r.varint(); err != nil {
			return nil, err
		}
		if m.mass, err = r.float(); err != nil {
			return nil, err
		}
		if m.pos, err = r.vec(); err != nil {
			return nil, err
		}
	}
	if l.mass, err = r.float(); err != nil {
		return nil, err
	}
	if l.com, err = r.vec(); err != nil {
		return nil, err
	}
	return l, nil
}
