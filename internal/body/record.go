package body

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// RecordSize is the encoded size of one body: id, mass, position and
// velocity as big-endian 64-bit words.
const RecordSize = 48

var ErrRecordLength = errors.New("body: record buffer is not a multiple of the record size")

// MarshalRecords encodes bodies in the fixed transport layout used for the
// initial broadcast and the per-step redistribution.
func MarshalRecords(bodies []Body) []byte {
	buf := make([]byte, 0, len(bodies)*RecordSize)
	for _, b := range bodies {
		buf = binary.BigEndian.AppendUint64(buf, uint64(b.ID))
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(b.Mass))
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(b.Position.X))
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(b.Position.Y))
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(b.Velocity.X))
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(b.Velocity.Y))
	}
	return buf
}

// UnmarshalRecords decodes a buffer produced by MarshalRecords.
func UnmarshalRecords(data []byte) ([]Body, error) {
	if len(data)%RecordSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrRecordLength, len(data))
	}

	bodies := make([]Body, len(data)/RecordSize)
	for i := range bodies {
		rec := data[i*RecordSize : (i+1)*RecordSize]
		word := func(k int) float64 {
			return math.Float64frombits(binary.BigEndian.Uint64(rec[k*8:]))
		}
		bodies[i] = Body{
			ID:       int64(binary.BigEndian.Uint64(rec)),
			Mass:     word(1),
			Position: r2.Vec{X: word(2), Y: word(3)},
			Velocity: r2.Vec{X: word(4), Y: word(5)},
		}
	}
	return bodies, nil
}
