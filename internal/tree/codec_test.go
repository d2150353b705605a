package tree

import (
	"bytes"
	"errors"
	"testing"

	"github.com/san-kum/nbody/internal/body"
	"gonum.org/v1/gonum/spatial/r2"
)

func TestCodecRoundTrip(t *testing.T) {
	bodies := randomBodies(50, 11)
	// a coincident pair forces a collapsed leaf into the encoding
	bodies = append(bodies,
		body.Body{ID: 50, Mass: 5, Position: r2.Vec{X: 1, Y: 1}},
		body.Body{ID: 51, Mass: 7, Position: r2.Vec{X: 1, Y: 1}},
	)
	tr := build(t, mustDomain(t, bodies), bodies)

	s := tr.Stats()
	if s.Depth < 3 || s.Empty == 0 || s.Leaves == 0 || s.Internal == 0 {
		t.Fatalf("test tree too shallow to exercise the codec: %+v", s)
	}

	data, err := tr.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Domain() != tr.Domain() {
		t.Errorf("domain %+v, want %+v", got.Domain(), tr.Domain())
	}
	if got.Stats() != s {
		t.Errorf("stats %+v, want %+v", got.Stats(), s)
	}
	for _, theta := range []float64{0, 0.3, 0.5, 1} {
		for _, b := range bodies {
			if got.Force(b, theta) != tr.Force(b, theta) {
				t.Fatalf("theta %v body %d: decoded force differs", theta, b.ID)
			}
		}
	}

	again, _ := got.MarshalBinary()
	if !bytes.Equal(again, data) {
		t.Error("re-encoding a decoded tree changed the bytes")
	}
}

func TestCodecEmptyTree(t *testing.T) {
	tr := New(body.Domain{Center: r2.Vec{X: 3, Y: -2}, Size: 4})
	data, _ := tr.MarshalBinary()

	var got Tree
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if got.Mass() != 0 || got.Domain() != tr.Domain() {
		t.Errorf("decoded empty tree: mass %v domain %+v", got.Mass(), got.Domain())
	}
}

func TestDecodeRejectsTruncation(t *testing.T) {
	bodies := randomBodies(12, 12)
	data, _ := build(t, mustDomain(t, bodies), bodies).MarshalBinary()

	for n := 0; n < len(data); n++ {
		if _, err := Decode(data[:n]); err == nil {
			t.Fatalf("prefix of %d/%d bytes decoded without error", n, len(data))
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	bodies := randomBodies(6, 13)
	valid, _ := build(t, mustDomain(t, bodies), bodies).MarshalBinary()

	header := append([]byte{'B', 'H', codecVersion}, make([]byte, 24)...)

	deep := append([]byte{}, header...)
	for i := 0; i <= MaxDepth; i++ {
		deep = append(deep, tagInternal)
		deep = append(deep, make([]byte, 24)...)
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"bad magic", append([]byte{'X'}, valid[1:]...), ErrBadMagic},
		{"bad version", append([]byte{'B', 'H', 99}, valid[3:]...), ErrBadMagic},
		{"short header", valid[:5], ErrTruncated},
		{"unknown tag", append(append([]byte{}, header...), 7), ErrUnknownTag},
		{"trailing bytes", append(append([]byte{}, valid...), 0), ErrTrailingBytes},
		{"empty leaf", append(append([]byte{}, header...), tagLeaf, 0), ErrBadLeaf},
		{"oversized leaf", append(append([]byte{}, header...), tagLeaf, 0x7f), ErrBadLeaf},
		{"too deep", deep, ErrTooDeep},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
