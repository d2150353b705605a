// Package comm provides the collective operations ranks use to stay in
// lock step: broadcast, fixed-size all-gather and variable-length
// all-gather. Every collective is built on Group.AllGather, so a transport
// only has to implement that one blocking round.
package comm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrCountMismatch = errors.New("comm: participant count mismatch")
	ErrPeerLost      = errors.New("comm: peer connection lost")
	ErrClosed        = errors.New("comm: group closed")
	ErrBadRank       = errors.New("comm: rank out of range")
)

// Group is a fixed set of ranks that take part in every collective.
type Group interface {
	Rank() int
	Size() int
	// AllGather blocks until every rank contributed and returns the
	// contributions ordered by rank. The returned slices must not be
	// modified.
	AllGather(ctx context.Context, data []byte) ([][]byte, error)
	Close() error
}

// Broadcast returns root's payload on every rank. Non-root data is ignored.
func Broadcast(ctx context.Context, g Group, root int, data []byte) ([]byte, error) {
	if root < 0 || root >= g.Size() {
		return nil, fmt.Errorf("%w: root %d of %d", ErrBadRank, root, g.Size())
	}
	if g.Rank() != root {
		data = nil
	}
	parts, err := g.AllGather(ctx, data)
	if err != nil {
		return nil, err
	}
	return parts[root], nil
}

// AllGatherFixed gathers equally sized contributions. A rank sending a
// different length fails the round on every rank.
func AllGatherFixed(ctx context.Context, g Group, send []byte) ([][]byte, error) {
	parts, err := g.AllGather(ctx, send)
	if err != nil {
		return nil, err
	}
	if len(parts) != g.Size() {
		return nil, fmt.Errorf("%w: %d contributions for %d ranks", ErrCountMismatch, len(parts), g.Size())
	}
	for r, p := range parts {
		if len(p) != len(send) {
			return nil, fmt.Errorf("%w: rank %d sent %d bytes, expected %d", ErrCountMismatch, r, len(p), len(send))
		}
	}
	return parts, nil
}

// AllGatherLengths exchanges one length per rank.
func AllGatherLengths(ctx context.Context, g Group, n int) ([]int, error) {
	if n < 0 {
		return nil, fmt.Errorf("comm: negative length %d", n)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))

	parts, err := AllGatherFixed(ctx, g, buf[:])
	if err != nil {
		return nil, err
	}
	counts := make([]int, len(parts))
	for r, p := range parts {
		counts[r] = int(binary.BigEndian.Uint64(p))
	}
	return counts, nil
}

// AllGatherV gathers variable-length contributions given the length table
// from AllGatherLengths. The result is the concatenation in rank order;
// rank r's bytes are recv[offsets[r]:offsets[r]+counts[r]].
func AllGatherV(ctx context.Context, g Group, send []byte, counts []int) (recv []byte, offsets []int, err error) {
	if len(counts) != g.Size() {
		return nil, nil, fmt.Errorf("%w: length table has %d entries for %d ranks", ErrCountMismatch, len(counts), g.Size())
	}
	if len(send) != counts[g.Rank()] {
		return nil, nil, fmt.Errorf("%w: sending %d bytes, table says %d", ErrCountMismatch, len(send), counts[g.Rank()])
	}

	parts, err := g.AllGather(ctx, send)
	if err != nil {
		return nil, nil, err
	}
	if len(parts) != len(counts) {
		return nil, nil, fmt.Errorf("%w: %d contributions for %d ranks", ErrCountMismatch, len(parts), len(counts))
	}

	offsets = Offsets(counts)
	total := 0
	for _, c := range counts {
		total += c
	}
	recv = make([]byte, 0, total)
	for r, p := range parts {
		if len(p) != counts[r] {
			return nil, nil, fmt.Errorf("%w: rank %d sent %d bytes, table says %d", ErrCountMismatch, r, len(p), counts[r])
		}
		recv = append(recv, p...)
	}
	return recv, offsets, nil
}

// Offsets returns the exclusive prefix sums of counts.
func Offsets(counts []int) []int {
	offsets := make([]int, len(counts))
	sum := 0
	for i, c := range counts {
		offsets[i] = sum
		sum += c
	}
	return offsets
}
