package comm

import (
	"bytes"
	"context"
	"fmt"
	"sync"
)

// Local is one rank of an in-process group. Ranks of the same group share a
// rendezvous hub; a round completes once all of them called AllGather.
type Local struct {
	rank int
	hub  *hub
}

type hub struct {
	mu     sync.Mutex
	size   int
	cur    *round
	closed chan struct{}
	once   sync.Once
}

type round struct {
	parts   [][]byte
	seen    []bool
	arrived int
	done    chan struct{}
}

func newRound(n int) *round {
	return &round{
		parts: make([][]byte, n),
		seen:  make([]bool, n),
		done:  make(chan struct{}),
	}
}

// NewLocal returns the n ranks of a fresh in-process group.
func NewLocal(n int) []*Local {
	h := &hub{size: n, cur: newRound(n), closed: make(chan struct{})}
	ranks := make([]*Local, n)
	for i := range ranks {
		ranks[i] = &Local{rank: i, hub: h}
	}
	return ranks
}

func (l *Local) Rank() int { return l.rank }
func (l *Local) Size() int { return l.hub.size }

func (l *Local) AllGather(ctx context.Context, data []byte) ([][]byte, error) {
	h := l.hub

	h.mu.Lock()
	select {
	case <-h.closed:
		h.mu.Unlock()
		return nil, ErrClosed
	default:
	}
	r := h.cur
	if r.seen[l.rank] {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: rank %d joined the same round twice", ErrCountMismatch, l.rank)
	}
	r.seen[l.rank] = true
	r.parts[l.rank] = bytes.Clone(data)
	r.arrived++
	if r.arrived == h.size {
		h.cur = newRound(h.size)
		close(r.done)
	}
	h.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
		if h.withdraw(r, l.rank) {
			return nil, ctx.Err()
		}
	case <-h.closed:
		if !completed(r) {
			return nil, ErrClosed
		}
	}

	out := make([][]byte, len(r.parts))
	copy(out, r.parts)
	return out, nil
}

// withdraw takes rank's contribution back out of an open round so the rank
// can join again later. It reports false if the round already completed.
func (h *hub) withdraw(r *round, rank int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if completed(r) {
		return false
	}
	r.seen[rank] = false
	r.parts[rank] = nil
	r.arrived--
	return true
}

func completed(r *round) bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Close shuts the whole group down; ranks blocked in AllGather return
// ErrClosed.
func (l *Local) Close() error {
	l.hub.once.Do(func() { close(l.hub.closed) })
	return nil
}
