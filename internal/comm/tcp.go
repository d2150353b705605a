package comm

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	bufferSize = 64 * 1024
	dialRetry  = 100 * time.Millisecond
)

// aLongTimeAgo is a deadline in the past; setting it unblocks pending I/O.
var aLongTimeAgo = time.Unix(1, 0)

// TCP is one rank of a group connected as a star through rank 0. Non-root
// ranks send each contribution to the root, which answers every rank with
// the gathered result.
type TCP struct {
	rank, size int
	logger     *log.Logger

	mu sync.Mutex // serialises collective rounds

	// rank 0 holds one peer per other rank (index 0 unused); other ranks
	// hold a single peer for the root.
	peers []*peer
}

type peer struct {
	rank int
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

func newPeer(rank int, conn net.Conn) *peer {
	return &peer{
		rank: rank,
		conn: conn,
		r:    bufio.NewReaderSize(conn, bufferSize),
		w:    bufio.NewWriterSize(conn, bufferSize),
	}
}

func (p *peer) send(f *frame) error {
	if err := f.encode(p.w); err != nil {
		return err
	}
	return p.w.Flush()
}

func (p *peer) recv(want msgType) (*frame, error) {
	f, err := readFrame(p.r)
	if err != nil {
		return nil, err
	}
	if f.Type != want {
		return nil, fmt.Errorf("%w: got message 0x%02x, want 0x%02x", ErrMalformed, f.Type, want)
	}
	return f, nil
}

func discard(logger *log.Logger) *log.Logger {
	if logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return logger
}

func checkSize(rank, size int) error {
	if size < 1 || size > 1<<16 {
		return fmt.Errorf("comm: group size %d out of range", size)
	}
	if rank < 0 || rank >= size {
		return fmt.Errorf("%w: %d of %d", ErrBadRank, rank, size)
	}
	return nil
}

// Listen opens addr and accepts the other size-1 ranks as rank 0.
func Listen(ctx context.Context, addr string, size int, logger *log.Logger) (*TCP, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return Accept(ctx, ln, size, logger)
}

// Accept builds rank 0 of a group on an open listener. It blocks until every
// other rank said hello, then welcomes them all. The listener is closed on
// return.
func Accept(ctx context.Context, ln net.Listener, size int, logger *log.Logger) (*TCP, error) {
	defer ln.Close()
	if err := checkSize(0, size); err != nil {
		return nil, err
	}
	t := &TCP{rank: 0, size: size, logger: discard(logger), peers: make([]*peer, size)}

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for joined := 1; joined < size; {
		conn, err := ln.Accept()
		if err != nil {
			t.Close()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}

		p := newPeer(-1, conn)
		rank, err := t.hello(ctx, p)
		if err != nil {
			t.logger.Printf("rejecting %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			if ctx.Err() != nil {
				t.Close()
				return nil, ctx.Err()
			}
			continue
		}
		p.rank = rank
		t.peers[rank] = p
		joined++
		t.logger.Printf("rank %d joined from %s (%d/%d)", rank, conn.RemoteAddr(), joined, size)
	}

	for _, p := range t.peers[1:] {
		if err := p.send(&frame{Type: msgWelcome, Payload: sizePayload(size)}); err != nil {
			t.Close()
			return nil, fmt.Errorf("%w: welcome rank %d: %v", ErrPeerLost, p.rank, err)
		}
	}
	return t, nil
}

func (t *TCP) hello(ctx context.Context, p *peer) (int, error) {
	stop := interrupt(ctx, p.conn)
	defer stop()

	f, err := p.recv(msgHello)
	if err != nil {
		return 0, err
	}
	rank := int(f.Rank)
	if len(f.Payload) != 4 || int(binary.BigEndian.Uint32(f.Payload)) != t.size {
		return 0, fmt.Errorf("%w: rank %d disagrees on group size", ErrCountMismatch, rank)
	}
	if rank == 0 || rank >= t.size {
		return 0, fmt.Errorf("%w: hello from rank %d", ErrBadRank, rank)
	}
	if t.peers[rank] != nil {
		return 0, fmt.Errorf("%w: rank %d joined twice", ErrBadRank, rank)
	}
	return rank, nil
}

// Dial joins the group at addr as rank. It keeps retrying until the root is
// reachable or ctx ends, and returns once the root reports every rank
// joined.
func Dial(ctx context.Context, addr string, rank, size int, logger *log.Logger) (*TCP, error) {
	if err := checkSize(rank, size); err != nil {
		return nil, err
	}
	if rank == 0 {
		return nil, fmt.Errorf("%w: rank 0 must Listen", ErrBadRank)
	}
	t := &TCP{rank: rank, size: size, logger: discard(logger)}

	var d net.Dialer
	var conn net.Conn
	for {
		var err error
		conn, err = d.DialContext(ctx, "tcp", addr)
		if err == nil {
			break
		}
		t.logger.Printf("dial %s: %v", addr, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialRetry):
		}
	}

	p := newPeer(0, conn)
	t.peers = []*peer{p}

	stop := interrupt(ctx, conn)
	defer stop()

	if err := p.send(&frame{Type: msgHello, Rank: uint16(rank), Payload: sizePayload(size)}); err != nil {
		conn.Close()
		return nil, t.ioError(ctx, 0, err)
	}
	if _, err := p.recv(msgWelcome); err != nil {
		conn.Close()
		return nil, t.ioError(ctx, 0, err)
	}
	t.logger.Printf("joined group of %d at %s", size, addr)
	return t, nil
}

func sizePayload(size int) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(size))
}

// interrupt applies ctx's deadline to conn and forces pending I/O to fail
// once ctx ends. The returned func detaches the watch.
func interrupt(ctx context.Context, conns ...net.Conn) func() {
	dl, _ := ctx.Deadline()
	for _, c := range conns {
		c.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() {
		for _, c := range conns {
			c.SetDeadline(aLongTimeAgo)
		}
	})
	return func() { stop() }
}

func (t *TCP) ioError(ctx context.Context, rank int, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	// the conn deadline can fire just before ctx notices its own
	if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
		return context.DeadlineExceeded
	}
	if errors.Is(err, ErrMalformed) || errors.Is(err, ErrFrameTooLarge) {
		return err
	}
	return fmt.Errorf("%w: rank %d: %v", ErrPeerLost, rank, err)
}

func (t *TCP) Rank() int { return t.rank }
func (t *TCP) Size() int { return t.size }

func (t *TCP) AllGather(ctx context.Context, data []byte) ([][]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.peers == nil {
		return nil, ErrClosed
	}
	var parts [][]byte
	var err error
	if t.rank == 0 {
		parts, err = t.gatherRoot(ctx, data)
	} else {
		parts, err = t.gatherLeaf(ctx, data)
	}
	if err != nil {
		// a failed round is fatal for the whole group
		t.logger.Printf("rank %d: collective failed: %v", t.rank, err)
		t.closeLocked()
		return nil, err
	}
	return parts, nil
}

func (t *TCP) conns() []net.Conn {
	var out []net.Conn
	for _, p := range t.peers {
		if p != nil {
			out = append(out, p.conn)
		}
	}
	return out
}

func (t *TCP) gatherRoot(ctx context.Context, data []byte) ([][]byte, error) {
	stop := interrupt(ctx, t.conns()...)
	defer stop()

	parts := make([][]byte, t.size)
	parts[0] = data

	var g errgroup.Group
	for _, p := range t.peers[1:] {
		g.Go(func() error {
			f, err := p.recv(msgGather)
			if err != nil {
				return t.ioError(ctx, p.rank, err)
			}
			if int(f.Rank) != p.rank {
				return fmt.Errorf("%w: rank %d sent as %d", ErrMalformed, p.rank, f.Rank)
			}
			parts[p.rank] = f.Payload
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &frame{Type: msgResult, Payload: packParts(parts)}
	var sends errgroup.Group
	for _, p := range t.peers[1:] {
		sends.Go(func() error {
			if err := p.send(result); err != nil {
				return t.ioError(ctx, p.rank, err)
			}
			return nil
		})
	}
	if err := sends.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}

func (t *TCP) gatherLeaf(ctx context.Context, data []byte) ([][]byte, error) {
	root := t.peers[0]
	stop := interrupt(ctx, root.conn)
	defer stop()

	if err := root.send(&frame{Type: msgGather, Rank: uint16(t.rank), Payload: data}); err != nil {
		return nil, t.ioError(ctx, 0, err)
	}
	f, err := root.recv(msgResult)
	if err != nil {
		return nil, t.ioError(ctx, 0, err)
	}
	parts, err := unpackParts(f.Payload)
	if err != nil {
		return nil, err
	}
	if len(parts) != t.size {
		return nil, fmt.Errorf("%w: %d contributions for %d ranks", ErrCountMismatch, len(parts), t.size)
	}
	return parts, nil
}

// Close tears down every connection. A closed group cannot be reused.
func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeLocked()
}

func (t *TCP) closeLocked() error {
	var errs []error
	for _, p := range t.peers {
		if p != nil {
			errs = append(errs, p.conn.Close())
		}
	}
	t.peers = nil
	return errors.Join(errs...)
}
