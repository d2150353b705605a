package comm_test

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/nbody/internal/comm"
)

func startTCP(ctx context.Context, size int) []comm.Group {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	addr := ln.Addr().String()

	groups := make([]comm.Group, size)
	errs := make([]error, size)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		var t *comm.TCP
		t, errs[0] = comm.Accept(ctx, ln, size, nil)
		if t != nil {
			groups[0] = t
		}
	}()
	for r := 1; r < size; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var t *comm.TCP
			t, errs[r] = comm.Dial(ctx, addr, r, size, nil)
			if t != nil {
				groups[r] = t
			}
		}()
	}
	wg.Wait()

	for _, err := range errs {
		Expect(err).NotTo(HaveOccurred())
	}
	return groups
}

var _ = Describe("TCP group", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		groups []comm.Group
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		groups = startTCP(ctx, 3)
	})

	AfterEach(func() {
		for _, g := range groups {
			g.Close()
		}
		cancel()
	})

	It("assigns the dialled ranks", func() {
		for i, g := range groups {
			Expect(g.Rank()).To(Equal(i))
			Expect(g.Size()).To(Equal(3))
		}
	})

	It("gathers contributions in rank order across rounds", func() {
		_, errs := onAll(groups, func(g comm.Group) (struct{}, error) {
			for round := 0; round < 20; round++ {
				parts, err := g.AllGather(ctx, []byte(fmt.Sprintf("%d/%d", round, g.Rank())))
				if err != nil {
					return struct{}{}, err
				}
				for r, p := range parts {
					if want := fmt.Sprintf("%d/%d", round, r); string(p) != want {
						return struct{}{}, fmt.Errorf("round %d: got %q, want %q", round, p, want)
					}
				}
			}
			return struct{}{}, nil
		})
		for _, err := range errs {
			Expect(err).NotTo(HaveOccurred())
		}
	})

	It("carries empty and large payloads", func() {
		big := make([]byte, 300*1024)
		for i := range big {
			big[i] = byte(i)
		}
		got, errs := onAll(groups, func(g comm.Group) ([][]byte, error) {
			if g.Rank() == 1 {
				return g.AllGather(ctx, big)
			}
			return g.AllGather(ctx, nil)
		})
		for r := range groups {
			Expect(errs[r]).NotTo(HaveOccurred())
			Expect(got[r][0]).To(BeEmpty())
			Expect(got[r][1]).To(Equal(big))
			Expect(got[r][2]).To(BeEmpty())
		}
	})

	It("runs the variable-length exchange", func() {
		got, errs := onAll(groups, func(g comm.Group) ([]byte, error) {
			send := []byte(fmt.Sprintf("tree-%d!", g.Rank()*11))
			counts, err := comm.AllGatherLengths(ctx, g, len(send))
			if err != nil {
				return nil, err
			}
			recv, _, err := comm.AllGatherV(ctx, g, send, counts)
			return recv, err
		})
		for r := range groups {
			Expect(errs[r]).NotTo(HaveOccurred())
			Expect(string(got[r])).To(Equal("tree-0!tree-11!tree-22!"))
		}
	})

	It("broadcasts from rank 0", func() {
		got, errs := onAll(groups, func(g comm.Group) ([]byte, error) {
			return comm.Broadcast(ctx, g, 0, []byte("initial state"))
		})
		for r := range groups {
			Expect(errs[r]).NotTo(HaveOccurred())
			Expect(string(got[r])).To(Equal("initial state"))
		}
	})

	It("reports a lost peer", func() {
		Expect(groups[2].Close()).To(Succeed())

		_, errs := onAll(groups[:2], func(g comm.Group) ([][]byte, error) {
			return g.AllGather(ctx, []byte("x"))
		})
		Expect(errs[0]).To(MatchError(comm.ErrPeerLost))
		Expect(errs[1]).To(HaveOccurred())
	})

	It("gives up at the context deadline when a rank stays away", func() {
		short, stop := context.WithTimeout(ctx, 100*time.Millisecond)
		defer stop()

		_, errs := onAll(groups[:2], func(g comm.Group) ([][]byte, error) {
			return g.AllGather(short, nil)
		})
		Expect(errs[0]).To(MatchError(context.DeadlineExceeded))
		Expect(errs[1]).To(MatchError(context.DeadlineExceeded))
	})

	It("refuses to gather after close", func() {
		Expect(groups[1].Close()).To(Succeed())
		_, err := groups[1].AllGather(ctx, nil)
		Expect(err).To(MatchError(comm.ErrClosed))
	})
})

var _ = Describe("TCP bootstrap", func() {
	It("times out when a rank never dials", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())

		_, err = comm.Accept(ctx, ln, 2, nil)
		Expect(err).To(MatchError(context.DeadlineExceeded))
	})

	It("rejects rank 0 dialling", func() {
		_, err := comm.Dial(context.Background(), "127.0.0.1:1", 0, 2, nil)
		Expect(err).To(MatchError(comm.ErrBadRank))
	})

	It("rejects a rank outside the group", func() {
		_, err := comm.Dial(context.Background(), "127.0.0.1:1", 3, 2, nil)
		Expect(err).To(MatchError(comm.ErrBadRank))
	})

	It("keeps dialling until the root listens", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// reserve a port, release it, and bring the root up late
		probe, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		addr := probe.Addr().String()
		probe.Close()

		dialed := make(chan error, 1)
		go func() {
			t, err := comm.Dial(ctx, addr, 1, 2, nil)
			if t != nil {
				defer t.Close()
			}
			dialed <- err
		}()

		time.Sleep(250 * time.Millisecond)
		root, err := comm.Listen(ctx, addr, 2, nil)
		Expect(err).NotTo(HaveOccurred())
		defer root.Close()

		Eventually(dialed, 2*time.Second).Should(Receive(BeNil()))
	})
})
