package comm_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/nbody/internal/comm"
)

// onAll runs fn on every rank concurrently and collects the results by rank.
func onAll[T any](groups []comm.Group, fn func(g comm.Group) (T, error)) ([]T, []error) {
	out := make([]T, len(groups))
	errs := make([]error, len(groups))
	var wg sync.WaitGroup
	for i, g := range groups {
		wg.Add(1)
		go func() {
			defer GinkgoRecover()
			defer wg.Done()
			out[i], errs[i] = fn(g)
		}()
	}
	wg.Wait()
	return out, errs
}

func asGroups(ls []*comm.Local) []comm.Group {
	gs := make([]comm.Group, len(ls))
	for i, l := range ls {
		gs[i] = l
	}
	return gs
}

var _ = Describe("Local group", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		groups []comm.Group
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		groups = asGroups(comm.NewLocal(4))
	})

	AfterEach(func() {
		cancel()
		groups[0].Close()
	})

	It("numbers its ranks", func() {
		for i, g := range groups {
			Expect(g.Rank()).To(Equal(i))
			Expect(g.Size()).To(Equal(4))
		}
	})

	It("gathers contributions in rank order", func() {
		parts, errs := onAll(groups, func(g comm.Group) ([][]byte, error) {
			return g.AllGather(ctx, []byte(fmt.Sprintf("rank-%d", g.Rank())))
		})
		for r := range groups {
			Expect(errs[r]).NotTo(HaveOccurred())
			Expect(parts[r]).To(Equal([][]byte{
				[]byte("rank-0"), []byte("rank-1"), []byte("rank-2"), []byte("rank-3"),
			}))
		}
	})

	It("keeps consecutive rounds apart", func() {
		const rounds = 50
		sums, errs := onAll(groups, func(g comm.Group) ([]int, error) {
			var seen []int
			for i := 0; i < rounds; i++ {
				parts, err := g.AllGather(ctx, []byte{byte(i), byte(g.Rank())})
				if err != nil {
					return nil, err
				}
				for r, p := range parts {
					if int(p[0]) != i || int(p[1]) != r {
						return nil, fmt.Errorf("round %d: rank %d sent %v", i, r, p)
					}
				}
				seen = append(seen, i)
			}
			return seen, nil
		})
		for r := range groups {
			Expect(errs[r]).NotTo(HaveOccurred())
			Expect(sums[r]).To(HaveLen(rounds))
		}
	})

	It("copies the caller's buffer", func() {
		parts, errs := onAll(groups, func(g comm.Group) ([][]byte, error) {
			buf := []byte{byte(g.Rank())}
			parts, err := g.AllGather(ctx, buf)
			buf[0] = 99
			return parts, err
		})
		for r := range groups {
			Expect(errs[r]).NotTo(HaveOccurred())
			for src, p := range parts[r] {
				Expect(p).To(Equal([]byte{byte(src)}))
			}
		}
	})

	It("broadcasts the root's payload", func() {
		got, errs := onAll(groups, func(g comm.Group) ([]byte, error) {
			return comm.Broadcast(ctx, g, 2, []byte(fmt.Sprintf("from %d", g.Rank())))
		})
		for r := range groups {
			Expect(errs[r]).NotTo(HaveOccurred())
			Expect(string(got[r])).To(Equal("from 2"))
		}
	})

	It("rejects a broadcast root outside the group", func() {
		_, err := comm.Broadcast(ctx, groups[0], 7, nil)
		Expect(err).To(MatchError(comm.ErrBadRank))
	})

	It("exchanges lengths and variable payloads", func() {
		type result struct {
			counts  []int
			recv    []byte
			offsets []int
		}
		got, errs := onAll(groups, func(g comm.Group) (result, error) {
			send := make([]byte, g.Rank()+1)
			for i := range send {
				send[i] = byte(g.Rank())
			}
			counts, err := comm.AllGatherLengths(ctx, g, len(send))
			if err != nil {
				return result{}, err
			}
			recv, offsets, err := comm.AllGatherV(ctx, g, send, counts)
			return result{counts, recv, offsets}, err
		})

		for r := range groups {
			Expect(errs[r]).NotTo(HaveOccurred())
			Expect(got[r].counts).To(Equal([]int{1, 2, 3, 4}))
			Expect(got[r].offsets).To(Equal([]int{0, 1, 3, 6}))
			Expect(got[r].recv).To(Equal([]byte{0, 1, 1, 2, 2, 2, 3, 3, 3, 3}))
		}
	})

	It("fails a variable gather whose table disagrees with the data", func() {
		_, errs := onAll(groups, func(g comm.Group) ([]byte, error) {
			send := []byte{1, 2}
			counts := []int{2, 2, 2, 2}
			if g.Rank() == 3 {
				counts = []int{5, 2, 2, 2}
			}
			recv, _, err := comm.AllGatherV(ctx, g, send, counts)
			return recv, err
		})
		Expect(errs[0]).NotTo(HaveOccurred())
		Expect(errs[3]).To(MatchError(comm.ErrCountMismatch))
	})

	It("fails a fixed gather with uneven contributions", func() {
		_, errs := onAll(groups, func(g comm.Group) ([][]byte, error) {
			return comm.AllGatherFixed(ctx, g, make([]byte, 4+g.Rank()%2))
		})
		for _, err := range errs {
			Expect(err).To(MatchError(comm.ErrCountMismatch))
		}
	})

	It("blocks until the context ends when a rank is missing", func() {
		short, stop := context.WithTimeout(ctx, 50*time.Millisecond)
		defer stop()

		_, errs := onAll(groups[:3], func(g comm.Group) ([][]byte, error) {
			return g.AllGather(short, nil)
		})
		for _, err := range errs {
			Expect(err).To(MatchError(context.DeadlineExceeded))
		}
	})

	It("lets a rank rejoin after a cancelled gather", func() {
		short, stop := context.WithTimeout(ctx, 20*time.Millisecond)
		defer stop()

		_, err := groups[0].AllGather(short, []byte{9})
		Expect(err).To(MatchError(context.DeadlineExceeded))

		out, errs := onAll(groups, func(g comm.Group) ([][]byte, error) {
			return g.AllGather(ctx, []byte{byte(g.Rank())})
		})
		for i, err := range errs {
			Expect(err).NotTo(HaveOccurred())
			Expect(out[i]).To(Equal([][]byte{{0}, {1}, {2}, {3}}))
		}
	})

	It("releases waiters on close", func() {
		done := make(chan error, 1)
		go func() {
			_, err := groups[1].AllGather(ctx, nil)
			done <- err
		}()
		Consistently(done, 20*time.Millisecond).ShouldNot(Receive())

		Expect(groups[0].Close()).To(Succeed())
		Eventually(done).Should(Receive(MatchError(comm.ErrClosed)))

		_, err := groups[2].AllGather(ctx, nil)
		Expect(err).To(MatchError(comm.ErrClosed))
	})
})

var _ = Describe("Offsets", func() {
	DescribeTable("prefix sums",
		func(counts, want []int) {
			Expect(comm.Offsets(counts)).To(Equal(want))
		},
		Entry("empty", []int{}, []int{}),
		Entry("single", []int{7}, []int{0}),
		Entry("mixed", []int{3, 0, 5, 1}, []int{0, 3, 3, 8}),
	)
})
