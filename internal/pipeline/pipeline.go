// Package pipeline runs one distributed Barnes-Hut step: every rank builds a
// tree of its own bodies in parallel shards, trees are exchanged so that
// each rank holds the global tree, and local bodies are advanced against it.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/san-kum/nbody/internal/body"
	"github.com/san-kum/nbody/internal/comm"
	"github.com/san-kum/nbody/internal/tree"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Dt      float64
	Theta   float64
	Threads int
}

func (c Config) Validate() error {
	if c.Dt <= 0 {
		return fmt.Errorf("%w: dt must be > 0, got %v", ErrInvalidConfig, c.Dt)
	}
	if c.Theta < 0 {
		return fmt.Errorf("%w: theta must be >= 0, got %v", ErrInvalidConfig, c.Theta)
	}
	if c.Threads < 1 {
		return fmt.Errorf("%w: threads must be >= 1, got %d", ErrInvalidConfig, c.Threads)
	}
	return nil
}

// Timings are the wall-clock durations of one step's phases.
type Timings struct {
	Build    time.Duration // shard build and local merge
	Exchange time.Duration // encode, all-gather, decode and peer merge
	Force    time.Duration // force evaluation and integration
}

// Pipeline is owned by a single rank and is not safe for concurrent use.
type Pipeline struct {
	group  comm.Group
	cfg    Config
	logger *log.Logger

	next int // index of the next Step
	cur  int // index of the last Step, used when reporting failures
}

func New(group comm.Group, cfg Config, logger *log.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Pipeline{group: group, cfg: cfg, logger: logger}, nil
}

func (p *Pipeline) Config() Config { return p.cfg }

func (p *Pipeline) fail(phase string, err error) error {
	p.logger.Printf("step %d: %s failed: %v", p.cur, phase, err)
	return &PhaseError{Phase: phase, Rank: p.group.Rank(), Step: p.cur, Err: err}
}

// Step advances local by one timestep. all is the full replicated
// population from the previous step and only fixes the shared domain.
func (p *Pipeline) Step(ctx context.Context, all, local []body.Body) ([]body.Body, Timings, error) {
	p.cur = p.next
	p.next++
	var tm Timings

	domain, err := body.Bounds(all)
	if err != nil {
		return nil, tm, p.fail("bounds", err)
	}

	start := time.Now()
	t, err := p.build(ctx, domain, local)
	if err != nil {
		return nil, tm, p.fail("build", err)
	}
	tm.Build = time.Since(start)

	if p.group.Size() > 1 {
		start = time.Now()
		if err := p.exchange(ctx, t); err != nil {
			return nil, tm, err
		}
		tm.Exchange = time.Since(start)
	}

	start = time.Now()
	out, err := p.integrate(ctx, t, local)
	if err != nil {
		return nil, tm, p.fail("force", err)
	}
	tm.Force = time.Since(start)

	return out, tm, nil
}

// build inserts each shard of local into its own tree and folds the partial
// trees together in shard order.
func (p *Pipeline) build(ctx context.Context, domain body.Domain, local []body.Body) (*tree.Tree, error) {
	_, count := chunks(len(local), p.cfg.Threads)
	partial := make([]*tree.Tree, count)

	err := ParallelFor(ctx, len(local), p.cfg.Threads, func(shard, start, end int) error {
		t := tree.New(domain)
		for _, b := range local[start:end] {
			t.Insert(b)
		}
		partial[shard] = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	root := tree.New(domain)
	for _, t := range partial {
		if err := root.Merge(t); err != nil {
			return nil, err
		}
	}
	return root, nil
}

// exchange makes t the global tree by gathering and merging every peer's.
func (p *Pipeline) exchange(ctx context.Context, t *tree.Tree) error {
	g := p.group

	data, err := t.MarshalBinary()
	if err != nil {
		return p.fail("encode", err)
	}
	counts, err := comm.AllGatherLengths(ctx, g, len(data))
	if err != nil {
		return p.fail("exchange", err)
	}
	recv, offsets, err := comm.AllGatherV(ctx, g, data, counts)
	if err != nil {
		return p.fail("exchange", err)
	}

	peers := make([]*tree.Tree, g.Size())
	var eg errgroup.Group
	eg.SetLimit(p.cfg.Threads)
	for r := range peers {
		if r == g.Rank() {
			continue
		}
		eg.Go(func() error {
			pt, err := tree.Decode(recv[offsets[r] : offsets[r]+counts[r]])
			if err != nil {
				return fmt.Errorf("rank %d: %w", r, err)
			}
			peers[r] = pt
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return p.fail("decode", err)
	}

	for r, pt := range peers {
		if pt == nil {
			continue
		}
		if err := t.Merge(pt); err != nil {
			return p.fail(fmt.Sprintf("merge rank %d", r), err)
		}
	}
	return nil
}

func (p *Pipeline) integrate(ctx context.Context, t *tree.Tree, local []body.Body) ([]body.Body, error) {
	out := make([]body.Body, len(local))
	err := ParallelFor(ctx, len(local), p.cfg.Threads, func(_, start, end int) error {
		for i := start; i < end; i++ {
			b := local[i]
			if b.IsPadding() {
				out[i] = b
				continue
			}
			out[i] = body.Advance(b, t.Force(b, p.cfg.Theta), p.cfg.Dt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Redistribute all-gathers every rank's local bodies and returns the full
// population ordered by rank. It must be called with the same local length
// on every rank.
func (p *Pipeline) Redistribute(ctx context.Context, local []body.Body) ([]body.Body, time.Duration, error) {
	start := time.Now()

	parts, err := comm.AllGatherFixed(ctx, p.group, body.MarshalRecords(local))
	if err != nil {
		return nil, 0, p.fail("redistribute", err)
	}

	all := make([]body.Body, 0, len(local)*len(parts))
	for r, part := range parts {
		bodies, err := body.UnmarshalRecords(part)
		if err != nil {
			return nil, 0, p.fail("redistribute", fmt.Errorf("rank %d: %w", r, err))
		}
		all = append(all, bodies...)
	}
	return all, time.Since(start), nil
}
