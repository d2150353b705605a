package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/san-kum/nbody/internal/body"
	"github.com/san-kum/nbody/internal/comm"
	"github.com/san-kum/nbody/internal/tree"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r2"
)

func population(n, procs int, seed uint64) ([]body.Body, int) {
	bodies := body.Generate(n, body.GenConfig{MassMax: 1e3, PosMax: 1e2, VelocityMax: 1}, seed)
	return body.Pad(bodies, procs)
}

// stepAll runs one Step plus Redistribute on every rank of a local group
// and returns rank 0's view of the new population.
func stepAll(t *testing.T, all []body.Body, perProc, procs int, cfg Config) []body.Body {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	groups := comm.NewLocal(procs)
	results := make([][]body.Body, procs)
	errs := make([]error, procs)

	var wg sync.WaitGroup
	for r, g := range groups {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := New(g, cfg, nil)
			if err != nil {
				errs[r] = err
				return
			}
			local, _, err := p.Step(ctx, all, body.Local(all, r, perProc))
			if err != nil {
				errs[r] = err
				return
			}
			results[r], _, errs[r] = p.Redistribute(ctx, local)
		}()
	}
	wg.Wait()

	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", r, err)
		}
	}
	for r := 1; r < procs; r++ {
		for i := range results[0] {
			if results[r][i] != results[0][i] {
				t.Fatalf("rank %d disagrees with rank 0 on body %d", r, i)
			}
		}
	}
	return results[0]
}

func TestChunks(t *testing.T) {
	tests := []struct {
		n, workers  int
		size, count int
	}{
		{0, 4, 0, 0},
		{1, 4, 1, 1},
		{10, 1, 10, 1},
		{10, 4, 3, 4},
		{5, 4, 2, 3},
		{8, 4, 2, 4},
		{3, 0, 3, 1},
	}

	for _, tt := range tests {
		size, count := chunks(tt.n, tt.workers)
		if size != tt.size || count != tt.count {
			t.Errorf("chunks(%d, %d) = %d, %d; want %d, %d", tt.n, tt.workers, size, count, tt.size, tt.count)
		}
	}
}

func TestParallelForCoversRange(t *testing.T) {
	seen := make([]int, 103)
	err := ParallelFor(context.Background(), len(seen), 7, func(_, start, end int) error {
		for i := start; i < end; i++ {
			seen[i]++
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, c := range seen {
		if c != 1 {
			t.Fatalf("index %d visited %d times", i, c)
		}
	}
}

func TestParallelForStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	err := ParallelFor(context.Background(), 100, 4, func(shard, _, _ int) error {
		if shard == 2 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero dt", Config{Dt: 0, Theta: 0.5, Threads: 1}},
		{"negative dt", Config{Dt: -1, Theta: 0.5, Threads: 1}},
		{"negative theta", Config{Dt: 0.1, Theta: -0.1, Threads: 1}},
		{"no threads", Config{Dt: 0.1, Theta: 0.5, Threads: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(comm.NewLocal(1)[0], tt.cfg, nil); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}

	if err := (Config{Dt: 0.1, Theta: 0, Threads: 1}).Validate(); err != nil {
		t.Errorf("theta 0 should be valid: %v", err)
	}
}

func TestTwoBodyScenario(t *testing.T) {
	all := []body.Body{
		{ID: 0, Mass: 1e10, Position: r2.Vec{X: 0, Y: 0}},
		{ID: 1, Mass: 1e10, Position: r2.Vec{X: 10, Y: 0}},
	}
	got := stepAll(t, all, 2, 1, Config{Dt: 1, Theta: 0, Threads: 1})

	force := body.G * 1e10 * 1e10 / 100
	speed := force / 1e10

	for i, b := range got {
		if !scalar.EqualWithinRel(r2.Norm(b.Velocity), speed, 1e-12) {
			t.Errorf("body %d: |v| = %v, want %v", i, r2.Norm(b.Velocity), speed)
		}
		if b.Velocity.Y != 0 {
			t.Errorf("body %d: velocity leaves the x axis: %v", i, b.Velocity)
		}
	}
	if got[0].Velocity.X <= 0 || got[1].Velocity.X >= 0 {
		t.Errorf("bodies should move toward each other: %v, %v", got[0].Velocity, got[1].Velocity)
	}
	if got[0].Velocity.X != -got[1].Velocity.X {
		t.Errorf("velocities are not opposite: %v, %v", got[0].Velocity, got[1].Velocity)
	}
	if got[0].Position.X != got[0].Velocity.X {
		t.Errorf("x' = x + v'dt violated: %v vs %v", got[0].Position, got[0].Velocity)
	}
}

func TestDistributedMatchesSingleRank(t *testing.T) {
	const n = 61

	// theta 0 sums leaves in a fixed traversal order, so the distributed
	// result has to match bit for bit
	for _, procs := range []int{2, 3, 4} {
		all, perProc := population(n, procs, 21)
		single := stepAll(t, all, len(all), 1, Config{Dt: 0.1, Theta: 0, Threads: 1})
		multi := stepAll(t, all, perProc, procs, Config{Dt: 0.1, Theta: 0, Threads: 3})

		for i := range all {
			if multi[i] != single[i] {
				t.Fatalf("procs %d, body %d: %+v != %+v", procs, i, multi[i], single[i])
			}
		}
	}

	all, perProc := population(n, 3, 22)
	single := stepAll(t, all, len(all), 1, Config{Dt: 0.1, Theta: 0.5, Threads: 1})
	multi := stepAll(t, all, perProc, 3, Config{Dt: 0.1, Theta: 0.5, Threads: 2})
	for i := range all {
		a, b := multi[i].Position, single[i].Position
		if !scalar.EqualWithinAbsOrRel(a.X, b.X, 1e-9, 1e-9) || !scalar.EqualWithinAbsOrRel(a.Y, b.Y, 1e-9, 1e-9) {
			t.Fatalf("theta 0.5, body %d: %v vs %v", i, a, b)
		}
	}
}

func TestThreadCountDoesNotChangeResult(t *testing.T) {
	all, _ := population(50, 1, 23)
	base := stepAll(t, all, len(all), 1, Config{Dt: 0.05, Theta: 0, Threads: 1})

	for _, threads := range []int{2, 5, 64} {
		got := stepAll(t, all, len(all), 1, Config{Dt: 0.05, Theta: 0, Threads: threads})
		for i := range base {
			if got[i] != base[i] {
				t.Fatalf("threads %d, body %d differs", threads, i)
			}
		}
	}
}

func TestPaddingLeftUntouched(t *testing.T) {
	all, perProc := population(10, 4, 24)
	if len(all) != 12 {
		t.Fatalf("expected 2 padding bodies, got %d total", len(all))
	}

	got := stepAll(t, all, perProc, 4, Config{Dt: 0.1, Theta: 0.5, Threads: 2})
	for i := 10; i < 12; i++ {
		if got[i] != all[i] {
			t.Errorf("padding body %d changed: %+v", i, got[i])
		}
	}
	for i := 0; i < 10; i++ {
		if got[i].Position == all[i].Position {
			t.Errorf("body %d did not move", i)
		}
	}
}

func TestRedistributeOrdersByRank(t *testing.T) {
	ctx := context.Background()
	groups := comm.NewLocal(3)
	results := make([][]body.Body, 3)
	errs := make([]error, 3)

	var wg sync.WaitGroup
	for r, g := range groups {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, _ := New(g, Config{Dt: 1, Threads: 1}, nil)
			local := []body.Body{
				{ID: int64(2 * r), Mass: float64(r + 1)},
				{ID: int64(2*r + 1), Mass: float64(r + 1)},
			}
			results[r], _, errs[r] = p.Redistribute(ctx, local)
		}()
	}
	wg.Wait()

	for r := range groups {
		if errs[r] != nil {
			t.Fatalf("rank %d: %v", r, errs[r])
		}
		for i, b := range results[r] {
			if b.ID != int64(i) {
				t.Errorf("rank %d: position %d holds body %d", r, i, b.ID)
			}
		}
	}
}

// scripted is a two-rank group whose peer answers with fixed payloads.
type scripted struct {
	peer  [][]byte
	round int
}

func (s *scripted) Rank() int    { return 0 }
func (s *scripted) Size() int    { return 2 }
func (s *scripted) Close() error { return nil }

func (s *scripted) AllGather(_ context.Context, data []byte) ([][]byte, error) {
	p := s.peer[s.round]
	s.round++
	return [][]byte{data, p}, nil
}

func TestCorruptPeerTreeIsFatal(t *testing.T) {
	garbage := []byte{'B', 'H', 1, 0, 0}
	length := binary.BigEndian.AppendUint64(nil, uint64(len(garbage)))
	g := &scripted{peer: [][]byte{length, garbage}}

	p, err := New(g, Config{Dt: 0.1, Theta: 0.5, Threads: 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	all, _ := population(8, 1, 25)
	_, _, err = p.Step(context.Background(), all, all)

	var pe *PhaseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PhaseError, got %v", err)
	}
	if pe.Phase != "decode" || pe.Step != 0 || pe.Rank != 0 {
		t.Errorf("unexpected phase error %+v", pe)
	}
	if !errors.Is(err, tree.ErrTruncated) {
		t.Errorf("expected the decode cause, got %v", err)
	}
}

func TestLengthMismatchIsFatal(t *testing.T) {
	// peer claims 100 bytes but sends 3
	length := binary.BigEndian.AppendUint64(nil, 100)
	g := &scripted{peer: [][]byte{length, {1, 2, 3}}}

	p, _ := New(g, Config{Dt: 0.1, Theta: 0.5, Threads: 1}, nil)
	all, _ := population(4, 1, 26)
	_, _, err := p.Step(context.Background(), all, all)

	var pe *PhaseError
	if !errors.As(err, &pe) || pe.Phase != "exchange" {
		t.Fatalf("expected exchange PhaseError, got %v", err)
	}
	if !errors.Is(err, comm.ErrCountMismatch) {
		t.Errorf("expected ErrCountMismatch, got %v", err)
	}
}

func TestStepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// the second rank never shows up
	g := comm.NewLocal(2)[0]
	p, _ := New(g, Config{Dt: 0.1, Theta: 0.5, Threads: 1}, nil)
	all, _ := population(6, 1, 27)

	_, _, err := p.Step(ctx, all, all)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestEmptyPopulation(t *testing.T) {
	p, _ := New(comm.NewLocal(1)[0], Config{Dt: 0.1, Theta: 0.5, Threads: 1}, nil)
	_, _, err := p.Step(context.Background(), nil, nil)
	if !errors.Is(err, body.ErrNoBodies) {
		t.Errorf("expected ErrNoBodies, got %v", err)
	}
}

func TestTimingsReported(t *testing.T) {
	all, _ := population(200, 1, 28)
	p, _ := New(comm.NewLocal(1)[0], Config{Dt: 0.1, Theta: 0.5, Threads: 2}, nil)

	_, tm, err := p.Step(context.Background(), all, all)
	if err != nil {
		t.Fatal(err)
	}
	if tm.Build <= 0 || tm.Force <= 0 {
		t.Errorf("expected build and force durations, got %+v", tm)
	}
	if tm.Exchange != 0 {
		t.Errorf("single rank should skip the exchange, got %v", tm.Exchange)
	}
}
