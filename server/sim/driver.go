package sim

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"
)

// MinChunk is the floor on iterations per chunk. Above 50k iterations the
// chunk grows to 1% of the run so there are at most 100 progress events.
const MinChunk = 500

// Phases are the progress labels, one per sixth of the run.
var Phases = [...]string{
	"Initializing scenarios…",
	"Calibrating variables…",
	"Running Monte Carlo iterations…",
	"Simulating edge cases…",
	"Aggregating results…",
	"Finalizing predictions…",
}

// Progress is the snapshot handed to observers after every chunk.
type Progress struct {
	Done  int    `json:"done"`
	Total int    `json:"total"`
	Pct   int    `json:"pct"`
	Rate  int    `json:"rate"` // iterations per second
	ETA   int    `json:"eta"`  // seconds remaining
	Phase string `json:"phase"`
}

// Config tunes a Simulator. The zero value is ready to use.
type Config struct {
	// Seed fixes the per-run seed sequence; 0 seeds from crypto/rand.
	Seed int64
	// Now and Yield are swapped out in tests.
	Now   func() time.Time
	Yield func()
}

// Simulator runs chunked Monte Carlo tallies. It is safe for concurrent use;
// every run gets its own tally and its own uniform source.
type Simulator struct {
	seeds seedStream
	now   func() time.Time
	yield func()
}

func New(cfg Config) *Simulator {
	s := &Simulator{now: cfg.Now, yield: cfg.Yield}
	if s.now == nil {
		s.now = time.Now
	}
	if s.yield == nil {
		s.yield = runtime.Gosched
	}
	base := uint64(cfg.Seed)
	if cfg.Seed == 0 {
		base = secureBaseSeed()
	}
	s.seeds.state.Store(base)
	return s
}

// ChunkSize is the number of iterations run between two progress events.
func ChunkSize(total int) int {
	return max(MinChunk, total/100)
}

// PhaseFor maps a percentage to its label. Integer math keeps the band edges
// exact (50% is the start of band 3, not the end of band 2).
func PhaseFor(pct int) string {
	idx := min(max(pct, 0)*len(Phases)/100, len(Phases)-1)
	return Phases[idx]
}

// Simulate tallies the argmax of noisy scores over total iterations and
// returns the outcomes ranked by win probability. onProgress may be nil.
//
// Cancellation is checked between chunks; a cancelled run returns ctx.Err()
// and its partial tally is dropped.
func (s *Simulator) Simulate(ctx context.Context, outcomes []Outcome, total int, onProgress func(Progress)) ([]Outcome, error) {
	if len(outcomes) == 0 {
		return nil, fmt.Errorf("%w: outcome set is empty", ErrInvalidInput)
	}
	if total < 1 {
		return nil, fmt.Errorf("%w: total must be a positive integer, got %d", ErrInvalidInput, total)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	strength := make([]float64, len(outcomes))
	vol := make([]float64, len(outcomes))
	for i, o := range outcomes {
		strength[i], vol[i] = o.BaseStrength, o.Volatility
	}

	noise := NewNoise(NewSource(int64(s.seeds.next())))
	tally := make([]int, len(outcomes))
	chunk := ChunkSize(total)
	start := s.now()

	done := 0
	for done < total {
		n := min(chunk, total-done)
		for j := 0; j < n; j++ {
			best, winner := math.Inf(-1), 0
			for i := range strength {
				// strict > so the first of equal scores keeps the win
				if sc := Score(strength[i], vol[i], noise.Sample()); sc > best {
					best, winner = sc, i
				}
			}
			tally[winner]++
		}
		done += n

		if onProgress != nil {
			onProgress(snapshot(done, total, s.now().Sub(start)))
		}
		if done == total {
			break
		}
		s.yield()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	// a cancel during the last chunk may have swallowed its snapshot
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Finalize(outcomes, tally, total), nil
}

func snapshot(done, total int, elapsed time.Duration) Progress {
	pct := int(int64(done) * 100 / int64(total))
	rate := 0
	if secs := elapsed.Seconds(); secs > 0 {
		rate = int(float64(done) / secs)
	}
	eta := 0
	if rate > 0 {
		eta = (total - done + rate - 1) / rate
	}
	return Progress{
		Done:  done,
		Total: total,
		Pct:   pct,
		Rate:  rate,
		ETA:   eta,
		Phase: PhaseFor(pct),
	}
}

// ===== background runs =====

// Run is a simulation executing on its own goroutine.
type Run struct {
	progress chan Progress
	done     chan struct{}
	result   []Outcome
	err      error
}

// Start launches Simulate in the background. Snapshots arrive on Progress()
// in order; the channel closes when the run ends. Callers must drain it or
// cancel ctx, otherwise the run blocks on delivery.
func (s *Simulator) Start(ctx context.Context, outcomes []Outcome, total int) *Run {
	r := &Run{
		progress: make(chan Progress, 8),
		done:     make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		defer close(r.progress)
		r.result, r.err = s.Simulate(ctx, outcomes, total, func(p Progress) {
			select {
			case r.progress <- p:
			case <-ctx.Done():
			}
		})
	}()
	return r
}

func (r *Run) Progress() <-chan Progress { return r.progress }

// Wait blocks until the run finishes.
func (r *Run) Wait() ([]Outcome, error) {
	<-r.done
	return r.result, r.err
}
