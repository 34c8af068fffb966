// Package oracle ties a resolver, the simulator and the history store into
// one prediction call.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"ai-oracle/server/event"
	"ai-oracle/server/logging"
	"ai-oracle/server/sim"
	"ai-oracle/server/store"
)

// MaxIterations caps a single request.
const MaxIterations = 5_000_000

// Prediction is a finished run as returned to callers.
type Prediction struct {
	RunID       int64                   `json:"runId,omitempty" yaml:"run_id,omitempty"`
	ParentID    *int64                  `json:"parentId,omitempty" yaml:"parent_id,omitempty"`
	Question    string                  `json:"question" yaml:"question"`
	Happened    bool                    `json:"happened" yaml:"happened"`
	Explanation string                  `json:"explanation" yaml:"explanation"`
	Iterations  int                     `json:"iterations" yaml:"iterations"`
	Entropy     float64                 `json:"entropy" yaml:"entropy"`
	Source      string                  `json:"source" yaml:"source"`
	Outcomes    []sim.Outcome           `json:"outcomes" yaml:"outcomes"`
	Intervals   map[string]sim.Interval `json:"intervals,omitempty" yaml:"intervals,omitempty"`
	CreatedAt   time.Time               `json:"createdAt" yaml:"created_at"`
}

// Options configures a Service. Resolver is required for Predict; History
// may be nil, in which case nothing is persisted and Rerun is unavailable.
type Options struct {
	Resolver   event.Resolver
	History    store.History
	Simulator  *sim.Simulator
	Logger     *logging.Logger
	Iterations int    // default when a call passes 0
	Source     string // recorded on every run, e.g. the model name
	BatchLimit int
}

type Service struct {
	resolver   event.Resolver
	history    store.History
	sim        *sim.Simulator
	log        *logging.Logger
	iterations int
	source     string
	batchLimit int
}

func NewService(opts Options) *Service {
	s := &Service{
		resolver:   opts.Resolver,
		history:    opts.History,
		sim:        opts.Simulator,
		log:        opts.Logger.Named("oracle"),
		iterations: opts.Iterations,
		source:     opts.Source,
		batchLimit: opts.BatchLimit,
	}
	if s.sim == nil {
		s.sim = sim.New(sim.Config{})
	}
	if s.iterations <= 0 {
		s.iterations = 10000
	}
	if s.batchLimit <= 0 {
		s.batchLimit = 4
	}
	return s
}

// ErrNoHistory is returned by Rerun when the service has no store.
var ErrNoHistory = errors.New("history store not configured")

func (s *Service) iterationsFor(n int) (int, error) {
	if n == 0 {
		return s.iterations, nil
	}
	if n < 0 || n > MaxIterations {
		return 0, fmt.Errorf("%w: iterations must be between 1 and %d, got %d", sim.ErrInvalidInput, MaxIterations, n)
	}
	return n, nil
}

// Predict resolves question into outcomes and simulates them. Events the
// resolver reports as already decided are returned without simulating.
// onProgress sees a 0% snapshot before resolution and then the simulator's
// own snapshots, so the sequence never goes backwards.
func (s *Service) Predict(ctx context.Context, question string, iterations int, onProgress func(sim.Progress)) (*Prediction, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", sim.ErrInvalidInput)
	}
	n, err := s.iterationsFor(iterations)
	if err != nil {
		return nil, err
	}
	if s.resolver == nil {
		return nil, errors.New("no resolver configured")
	}
	if onProgress != nil {
		onProgress(sim.Progress{Total: n, Phase: sim.Phases[0]})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	started := time.Now()
	res, err := s.resolver.Resolve(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}
	if res.Question == "" {
		res.Question = question
	}
	if err := event.Validate(&res); err != nil {
		return nil, err
	}
	s.log.Debug("resolved", map[string]any{
		"question": res.Question,
		"happened": res.Happened,
		"outcomes": len(res.Outcomes),
		"took_ms":  time.Since(started).Milliseconds(),
	})

	p := &Prediction{
		Question:    res.Question,
		Happened:    res.Happened,
		Explanation: res.Explanation,
		Source:      s.source,
	}
	if !res.Happened {
		if err := s.simulate(ctx, p, res.Outcomes, n, onProgress); err != nil {
			return nil, err
		}
	} else {
		p.Outcomes = res.Outcomes
	}
	s.save(ctx, p)
	return p, nil
}

// Rerun simulates a stored run's outcomes again and stores the result as a
// child of the original.
func (s *Service) Rerun(ctx context.Context, id int64, iterations int, onProgress func(sim.Progress)) (*Prediction, error) {
	if s.history == nil {
		return nil, ErrNoHistory
	}
	parent, err := s.history.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(parent.Outcomes) == 0 {
		return nil, fmt.Errorf("%w: run %d has no outcomes to simulate", sim.ErrInvalidInput, id)
	}
	if iterations == 0 {
		iterations = parent.Iterations
	}
	n, err := s.iterationsFor(iterations)
	if err != nil {
		return nil, err
	}
	outcomes := make([]sim.Outcome, len(parent.Outcomes))
	for i, o := range parent.Outcomes {
		outcomes[i] = o.Reset()
	}
	p := &Prediction{
		ParentID:    &parent.ID,
		Question:    parent.Question,
		Explanation: parent.Explanation,
		Source:      parent.Source,
	}
	if err := s.simulate(ctx, p, outcomes, n, onProgress); err != nil {
		return nil, err
	}
	s.save(ctx, p)
	return p, nil
}

// PredictBatch runs several predictions concurrently. Results line up with
// questions; the first failure cancels the rest.
func (s *Service) PredictBatch(ctx context.Context, questions []string, iterations int) ([]*Prediction, error) {
	out := make([]*Prediction, len(questions))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchLimit)
	for i, q := range questions {
		i, q := i, q
		g.Go(func() error {
			p, err := s.Predict(ctx, q, iterations, nil)
			if err != nil {
				return fmt.Errorf("question %d: %w", i+1, err)
			}
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) simulate(ctx context.Context, p *Prediction, outcomes []sim.Outcome, n int, onProgress func(sim.Progress)) error {
	started := time.Now()
	ranked, err := s.sim.Simulate(ctx, outcomes, n, onProgress)
	if err != nil {
		return err
	}
	p.Iterations = n
	p.Outcomes = ranked
	p.Entropy = sim.Entropy(ranked)
	p.Intervals = sim.Intervals(ranked)
	s.log.Info("simulation finished", map[string]any{
		"question":   p.Question,
		"iterations": n,
		"leader":     ranked[0].Name,
		"leader_pct": ranked[0].Probability() * 100,
		"entropy":    p.Entropy,
		"took_ms":    time.Since(started).Milliseconds(),
	})
	return nil
}

// save persists p when a store is configured. Failures are logged; the
// prediction itself is still returned.
func (s *Service) save(ctx context.Context, p *Prediction) {
	if s.history == nil {
		p.CreatedAt = time.Now().UTC()
		return
	}
	run, err := s.history.SaveRun(ctx, store.Run{
		ParentID:    p.ParentID,
		Question:    p.Question,
		Happened:    p.Happened,
		Explanation: p.Explanation,
		Iterations:  p.Iterations,
		Entropy:     p.Entropy,
		Source:      p.Source,
		Outcomes:    p.Outcomes,
	})
	if err != nil {
		s.log.Error("save run failed", map[string]any{"question": p.Question, "error": err})
		p.CreatedAt = time.Now().UTC()
		return
	}
	p.RunID = run.ID
	p.CreatedAt = run.CreatedAt
	log := s.log.With(map[string]any{"run_id": run.ID})
	if p.ParentID != nil {
		log = log.With(map[string]any{"parent_id": *p.ParentID})
	}
	log.Debug("run saved", map[string]any{"question": p.Question})
}

// FromRun rebuilds a Prediction from a stored run.
func FromRun(r store.Run) *Prediction {
	p := &Prediction{
		RunID:       r.ID,
		ParentID:    r.ParentID,
		Question:    r.Question,
		Happened:    r.Happened,
		Explanation: r.Explanation,
		Iterations:  r.Iterations,
		Entropy:     r.Entropy,
		Source:      r.Source,
		Outcomes:    r.Outcomes,
		CreatedAt:   r.CreatedAt,
	}
	if !r.Happened && len(r.Outcomes) > 0 {
		p.Intervals = sim.Intervals(r.Outcomes)
	}
	return p
}

// History exposes the underlying store, or nil.
func (s *Service) History() store.History { return s.history }
