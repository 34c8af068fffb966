package oracle

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"ai-oracle/server/event"
	"ai-oracle/server/logging"
	"ai-oracle/server/scenario"
	"ai-oracle/server/sim"
	"ai-oracle/server/store"
)

const testScenarios = `
scenarios:
  - question: Who wins the final?
    explanation: Home side is favoured.
    outcomes:
      - name: Home
        shortName: HOM
        baseStrength: 70
        volatility: 20
      - name: Away
        shortName: AWY
        baseStrength: 30
        volatility: 20
  - question: Did the launch happen?
    happened: true
    explanation: It launched on Tuesday.
  - question: Coin toss
    outcomes:
      - name: Heads
        baseStrength: 50
        volatility: 40
      - name: Tails
        baseStrength: 50
        volatility: 40
`

func newTestService(t *testing.T, h store.History) *Service {
	t.Helper()
	scs, err := scenario.Parse([]byte(testScenarios))
	if err != nil {
		t.Fatalf("parse scenarios: %v", err)
	}
	return NewService(Options{
		Resolver:   scenario.NewStatic(scs),
		History:    h,
		Simulator:  sim.New(sim.Config{Seed: 7, Yield: func() {}}),
		Iterations: 2000,
		Source:     "scenario",
	})
}

func TestPredictSimulatesAndStores(t *testing.T) {
	h := store.NewMemory()
	svc := newTestService(t, h)

	var events []sim.Progress
	p, err := svc.Predict(context.Background(), "who wins the final?", 0, func(pr sim.Progress) {
		events = append(events, pr)
	})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if p.Iterations != 2000 {
		t.Fatalf("expected default iterations 2000, got %d", p.Iterations)
	}
	if p.Outcomes[0].Name != "Home" {
		t.Fatalf("expected Home to lead, got %s", p.Outcomes[0].Name)
	}
	if p.Entropy < 0 || p.Entropy >= 1 {
		t.Fatalf("expected entropy in [0,1), got %f", p.Entropy)
	}
	if _, ok := p.Intervals["Home"]; !ok {
		t.Fatalf("expected interval for Home, got %v", p.Intervals)
	}
	if p.RunID == 0 {
		t.Fatalf("expected run to be stored")
	}

	if len(events) < 2 || events[0].Pct != 0 {
		t.Fatalf("expected a 0%% event first, got %+v", events)
	}
	last := -1
	for _, e := range events {
		if e.Pct < last || e.Pct > 100 {
			t.Fatalf("progress went backwards or out of range: %+v", events)
		}
		last = e.Pct
	}
	if events[len(events)-1].Pct != 100 {
		t.Fatalf("expected final event at 100%%, got %d", events[len(events)-1].Pct)
	}

	stored, err := h.GetRun(context.Background(), p.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if stored.Source != "scenario" || len(stored.Outcomes) != 2 {
		t.Fatalf("unexpected stored run: %+v", stored)
	}
}

func TestPredictHappenedSkipsSimulation(t *testing.T) {
	svc := newTestService(t, store.NewMemory())
	p, err := svc.Predict(context.Background(), "Did the launch happen?", 0, nil)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if !p.Happened || p.Iterations != 0 || len(p.Outcomes) != 0 {
		t.Fatalf("expected happened result with no simulation, got %+v", p)
	}
	if p.Explanation != "It launched on Tuesday." {
		t.Fatalf("unexpected explanation %q", p.Explanation)
	}
}

func TestPredictRejectsBadInput(t *testing.T) {
	svc := newTestService(t, nil)
	if _, err := svc.Predict(context.Background(), "   ", 0, nil); !errors.Is(err, sim.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty question, got %v", err)
	}
	if _, err := svc.Predict(context.Background(), "Coin toss", -1, nil); !errors.Is(err, sim.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative iterations, got %v", err)
	}
	if _, err := svc.Predict(context.Background(), "Coin toss", MaxIterations+1, nil); !errors.Is(err, sim.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput above the cap, got %v", err)
	}
}

func TestPredictRejectsInvalidResolution(t *testing.T) {
	bad := event.ResolverFunc(func(context.Context, string) (event.Resolution, error) {
		return event.Resolution{Question: "q", Outcomes: []sim.Outcome{{Name: "A", BaseStrength: 150}}}, nil
	})
	svc := NewService(Options{Resolver: bad})
	if _, err := svc.Predict(context.Background(), "q", 100, nil); !errors.Is(err, sim.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPredictWithoutHistory(t *testing.T) {
	svc := newTestService(t, nil)
	p, err := svc.Predict(context.Background(), "Coin toss", 600, nil)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if p.RunID != 0 || p.CreatedAt.IsZero() {
		t.Fatalf("expected unsaved prediction with a timestamp, got %+v", p)
	}
	if _, err := svc.Rerun(context.Background(), 1, 0, nil); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("expected ErrNoHistory, got %v", err)
	}
}

func TestRerunLinksParent(t *testing.T) {
	h := store.NewMemory()
	svc := newTestService(t, h)
	first, err := svc.Predict(context.Background(), "Who wins the final?", 1000, nil)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	again, err := svc.Rerun(context.Background(), first.RunID, 0, nil)
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if again.ParentID == nil || *again.ParentID != first.RunID {
		t.Fatalf("expected parent %d, got %v", first.RunID, again.ParentID)
	}
	if again.Iterations != 1000 {
		t.Fatalf("expected parent iteration count, got %d", again.Iterations)
	}
	sum := 0
	for _, o := range again.Outcomes {
		sum += *o.SimCount
	}
	if sum != 1000 {
		t.Fatalf("expected rerun tally 1000, got %d", sum)
	}
	if _, err := svc.Rerun(context.Background(), 4242, 0, nil); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRerunHappenedRun(t *testing.T) {
	h := store.NewMemory()
	svc := newTestService(t, h)
	p, err := svc.Predict(context.Background(), "Did the launch happen?", 0, nil)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if _, err := svc.Rerun(context.Background(), p.RunID, 0, nil); !errors.Is(err, sim.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPredictBatch(t *testing.T) {
	svc := newTestService(t, store.NewMemory())
	qs := []string{"Who wins the final?", "Coin toss", "Did the launch happen?"}
	out, err := svc.PredictBatch(context.Background(), qs, 1500)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 predictions, got %d", len(out))
	}
	for i, p := range out {
		if p.Question != qs[i] {
			t.Fatalf("expected result %d for %q, got %q", i, qs[i], p.Question)
		}
	}
	if !out[2].Happened {
		t.Fatalf("expected third question to be already decided")
	}
}

func TestPredictBatchStopsOnError(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	r := event.ResolverFunc(func(_ context.Context, q string) (event.Resolution, error) {
		mu.Lock()
		seen[q] = true
		mu.Unlock()
		if q == "broken" {
			return event.Resolution{}, errors.New("model unavailable")
		}
		return event.Resolution{Question: q, Outcomes: []sim.Outcome{{Name: "A", BaseStrength: 50, Volatility: 10}}}, nil
	})
	svc := NewService(Options{Resolver: r, BatchLimit: 1})
	_, err := svc.PredictBatch(context.Background(), []string{"ok", "broken", "never"}, 500)
	if err == nil {
		t.Fatalf("expected batch error")
	}
	if seen["never"] {
		t.Fatalf("expected remaining questions to be skipped after a failure")
	}
}

func TestPredictCancelled(t *testing.T) {
	svc := newTestService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	_, err := svc.Predict(ctx, "Coin toss", 100000, func(p sim.Progress) {
		if p.Done > 0 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSavedRunIsLoggedWithRunID(t *testing.T) {
	var buf bytes.Buffer
	scs, err := scenario.Parse([]byte(testScenarios))
	if err != nil {
		t.Fatalf("parse scenarios: %v", err)
	}
	svc := NewService(Options{
		Resolver:  scenario.NewStatic(scs),
		History:   store.NewMemory(),
		Simulator: sim.New(sim.Config{Seed: 3, Yield: func() {}}),
		Logger:    logging.NewWithWriter("debug", &buf),
	})
	first, err := svc.Predict(context.Background(), "Coin toss", 500, nil)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if _, err := svc.Rerun(context.Background(), first.RunID, 0, nil); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"message":"run saved"`) || !strings.Contains(out, `"run_id":1`) {
		t.Fatalf("expected run_id on the saved-run entry, got:\n%s", out)
	}
	if !strings.Contains(out, `"run_id":2`) || !strings.Contains(out, `"parent_id":1`) {
		t.Fatalf("expected the rerun entry to carry its parent, got:\n%s", out)
	}
	if !strings.Contains(out, `"component":"oracle"`) {
		t.Fatalf("expected the oracle component name, got:\n%s", out)
	}
}
