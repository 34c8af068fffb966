package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"ai-oracle/server/sim"
)

// Memory keeps runs in process; everything is lost on exit.
type Memory struct {
	mu     sync.RWMutex
	runs   map[int64]Run
	nextID int64
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{runs: map[int64]Run{}, now: time.Now}
}

func (m *Memory) SaveRun(_ context.Context, r Run) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	r.CreatedAt = m.now().UTC()
	r.Outcomes = cloneOutcomes(r.Outcomes)
	m.runs[r.ID] = r
	return r, nil
}

func (m *Memory) GetRun(_ context.Context, id int64) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	r.Outcomes = cloneOutcomes(r.Outcomes)
	return r, nil
}

func (m *Memory) ListRuns(_ context.Context, limit int) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Run, 0, len(m.runs))
	for _, r := range m.runs {
		r.Outcomes = cloneOutcomes(r.Outcomes)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if n := normalizeLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

// cloneOutcomes deep-copies the pointer fields so callers cannot reach into
// stored runs.
func cloneOutcomes(in []sim.Outcome) []sim.Outcome {
	if in == nil {
		return nil
	}
	out := make([]sim.Outcome, len(in))
	for i, o := range in {
		if o.SimCount != nil {
			c := *o.SimCount
			o.SimCount = &c
		}
		if o.SimProb != nil {
			p := *o.SimProb
			o.SimProb = &p
		}
		out[i] = o
	}
	return out
}
