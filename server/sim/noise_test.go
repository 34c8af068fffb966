package sim

import (
	"math"
	"testing"
)

type seqUniform struct {
	vals  []float64
	calls int
}

func (s *seqUniform) Float64() float64 {
	v := s.vals[s.calls%len(s.vals)]
	s.calls++
	return v
}

func TestNoiseResamplesZero(t *testing.T) {
	src := &seqUniform{vals: []float64{0, 0, 0.5, 0.25, 0.9, 0.1}}
	z := NewNoise(src).Sample()
	if math.IsInf(z, 0) || math.IsNaN(z) {
		t.Fatalf("expected finite sample, got %v", z)
	}
	if src.calls != 4 {
		t.Fatalf("expected 4 uniform draws (2 rejected), got %d", src.calls)
	}
	want := math.Sqrt(-2*math.Log(0.5)) * math.Cos(2*math.Pi*0.25)
	if math.Abs(z-want) > 1e-12 {
		t.Fatalf("expected %v, got %v", want, z)
	}
}

func TestNoiseMoments(t *testing.T) {
	n := NewNoise(NewSource(7))
	const samples = 200000
	var sum, sumSq float64
	for j := 0; j < samples; j++ {
		z := n.Sample()
		sum += z
		sumSq += z * z
	}
	mean := sum / samples
	variance := sumSq/samples - mean*mean
	if math.Abs(mean) > 0.02 {
		t.Fatalf("mean %.4f too far from 0", mean)
	}
	if math.Abs(variance-1) > 0.03 {
		t.Fatalf("variance %.4f too far from 1", variance)
	}
}

func TestScore(t *testing.T) {
	cases := []struct {
		strength, vol, z, want float64
	}{
		{70, 10, 0, 70},
		{70, 10, 1, 75},
		{30, 20, -2, 10},
		{5, 100, -1, -45}, // negative scores are not clamped
		{50, 0, 3.5, 50},
	}
	for _, c := range cases {
		if got := Score(c.strength, c.vol, c.z); got != c.want {
			t.Fatalf("Score(%v,%v,%v): expected %v, got %v", c.strength, c.vol, c.z, c.want, got)
		}
	}
}

func TestSeedStreamDistinctRuns(t *testing.T) {
	var s seedStream
	s.state.Store(42)
	a, b := s.next(), s.next()
	if a == b {
		t.Fatalf("expected distinct seeds, got %d twice", a)
	}
}
