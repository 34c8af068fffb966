package sim

import (
	crand "crypto/rand"
	"encoding/binary"
	"math"
	"math/rand"
	"os"
	"sync/atomic"
	"time"
)

// Uniform is any source of uniform samples in [0,1).
type Uniform interface {
	Float64() float64
}

// Noise turns a uniform source into standard-normal samples.
type Noise struct {
	src Uniform
}

func NewNoise(src Uniform) *Noise { return &Noise{src: src} }

// Sample returns one N(0,1) draw via Box–Muller. u1 feeds the log term, so a
// zero there is resampled.
func (n *Noise) Sample() float64 {
	u1 := n.src.Float64()
	for u1 == 0 {
		u1 = n.src.Float64()
	}
	u2 := n.src.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// ===== seeding =====

// seedStream is a splitmix64 sequence; successive values seed independent runs.
type seedStream struct{ state atomic.Uint64 }

func (s *seedStream) next() uint64 {
	z := s.state.Add(0x9E3779B97F4A7C15)
	z ^= z >> 30
	z *= 0xBF58476D1CE4E5B9
	z ^= z >> 27
	z *= 0x94D049BB133111EB
	z ^= z >> 31
	return z
}

func secureBaseSeed() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err == nil {
		return binary.LittleEndian.Uint64(b[:]) ^ uint64(time.Now().UnixNano()) ^ uint64(os.Getpid())
	}
	return uint64(time.Now().UnixNano()) ^ 0xA5A5A5A5A5A5A5A5
}

// NewSource returns a uniform source seeded with seed.
func NewSource(seed int64) Uniform {
	return rand.New(rand.NewSource(seed))
}
