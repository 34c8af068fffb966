package sim

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidInput is returned before any simulation work when the outcome set
// or iteration count cannot produce a winner.
var ErrInvalidInput = errors.New("invalid input")

// Outcome is one candidate result of a simulated event. SimCount and SimProb
// are nil until a run has finalized.
type Outcome struct {
	Name         string  `json:"name" yaml:"name" msgpack:"name"`
	ShortName    string  `json:"shortName" yaml:"shortName" msgpack:"short_name"`
	Detail       string  `json:"detail" yaml:"detail" msgpack:"detail"`
	Emoji        string  `json:"emoji" yaml:"emoji" msgpack:"emoji"`
	BaseStrength float64 `json:"baseStrength" yaml:"baseStrength" msgpack:"base_strength"`
	Volatility   float64 `json:"volatility" yaml:"volatility" msgpack:"volatility"`
	SimCount     *int    `json:"simCount,omitempty" yaml:"simCount,omitempty" msgpack:"sim_count,omitempty"`
	SimProb      *string `json:"simProb,omitempty" yaml:"simProb,omitempty" msgpack:"sim_prob,omitempty"`
}

// Label prefers the short name for compact output.
func (o Outcome) Label() string {
	if s := strings.TrimSpace(o.ShortName); s != "" {
		return s
	}
	return o.Name
}

// Probability returns SimProb as a fraction in [0,1], or 0 before simulation.
func (o Outcome) Probability() float64 {
	if o.SimCount == nil || o.SimProb == nil {
		return 0
	}
	pct, err := strconv.ParseFloat(*o.SimProb, 64)
	if err != nil {
		return 0
	}
	return pct / 100
}

// Reset clears the simulation fields so the outcome can feed a fresh run.
func (o Outcome) Reset() Outcome {
	o.SimCount = nil
	o.SimProb = nil
	return o
}

// Validate checks outcome records handed over by a resolver. The driver itself
// only needs a non-empty list; this is the stricter gate for external input.
func Validate(outcomes []Outcome) error {
	if len(outcomes) == 0 {
		return fmt.Errorf("%w: no outcomes", ErrInvalidInput)
	}
	seen := make(map[string]bool, len(outcomes))
	for i, o := range outcomes {
		if strings.TrimSpace(o.Name) == "" {
			return fmt.Errorf("%w: outcome %d has no name", ErrInvalidInput, i)
		}
		// names key the per-outcome intervals
		if seen[o.Name] {
			return fmt.Errorf("%w: duplicate outcome name %q", ErrInvalidInput, o.Name)
		}
		seen[o.Name] = true
		if !inRange(o.BaseStrength) {
			return fmt.Errorf("%w: outcome %q baseStrength %v out of [0,100]", ErrInvalidInput, o.Name, o.BaseStrength)
		}
		if !inRange(o.Volatility) {
			return fmt.Errorf("%w: outcome %q volatility %v out of [0,100]", ErrInvalidInput, o.Name, o.Volatility)
		}
	}
	return nil
}

func inRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 100
}
