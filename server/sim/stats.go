package sim

import "math"

// Interval is a 95% confidence band on a win rate, in percent.
type Interval struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// WilsonCI95 bounds an outcome's true win rate given wins out of total
// iterations.
func WilsonCI95(wins, total int) (low, hi float64) {
	if total <= 0 {
		return 0, 1
	}
	z := 1.96
	n := float64(total)
	p := float64(wins) / n
	den := 1 + (z*z)/n
	center := p + (z*z)/(2*n)
	half := z * math.Sqrt((p*(1-p))/n+(z*z)/(4*n*n))
	return math.Max(0, (center-half)/den), math.Min(1, (center+half)/den)
}

// Intervals computes WilsonCI95 for every finalized outcome, keyed by name.
func Intervals(outcomes []Outcome) map[string]Interval {
	total := 0
	for _, o := range outcomes {
		if o.SimCount != nil {
			total += *o.SimCount
		}
	}
	out := make(map[string]Interval, len(outcomes))
	for _, o := range outcomes {
		if o.SimCount == nil {
			continue
		}
		lo, hi := WilsonCI95(*o.SimCount, total)
		out[o.Name] = Interval{Low: math.Round(lo*1000) / 10, High: math.Round(hi*1000) / 10}
	}
	return out
}
