package sim

import (
	"math"
	"sort"
	"strconv"
)

// Finalize attaches counts and one-decimal percentages to a copy of outcomes
// and orders it by descending percentage. Equal percentages keep input order.
func Finalize(outcomes []Outcome, tally []int, total int) []Outcome {
	out := make([]Outcome, len(outcomes))
	pct := make([]float64, len(outcomes))
	for i, o := range outcomes {
		count := tally[i]
		prob := FormatProb(count, total)
		o.SimCount = &count
		o.SimProb = &prob
		out[i] = o
		pct[i], _ = strconv.ParseFloat(prob, 64)
	}

	order := make([]int, len(out))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return pct[order[a]] > pct[order[b]] })

	ranked := make([]Outcome, len(out))
	for i, idx := range order {
		ranked[i] = out[idx]
	}
	return ranked
}

// FormatProb renders count/total as a percentage with one decimal.
func FormatProb(count, total int) string {
	if total <= 0 {
		return "0.0"
	}
	return strconv.FormatFloat(float64(count)/float64(total)*100, 'f', 1, 64)
}

// Entropy is the Shannon entropy in bits of the simulated distribution.
// Outcomes without counts are ignored.
func Entropy(outcomes []Outcome) float64 {
	total := 0
	for _, o := range outcomes {
		if o.SimCount != nil {
			total += *o.SimCount
		}
	}
	if total == 0 {
		return 0
	}
	h := 0.0
	for _, o := range outcomes {
		if o.SimCount == nil || *o.SimCount == 0 {
			continue
		}
		p := float64(*o.SimCount) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}
