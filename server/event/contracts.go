package event

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"ai-oracle/server/sim"
)

const maxExplanation = 600

// Resolution is what a resolver knows about a question before simulation.
type Resolution struct {
	Question    string        `json:"question" yaml:"question"`
	Happened    bool          `json:"happened" yaml:"happened"`       // event already decided
	Explanation string        `json:"explanation" yaml:"explanation"` // why, or what happened
	Outcomes    []sim.Outcome `json:"outcomes" yaml:"outcomes"`
}

// Resolver turns a free-text question into candidate outcomes.
type Resolver interface {
	Resolve(ctx context.Context, question string) (Resolution, error)
}

// Validate checks a resolver's answer before it reaches the simulator.
// Outcome sim fields are cleared; the explanation is trimmed.
func Validate(r *Resolution) error {
	r.Question = strings.TrimSpace(r.Question)
	if r.Question == "" {
		return fmt.Errorf("%w: question is empty", sim.ErrInvalidInput)
	}
	r.Explanation = strings.TrimSpace(r.Explanation)
	if len(r.Explanation) > maxExplanation {
		r.Explanation = strings.TrimSpace(cutUTF8(r.Explanation, maxExplanation-3)) + "..."
	}
	if r.Happened && len(r.Outcomes) == 0 {
		return nil
	}
	if err := sim.Validate(r.Outcomes); err != nil {
		return fmt.Errorf("resolution for %q: %w", r.Question, err)
	}
	for i := range r.Outcomes {
		r.Outcomes[i] = r.Outcomes[i].Reset()
	}
	return nil
}

// cutUTF8 returns at most n bytes of s without splitting a rune.
func cutUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ResolverFunc adapts a plain function to Resolver.
type ResolverFunc func(ctx context.Context, question string) (Resolution, error)

func (f ResolverFunc) Resolve(ctx context.Context, question string) (Resolution, error) {
	return f(ctx, question)
}
