// Package scenario loads fixed outcome sets from YAML so predictions can run
// without a model behind them.
package scenario

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"ai-oracle/server/event"
)

// Scenario is one question with its outcomes. Iterations and Seed are
// optional per-scenario overrides.
type Scenario struct {
	event.Resolution `yaml:",inline"`
	Iterations       int   `yaml:"iterations,omitempty"`
	Seed             int64 `yaml:"seed,omitempty"`
}

// File is the on-disk layout: either a single scenario or a list under
// `scenarios:`.
type File struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// Load reads a scenario file, expanding ${VAR} references first.
func Load(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("scenario file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read scenario file %q: %w", path, err)
	}
	out, err := Parse([]byte(ExpandEnv(string(data))))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// Parse decodes and validates scenarios from YAML.
func Parse(data []byte) ([]Scenario, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if len(f.Scenarios) == 0 {
		var one Scenario
		if err := yaml.Unmarshal(data, &one); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		f.Scenarios = []Scenario{one}
	}
	for i := range f.Scenarios {
		s := &f.Scenarios[i]
		if err := event.Validate(&s.Resolution); err != nil {
			return nil, fmt.Errorf("scenario %d: %w", i, err)
		}
		if s.Iterations < 0 {
			return nil, fmt.Errorf("scenario %d: iterations must not be negative", i)
		}
	}
	return f.Scenarios, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default}. Bare $VAR is left alone so
// prices and emoji-laden text survive.
func ExpandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		parts := envRef.FindStringSubmatch(m)
		if v, ok := os.LookupEnv(parts[1]); ok && v != "" {
			return v
		}
		return parts[2]
	})
}

// Static resolves questions from a fixed scenario set, matching case- and
// whitespace-insensitively.
type Static struct {
	byQuestion map[string]Scenario
	order      []string
}

func NewStatic(scenarios []Scenario) *Static {
	s := &Static{byQuestion: make(map[string]Scenario, len(scenarios))}
	for _, sc := range scenarios {
		k := normalize(sc.Question)
		if _, dup := s.byQuestion[k]; !dup {
			s.order = append(s.order, sc.Question)
		}
		s.byQuestion[k] = sc
	}
	return s
}

func (s *Static) Resolve(_ context.Context, question string) (event.Resolution, error) {
	sc, ok := s.byQuestion[normalize(question)]
	if !ok {
		return event.Resolution{}, fmt.Errorf("no scenario for question %q", question)
	}
	res := sc.Resolution
	res.Outcomes = append(res.Outcomes[:0:0], sc.Outcomes...)
	return res, nil
}

// Lookup returns the scenario for question, including its overrides.
func (s *Static) Lookup(question string) (Scenario, bool) {
	sc, ok := s.byQuestion[normalize(question)]
	return sc, ok
}

// Questions lists the known questions in file order.
func (s *Static) Questions() []string {
	return append([]string(nil), s.order...)
}

func normalize(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}
