package scenario

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"ai-oracle/server/sim"
)

const multi = `
scenarios:
  - question: Who wins the derby?
    explanation: Home side in form.
    iterations: 2000
    outcomes:
      - {name: Home, shortName: HOM, emoji: "🏠", baseStrength: 62, volatility: 25}
      - {name: Away, shortName: AWY, emoji: "✈️", baseStrength: 48, volatility: 30}
      - {name: Draw, shortName: DRW, emoji: "🤝", baseStrength: 40, volatility: 10}
  - question: Did the launch happen?
    happened: true
    explanation: It launched on ${LAUNCH_DAY:-Tuesday}.
`

func TestParseMulti(t *testing.T) {
	t.Setenv("LAUNCH_DAY", "")
	list, err := Parse([]byte(ExpandEnv(multi)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 scenarios, got %d", len(list))
	}
	if list[0].Iterations != 2000 || len(list[0].Outcomes) != 3 || list[0].Outcomes[1].ShortName != "AWY" {
		t.Fatalf("unexpected first scenario %+v", list[0])
	}
	if !list[1].Happened || list[1].Explanation != "It launched on Tuesday." {
		t.Fatalf("unexpected second scenario %+v", list[1])
	}
}

func TestParseSingle(t *testing.T) {
	list, err := Parse([]byte("question: Coin toss?\noutcomes:\n  - {name: Heads, baseStrength: 50, volatility: 50}\n  - {name: Tails, baseStrength: 50, volatility: 50}\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(list) != 1 || list[0].Question != "Coin toss?" || len(list[0].Outcomes) != 2 {
		t.Fatalf("unexpected scenarios %+v", list)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	_, err := Parse([]byte("question: Bad\noutcomes:\n  - {name: X, baseStrength: 120, volatility: 5}\n"))
	if !errors.Is(err, sim.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := Parse([]byte("question: [unclosed")); err == nil {
		t.Fatalf("expected YAML error")
	}
}

func TestLoadAndStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	if err := os.WriteFile(path, []byte(multi), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LAUNCH_DAY", "Friday")
	list, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	st := NewStatic(list)
	res, err := st.Resolve(context.Background(), "  who WINS the   derby? ")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(res.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(res.Outcomes))
	}
	res.Outcomes[0].Name = "mutated"
	again, _ := st.Resolve(context.Background(), "Who wins the derby?")
	if again.Outcomes[0].Name != "Home" {
		t.Fatalf("Resolve must hand out copies")
	}
	sc, _ := st.Lookup("Did the launch happen?")
	if sc.Explanation != "It launched on Friday." {
		t.Fatalf("unexpected expansion %q", sc.Explanation)
	}
	if _, err := st.Resolve(context.Background(), "unknown"); err == nil {
		t.Fatalf("expected error for unknown question")
	}
	if qs := st.Questions(); len(qs) != 2 || qs[0] != "Who wins the derby?" {
		t.Fatalf("unexpected questions %v", qs)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
