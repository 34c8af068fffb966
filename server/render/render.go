// Package render prints predictions for the CLI: JSON, YAML, a terminal
// table, a live progress line, and the msgpack archive format.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"ai-oracle/server/oracle"
	"ai-oracle/server/sim"
)

type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q (want table, json or yaml)", s)
	}
}

// Prediction writes one prediction in the given format.
func Prediction(w io.Writer, p *oracle.Prediction, f Format) error {
	switch f {
	case FormatJSON:
		return writeJSON(w, p)
	case FormatYAML:
		return writeYAML(w, p)
	default:
		_, err := io.WriteString(w, PredictionTable(p)+"\n")
		return err
	}
}

// Runs writes a history listing. The table form is one line per run.
func Runs(w io.Writer, ps []*oracle.Prediction, f Format) error {
	switch f {
	case FormatJSON:
		return writeJSON(w, ps)
	case FormatYAML:
		return writeYAML(w, ps)
	}
	t := table.New().
		Headers("ID", "WHEN", "QUESTION", "LEADER", "PROB", "ITER").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, p := range ps {
		leader, prob := "-", "-"
		if p.Happened {
			leader = "happened"
		} else if len(p.Outcomes) > 0 {
			leader = p.Outcomes[0].Label()
			if p.Outcomes[0].SimProb != nil {
				prob = *p.Outcomes[0].SimProb + "%"
			}
		}
		t.Row(
			strconv.FormatInt(p.RunID, 10),
			p.CreatedAt.Local().Format("2006-01-02 15:04"),
			truncate(p.Question, 48),
			leader,
			prob,
			strconv.Itoa(p.Iterations),
		)
	}
	_, err := io.WriteString(w, t.Render()+"\n")
	return err
}

// PredictionTable renders the ranked outcomes with their 95% intervals.
func PredictionTable(p *oracle.Prediction) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(p.Question))
	b.WriteString("\n")
	if p.Happened {
		b.WriteString(leaderStyle.Render("Already happened."))
		if p.Explanation != "" {
			b.WriteString(" " + p.Explanation)
		}
		return b.String()
	}
	if p.Explanation != "" {
		b.WriteString(mutedStyle.Render(p.Explanation))
		b.WriteString("\n")
	}

	t := table.New().
		Headers("#", "OUTCOME", "PROB", "95% CI", "WINS").
		StyleFunc(func(row, _ int) lipgloss.Style {
			switch row {
			case table.HeaderRow:
				return headerStyle
			case 0:
				return cellStyle.Inherit(leaderStyle)
			default:
				return cellStyle
			}
		})
	for i, o := range p.Outcomes {
		name := o.Name
		if o.Emoji != "" {
			name = o.Emoji + " " + name
		}
		prob, wins, ci := "-", "-", "-"
		if o.SimProb != nil {
			prob = *o.SimProb + "%"
		}
		if o.SimCount != nil {
			wins = strconv.Itoa(*o.SimCount)
		}
		if iv, ok := p.Intervals[o.Name]; ok {
			ci = fmt.Sprintf("%.1f-%.1f", iv.Low, iv.High)
		}
		t.Row(strconv.Itoa(i+1), name, prob, ci, wins)
	}
	b.WriteString(t.Render())
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("%d iterations · entropy %.2f bits", p.Iterations, p.Entropy)))
	if p.RunID != 0 {
		b.WriteString(mutedStyle.Render(fmt.Sprintf(" · run #%d", p.RunID)))
	}
	return b.String()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Leader is a one-line summary, used in logs and the stream view.
func Leader(outcomes []sim.Outcome) string {
	if len(outcomes) == 0 || outcomes[0].SimProb == nil {
		return ""
	}
	return fmt.Sprintf("%s %s%%", outcomes[0].Label(), *outcomes[0].SimProb)
}
