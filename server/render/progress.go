package render

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/progress"

	"ai-oracle/server/sim"
)

// ProgressLine redraws a single terminal line per simulation snapshot.
type ProgressLine struct {
	w   io.Writer
	bar progress.Model
}

func NewProgressLine(w io.Writer, width int) *ProgressLine {
	return &ProgressLine{
		w:   w,
		bar: progress.New(progress.WithDefaultGradient(), progress.WithWidth(width), progress.WithoutPercentage()),
	}
}

// Line renders a snapshot without writing it.
func (l *ProgressLine) Line(p sim.Progress) string {
	s := fmt.Sprintf("%s %3d%% %s", l.bar.ViewAs(float64(p.Pct)/100), p.Pct, phaseStyle.Render(p.Phase))
	if p.Rate > 0 {
		s += mutedStyle.Render(fmt.Sprintf(" %d/s", p.Rate))
	}
	if p.ETA > 0 {
		s += mutedStyle.Render(" eta " + (time.Duration(p.ETA) * time.Second).String())
	}
	return s
}

// Update is a sim progress callback.
func (l *ProgressLine) Update(p sim.Progress) {
	fmt.Fprint(l.w, "\r\x1b[2K"+l.Line(p))
}

// Done ends the line so later output starts clean.
func (l *ProgressLine) Done() {
	fmt.Fprintln(l.w)
}
