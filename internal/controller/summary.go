package controller

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/Mortal/austin/internal/sampler"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Width(12)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))
)

// saturationWarning is the share of overrunning passes that gets highlighted.
const saturationWarning = 0.1

type summary struct {
	Duration   time.Duration
	Stats      sampler.StatsSnapshot
	Processes  int64
	Output     string
	OutputSize int64
}

func (c *Controller) printSummary(duration time.Duration, stats sampler.StatsSnapshot) {
	s := summary{
		Duration:   duration,
		Stats:      stats,
		Processes:  c.processes.Load(),
		Output:     c.cfg.OutputPath,
		OutputSize: -1,
	}
	if s.Output != "" {
		if fi, err := c.fs.Stat(s.Output); err == nil {
			s.OutputSize = fi.Size()
		}
	}
	fmt.Fprint(c.stderr, renderSummary(s))
}

func renderSummary(s summary) string {
	var b strings.Builder

	row := func(label, value string) {
		b.WriteString("  ")
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}

	b.WriteString(titleStyle.Render("Sampling summary"))
	b.WriteString("\n")

	row("duration", s.Duration.Round(time.Millisecond).String())
	//nolint:gosec // G115: counters stay far below MaxInt64.
	row("samples", humanize.Comma(int64(s.Stats.Samples)))
	row("processes", humanize.Comma(s.Processes))

	saturation := ratio(s.Stats.Saturated, s.Stats.Ticks)
	value := fmt.Sprintf("%d/%d (%.1f%%)", s.Stats.Saturated, s.Stats.Ticks, 100*saturation)
	if saturation > saturationWarning {
		value = warnStyle.Render(value + " - consider a longer interval")
	}
	row("saturation", value)

	row("errors", fmt.Sprintf("%d/%d (%.1f%%)", s.Stats.Errors, s.Stats.Attempts, 100*ratio(s.Stats.Errors, s.Stats.Attempts)))

	if s.Output != "" {
		out := s.Output
		if s.OutputSize >= 0 {
			out = fmt.Sprintf("%s (%s)", out, humanize.Bytes(uint64(s.OutputSize)))
		}
		row("output", out)
	}

	return b.String()
}

func ratio(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}
