package ui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/satindergrewal/infinitechno/internal/engine"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFD700"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	recStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF3B30"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
	lowStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#00D7AF"))
	midStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700"))
	highStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
	frameStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

var blocks = []rune(" ▁▂▃▄▅▆▇█")

// spectrum geometry per mode: rows tall, cells wide per band.
var geometry = map[string]struct{ rows, width int }{
	"full":    {rows: 8, width: 2},
	"reduced": {rows: 3, width: 4},
}

func (m Model) View() string {
	if m.quit {
		return ""
	}
	var b strings.Builder
	s := m.snap

	b.WriteString(titleStyle.Render("infinitechno"))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %s  %.0f BPM  seed %d", s.Key, s.BPM, s.Seed)))
	b.WriteString("\n\n")

	b.WriteString(sectionStyle.Render(s.Section.Kind))
	b.WriteString(fmt.Sprintf("  bar %d beat %d  %d bars left  intensity %.2f\n",
		s.Bar+1, s.Beat, s.Section.Remaining, s.Section.Intensity))
	b.WriteString(renderPatterns(s))
	b.WriteString(dimStyle.Render(fmt.Sprintf("fx %-5s drive %.2f  delay %.2f  reverb %.2f",
		s.Preset, s.Effects.Distortion.Drive, s.Effects.Delay.Mix, s.Effects.Reverb.Mix)))
	b.WriteString("\n\n")

	b.WriteString(renderSpectrum(m.sum.Spectrum, m.sum.Mode))
	b.WriteString(fmt.Sprintf("\nbass %s  mid %s  high %s\n",
		meter(m.sum.Bass, 10), meter(m.sum.Mid, 10), meter(m.sum.High, 10)))

	b.WriteString("\n" + renderRecording(s) + "\n")
	if s.LayerErrors > 0 {
		b.WriteString(errorStyle.Render(fmt.Sprintf("%d layer errors (see log)", s.LayerErrors)) + "\n")
	}
	b.WriteString("\n" + m.help.View(m.keys))

	out := b.String()
	if m.width > 0 {
		return frameStyle.MaxWidth(m.width).Render(out)
	}
	return frameStyle.Render(out)
}

func renderPatterns(s engine.Snapshot) string {
	if len(s.Patterns) == 0 {
		return dimStyle.Render("  (no patterns)") + "\n"
	}
	var b strings.Builder
	for _, p := range s.Patterns {
		b.WriteString(fmt.Sprintf("  %-7s %s %-28s %2d/%-2d bars",
			p.Role, meter(p.Gain, 6), p.Fragment, p.Remaining, p.Hold))
		if p.Resting {
			b.WriteString(dimStyle.Render("  rest"))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderRecording(s engine.Snapshot) string {
	r := s.Recording
	switch {
	case r.Recording:
		return recStyle.Render("● REC") + fmt.Sprintf(" %s  %.1fs", r.Path, r.Seconds)
	case r.LastError != "":
		return errorStyle.Render("recording failed: " + r.LastError)
	case r.LastFile != "":
		return dimStyle.Render("saved " + r.LastFile)
	default:
		return dimStyle.Render("not recording")
	}
}

// renderSpectrum draws vertical bars, low bands on the left.
func renderSpectrum(bands []float64, mode string) string {
	g, ok := geometry[mode]
	if !ok {
		g = geometry["full"]
	}
	if len(bands) == 0 {
		return strings.Repeat("\n", g.rows-1)
	}

	steps := len(blocks) - 1
	lines := make([]string, g.rows)
	for row := 0; row < g.rows; row++ {
		var line strings.Builder
		floor := (g.rows - 1 - row) * steps
		for i, v := range bands {
			level := int(math.Round(math.Min(math.Max(v, 0), 1) * float64(g.rows*steps)))
			fill := min(max(level-floor, 0), steps)
			cell := strings.Repeat(string(blocks[fill]), g.width)
			line.WriteString(bandStyle(i, len(bands)).Render(cell))
		}
		lines[row] = line.String()
	}
	return strings.Join(lines, "\n")
}

func bandStyle(i, n int) lipgloss.Style {
	switch {
	case i < n/4:
		return lowStyle
	case i < 3*n/4:
		return midStyle
	default:
		return highStyle
	}
}

// meter renders v in [0, 1] as a horizontal bar of width cells.
func meter(v float64, width int) string {
	n := int(math.Round(math.Min(math.Max(v, 0), 1) * float64(width)))
	return strings.Repeat("█", n) + strings.Repeat("·", width-n)
}
