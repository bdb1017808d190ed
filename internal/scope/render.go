package scope

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/livesim/internal/quantity"
)

var palette = []string{"green", "yellow", "cyan", "magenta", "red", "blue"}

var graphColors = map[string]asciigraph.AnsiColor{
	"red":     asciigraph.Red,
	"green":   asciigraph.Green,
	"yellow":  asciigraph.Yellow,
	"blue":    asciigraph.Blue,
	"magenta": asciigraph.Magenta,
	"cyan":    asciigraph.Cyan,
	"white":   asciigraph.White,
}

// legendColors are brighter than the graph colors; red and blue are hard to
// read on dark terminals otherwise.
var legendColors = map[string]lipgloss.Color{
	"red":     lipgloss.Color("203"),
	"green":   lipgloss.Color("49"),
	"yellow":  lipgloss.Color("227"),
	"blue":    lipgloss.Color("69"),
	"magenta": lipgloss.Color("205"),
	"cyan":    lipgloss.Color("86"),
	"white":   lipgloss.Color("252"),
}

func graphColor(name string) asciigraph.AnsiColor {
	if c, ok := graphColors[name]; ok {
		return c
	}
	return asciigraph.Default
}

func legendColor(name string) lipgloss.Color {
	if c, ok := legendColors[name]; ok {
		return c
	}
	return lipgloss.Color("252")
}

// Plot draws the last width samples of every trace on one chart.
func Plot(snap Snapshot, width, height int) string {
	var data [][]float64
	var colors []asciigraph.AnsiColor
	for _, t := range snap.Traces {
		if len(t.Samples) == 0 {
			continue
		}
		data = append(data, tail(t.Samples, width))
		colors = append(colors, graphColor(t.Color))
	}
	if len(data) == 0 {
		return "no signals"
	}
	return asciigraph.PlotMany(data,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.SeriesColors(colors...),
		asciigraph.Caption(caption(snap)))
}

// PlotSpectrum draws a magnitude spectrum.
func PlotSpectrum(mag []float64, binHz float64, width, height int) string {
	if len(mag) == 0 {
		return "no data"
	}
	return asciigraph.Plot(mag,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(fmt.Sprintf("spectrum (%s/bin)", quantity.Format(binHz, quantity.Hertz))))
}

// Legend lists the traces with their colors, marking the selected one.
func Legend(snap Snapshot) string {
	var b strings.Builder
	for _, t := range snap.Traces {
		marker := "  "
		if t.Key == snap.Selected {
			marker = "> "
		}
		st := Measure(t.Samples)
		name := lipgloss.NewStyle().Foreground(legendColor(t.Color)).Bold(t.Key == snap.Selected).Render(string(t.Key))
		fmt.Fprintf(&b, "%s%s  peak %s  rms %s\n", marker, name,
			quantity.Format(st.Peak, quantity.Volts), quantity.Format(st.RMS, quantity.Volts))
	}
	return strings.TrimRight(b.String(), "\n")
}

func caption(snap Snapshot) string {
	if snap.Rate <= 0 {
		return "waiting for audio"
	}
	t := float64(snap.Sample) / snap.Rate
	return fmt.Sprintf("t = %s @ %s", quantity.Format(t, quantity.Seconds), quantity.Format(snap.Rate, quantity.Hertz))
}

func tail(s []float64, n int) []float64 {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
