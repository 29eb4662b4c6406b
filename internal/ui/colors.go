package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Spotify green for the source, Tidal cyan for the destination.
var styles = NewPalette("#1DB954", "#00FFFF", "#04B575", "#FF4D4D", "#FFA500", "#626262")

// struct Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title  lipgloss.Style
	accent lipgloss.Style
	ok     lipgloss.Style
	err    lipgloss.Style
	warn   lipgloss.Style
	help   lipgloss.Style
}

func NewPalette(t, a, s, e, w, h string) *Palette {
	return &Palette{
		title:  NewBold(t).MarginBottom(1),
		accent: NewBold(a),
		ok:     NewBold(s),
		err:    NewBold(e),
		warn:   NewStyle(w),
		help:   NewEm(h),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

// bar renders a fixed-width text progress bar for step out of total.
func bar(step, total, width int) string {
	if total <= 0 || width <= 0 {
		return ""
	}
	filled := min(step*width/total, width)
	return "[" + styles.accent.Render(strings.Repeat("=", filled)) + strings.Repeat(" ", width-filled) + "]"
}
