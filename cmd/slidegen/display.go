package main

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"slidegen/internal/models"
)

var (
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
)

// painter styles text only when writing to a terminal
type painter struct {
	color bool
}

func newPainter(w io.Writer) painter {
	return painter{color: isTTY(w)}
}

// isTTY reports whether w is connected to a terminal
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p painter) render(style lipgloss.Style, s string) string {
	if !p.color {
		return s
	}
	return style.Render(s)
}

func (p painter) header(s string) string {
	return p.render(headerStyle, s)
}

func (p painter) status(st models.TaskStatus) string {
	switch st {
	case models.TaskSuccess, models.TaskComplete:
		return p.render(doneStyle, string(st))
	case models.TaskFailure:
		return p.render(failedStyle, string(st))
	case models.TaskPending, models.TaskStarted, models.TaskRetry:
		return p.render(runningStyle, string(st))
	}
	return p.render(idleStyle, string(st))
}

// slideState summarizes a local slide the way the backend reports it
func (p painter) slideState(s *models.Slide) string {
	switch {
	case s.IsImageLoading:
		return p.render(runningStyle, "generating")
	case s.ImageError != "":
		return p.render(failedStyle, "failed: "+s.ImageError)
	case s.ImageURL != "":
		return p.render(doneStyle, "done")
	}
	return p.render(idleStyle, "no image")
}
