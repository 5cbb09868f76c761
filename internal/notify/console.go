package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/Dozodouzo/gitnotify/internal/format"
)

// consoleTransport writes rendered lines to a writer, one line per
// notification, with the structured style markers encoded as ANSI styling.
type consoleTransport struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleTransport creates a Transport printing to w. It is the default
// transport of the daemon; chat transports plug in through the same
// interface.
func NewConsoleTransport(w io.Writer) Transport {
	return &consoleTransport{w: w}
}

func (t *consoleTransport) Send(_ context.Context, destination string, line format.Line) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := fmt.Fprintf(t.w, "[%s] %s\n", destination, renderANSI(line)); err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}
	return nil
}

// renderANSI walks the line's segments, carrying the styling state across
// text runs the way the template language defines it.
func renderANSI(line format.Line) string {
	style := lipgloss.NewStyle()
	bold := false

	var b strings.Builder
	for _, s := range line.Segments {
		switch s.Kind {
		case format.SegmentText:
			b.WriteString(style.Render(s.Text))
		case format.SegmentStyle:
			if s.Foreground != "" {
				style = style.Foreground(lipgloss.Color(s.Foreground))
			}
			if s.Background != "" {
				style = style.Background(lipgloss.Color(s.Background))
			}
		case format.SegmentBoldToggle:
			bold = !bold
			style = style.Bold(bold)
		case format.SegmentReset:
			bold = false
			style = lipgloss.NewStyle()
		}
	}
	return b.String()
}
