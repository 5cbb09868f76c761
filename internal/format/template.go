// Package format renders commits into output lines through a small %-token
// template language. Rendering is pure: the same templates and context always
// produce the same lines, and styling stays structured so the transport can
// pick its own wire encoding.
package format

import "strings"

// DefaultTemplate is used when a repository configures no templates.
const DefaultTemplate = "[%n|%b|%a] %m"

// Context carries the substitution values for one commit.
type Context struct {
	Author     string // %a
	Branch     string // %b
	Hash       string // %C, abbreviated for %c
	Email      string // %e
	Message    string // %m renders the first line
	Repository string // %n
	RemoteURL  string // %u
}

// interpreter modes
const (
	modeNormal = iota
	modeSubst
	modeColor
)

// Render renders every template line against ctx. Each template line yields
// zero or one output line; a line whose rendered content trims to nothing is
// suppressed. Templates may themselves contain newlines.
func Render(templates []string, ctx Context) []Line {
	if len(templates) == 0 {
		templates = []string{DefaultTemplate}
	}
	var lines []Line
	for _, tmpl := range templates {
		for _, part := range strings.Split(tmpl, "\n") {
			if line, ok := renderLine(part, ctx); ok {
				lines = append(lines, line)
			}
		}
	}
	return lines
}

// renderLine interprets a single template line. The boolean is false when the
// line is suppressed.
func renderLine(tmpl string, ctx Context) (Line, bool) {
	subst := map[byte]string{
		'a': ctx.Author,
		'b': ctx.Branch,
		'c': shortHash(ctx.Hash),
		'C': ctx.Hash,
		'e': ctx.Email,
		'm': firstLine(ctx.Message),
		'n': ctx.Repository,
		'u': ctx.RemoteURL,
		'S': " ",
		'%': "%",
	}

	var segs []Segment
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			segs = append(segs, Segment{Kind: SegmentText, Text: text.String()})
			text.Reset()
		}
	}

	var color strings.Builder
	mode := modeNormal
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch mode {
		case modeSubst:
			switch {
			case c == '(':
				color.Reset()
				mode = modeColor
			case c == '!':
				flush()
				segs = append(segs, Segment{Kind: SegmentBoldToggle})
				mode = modeNormal
			case c == 'r':
				flush()
				segs = append(segs, Segment{Kind: SegmentReset})
				mode = modeNormal
			default:
				if v, ok := subst[c]; ok {
					text.WriteString(v)
				} else {
					// unknown token, pass through literally
					text.WriteByte('%')
					text.WriteByte(c)
				}
				mode = modeNormal
			}
		case modeColor:
			if c == ')' {
				flush()
				fg, bg, _ := strings.Cut(color.String(), ",")
				segs = append(segs, Segment{Kind: SegmentStyle, Foreground: fg, Background: bg})
				mode = modeNormal
			} else {
				color.WriteByte(c)
			}
		default:
			if c == '%' {
				mode = modeSubst
			} else {
				text.WriteByte(c)
			}
		}
	}

	// a dangling introducer or unterminated color degrades to literal text
	switch mode {
	case modeSubst:
		text.WriteByte('%')
	case modeColor:
		text.WriteString("%(")
		text.WriteString(color.String())
	}
	flush()

	line := trimLeading(Line{Segments: segs}, strings.HasPrefix(tmpl, "%S"))
	if strings.TrimSpace(line.Plain()) == "" {
		return Line{}, false
	}
	return line, true
}

// trimLeading discards leading whitespace from the rendered line. When the
// template line began with %S, exactly one leading space is kept instead.
func trimLeading(l Line, significantSpace bool) Line {
	var out []Segment
	trimming := true
	for _, s := range l.Segments {
		if trimming && s.Kind == SegmentText {
			s.Text = strings.TrimLeft(s.Text, " \t")
			if s.Text == "" {
				continue
			}
			trimming = false
		}
		out = append(out, s)
	}
	if significantSpace {
		out = append([]Segment{{Kind: SegmentText, Text: " "}}, out...)
	}
	return Line{Segments: out}
}

func shortHash(hash string) string {
	if len(hash) <= 7 {
		return hash
	}
	return hash[:7]
}

func firstLine(message string) string {
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		return message[:i]
	}
	return message
}
