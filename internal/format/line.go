package format

import "strings"

// SegmentKind discriminates the segment variants of a rendered line.
type SegmentKind int

const (
	// SegmentText is a run of literal text.
	SegmentText SegmentKind = iota

	// SegmentStyle is an unresolved color directive. The transport decides
	// how (or whether) to encode it.
	SegmentStyle

	// SegmentBoldToggle flips the emphasis state.
	SegmentBoldToggle

	// SegmentReset restores default styling and emphasis.
	SegmentReset
)

// Segment is one element of a rendered line: either literal text or a
// structured style marker carried through to the transport.
type Segment struct {
	Kind SegmentKind

	// Text is set for SegmentText.
	Text string

	// Foreground and Background are set for SegmentStyle. They are the raw
	// color names from the template, not interpreted here.
	Foreground string
	Background string
}

// Line is one rendered output line: literal text interleaved with style
// markers.
type Line struct {
	Segments []Segment
}

// TextLine builds a Line holding only literal text.
func TextLine(text string) Line {
	return Line{Segments: []Segment{{Kind: SegmentText, Text: text}}}
}

// Plain returns the line's literal text with all style markers dropped.
func (l Line) Plain() string {
	var b strings.Builder
	for _, s := range l.Segments {
		if s.Kind == SegmentText {
			b.WriteString(s.Text)
		}
	}
	return b.String()
}
