package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() Context {
	return Context{
		Author:     "Jane Doe",
		Branch:     "main",
		Hash:       "a1b2c3d4e5f67890a1b2c3d4e5f67890a1b2c3d4",
		Email:      "jane@example.com",
		Message:    "Fix bug\n\nLonger explanation of the fix.",
		Repository: "proj",
		RemoteURL:  "https://example.com/proj.git",
	}
}

func TestRenderSubstitutions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{
			name:     "default template shape",
			template: "[%n|%b|%a] %m",
			want:     "[proj|main|Jane Doe] Fix bug",
		},
		{
			name:     "short hash",
			template: "%c",
			want:     "a1b2c3d",
		},
		{
			name:     "full hash",
			template: "%C",
			want:     "a1b2c3d4e5f67890a1b2c3d4e5f67890a1b2c3d4",
		},
		{
			name:     "author email and url",
			template: "%a <%e> %u",
			want:     "Jane Doe <jane@example.com> https://example.com/proj.git",
		},
		{
			name:     "message renders first line only",
			template: "%m",
			want:     "Fix bug",
		},
		{
			name:     "escaped percent",
			template: "100%% done",
			want:     "100% done",
		},
		{
			name:     "unknown token passes through literally",
			template: "%q foo",
			want:     "%q foo",
		},
		{
			name:     "dangling introducer degrades to literal",
			template: "done %",
			want:     "done %",
		},
		{
			name:     "unterminated color degrades to literal",
			template: "%(green",
			want:     "%(green",
		},
		{
			name:     "leading whitespace is trimmed",
			template: "   %m",
			want:     "Fix bug",
		},
		{
			name:     "significant space keeps exactly one leading space",
			template: "%S  %m",
			want:     " Fix bug",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			lines := Render([]string{tt.template}, testContext())
			require.Len(t, lines, 1)
			assert.Equal(t, tt.want, lines[0].Plain())
		})
	}
}

func TestRenderDefaultTemplate(t *testing.T) {
	t.Parallel()

	lines := Render(nil, testContext())
	require.Len(t, lines, 1)
	assert.Equal(t, "[proj|main|Jane Doe] Fix bug", lines[0].Plain())
}

func TestRenderMultipleLines(t *testing.T) {
	t.Parallel()

	lines := Render([]string{"%n: %m\nby %a", "%c"}, testContext())
	require.Len(t, lines, 3)
	assert.Equal(t, "proj: Fix bug", lines[0].Plain())
	assert.Equal(t, "by Jane Doe", lines[1].Plain())
	assert.Equal(t, "a1b2c3d", lines[2].Plain())
}

func TestRenderSuppressesBlankLines(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		template string
		ctx      Context
	}{
		{name: "empty substitution", template: "%b", ctx: Context{}},
		{name: "whitespace only", template: "   ", ctx: testContext()},
		{name: "styled but empty", template: "%(red)%b%r", ctx: Context{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Empty(t, Render([]string{tt.template}, tt.ctx))
		})
	}
}

func TestRenderStyleSegments(t *testing.T) {
	t.Parallel()

	lines := Render([]string{"%(green,blue)%!%m%r!"}, testContext())
	require.Len(t, lines, 1)

	segs := lines[0].Segments
	require.Len(t, segs, 5)
	assert.Equal(t, Segment{Kind: SegmentStyle, Foreground: "green", Background: "blue"}, segs[0])
	assert.Equal(t, SegmentBoldToggle, segs[1].Kind)
	assert.Equal(t, Segment{Kind: SegmentText, Text: "Fix bug"}, segs[2])
	assert.Equal(t, SegmentReset, segs[3].Kind)
	assert.Equal(t, Segment{Kind: SegmentText, Text: "!"}, segs[4])
}

func TestRenderForegroundOnlyStyle(t *testing.T) {
	t.Parallel()

	lines := Render([]string{"%(red)%m"}, testContext())
	require.Len(t, lines, 1)

	segs := lines[0].Segments
	require.Len(t, segs, 2)
	assert.Equal(t, "red", segs[0].Foreground)
	assert.Empty(t, segs[0].Background)
}

func TestRenderIsDeterministic(t *testing.T) {
	t.Parallel()

	templates := []string{"%(yellow)%n%r [%b] %!%m%! by %a"}
	first := Render(templates, testContext())
	second := Render(templates, testContext())
	assert.Equal(t, first, second)
}

func TestTextLinePlain(t *testing.T) {
	t.Parallel()

	line := TextLine("hello")
	assert.Equal(t, "hello", line.Plain())
}
