package chunker

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertCoverage(t *testing.T, doc string, chunks []Chunk) {
	t.Helper()
	require.NotEmpty(t, chunks)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len(doc), chunks[len(chunks)-1].End)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, ChunkID(i), c.ID)
		assert.Equal(t, c.End-c.Start, c.Length)
		assert.Equal(t, doc[c.Start:c.End], c.Content)
		if i > 0 {
			prev := chunks[i-1]
			assert.Greater(t, c.Start, prev.Start, "starts must increase")
			assert.LessOrEqual(t, c.Start, prev.End, "no gap between chunk %d and %d", i-1, i)
		}
	}
}

func TestCharacterTenThousand(t *testing.T) {
	doc := strings.Repeat("x", 10000)
	chunks, err := Split(doc, Options{Size: 4000, Overlap: 200})
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	want := []span{{0, 4000}, {3800, 7800}, {7600, 10000}}
	for i, w := range want {
		assert.Equal(t, w.start, chunks[i].Start, "chunk %d start", i)
		assert.Equal(t, w.end, chunks[i].End, "chunk %d end", i)
	}
	assertCoverage(t, doc, chunks)
}

func TestCharacterOverlapExact(t *testing.T) {
	doc := strings.Repeat("abcdefghij", 537)
	chunks, err := Split(doc, Options{Size: 1000, Overlap: 150})
	require.NoError(t, err)
	assertCoverage(t, doc, chunks)

	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, 150, chunks[i-1].End-chunks[i].Start, "overlap between %d and %d", i-1, i)
	}
}

func TestCharacterAbsorbsShortTail(t *testing.T) {
	// Step 900: next start 900 leaves 200 < 250, so the tail is absorbed.
	doc := strings.Repeat("y", 1100)
	chunks, err := Split(doc, Options{Size: 1000, Overlap: 100})
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 1100, chunks[0].End)
}

func TestSplitIsDeterministic(t *testing.T) {
	doc := strings.Repeat("The quick brown fox.\n\n# Heading\nBody text here.\n", 200)
	for _, strategy := range []Strategy{Character, Line, Semantic} {
		t.Run(strategy.String(), func(t *testing.T) {
			opts := Options{Size: 500, Overlap: 50, Strategy: strategy, OverlapLines: 2}
			a, err := Split(doc, opts)
			require.NoError(t, err)
			b, err := Split(doc, opts)
			require.NoError(t, err)
			assert.Equal(t, a, b)
			assertCoverage(t, doc, a)
		})
	}
}

func TestEmptyDocument(t *testing.T) {
	chunks, err := Split("", DefaultOptions())
	require.NoError(t, err)
	assert.NotNil(t, chunks)
	assert.Empty(t, chunks)
}

func TestInvalidOptions(t *testing.T) {
	tests := []struct {
		name  string
		opts  Options
		field string
	}{
		{"size equals overlap", Options{Size: 200, Overlap: 200}, "size"},
		{"size below overlap", Options{Size: 100, Overlap: 200}, "size"},
		{"zero size", Options{Size: 0}, "size"},
		{"negative overlap", Options{Size: 100, Overlap: -1}, "overlap"},
		{"negative overlap lines", Options{Size: 100, OverlapLines: -1}, "overlap_lines"},
		{"unknown strategy", Options{Size: 100, Strategy: Strategy(9)}, "strategy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Split("some text", tt.opts)
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLineNumbers(t *testing.T) {
	doc := "one\ntwo\nthree\nfour\n"
	chunks, err := Split(doc, Options{Size: 8, Overlap: 0, Strategy: Line})
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	assert.Equal(t, "one\ntwo\n", chunks[0].Content)
	assert.Equal(t, 1, chunks[0].LineStart)
	assert.Equal(t, 2, chunks[0].LineEnd)
	assert.Equal(t, "three\n", chunks[1].Content)
	assert.Equal(t, 3, chunks[1].LineStart)
	assert.Equal(t, 3, chunks[1].LineEnd)
	assert.Equal(t, "four\n", chunks[2].Content)
	assert.Equal(t, 4, chunks[2].LineStart)
}

func TestLineStrategyNeverSplitsLines(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 300; i++ {
		b.WriteString(strings.Repeat("w", 10+i%37))
		b.WriteByte('\n')
	}
	doc := b.String()

	chunks, err := Split(doc, Options{Size: 400, Overlap: 0, Strategy: Line, OverlapLines: 3})
	require.NoError(t, err)
	assertCoverage(t, doc, chunks)

	for _, c := range chunks {
		assert.True(t, c.Start == 0 || doc[c.Start-1] == '\n', "chunk %s starts mid-line", c.ID)
		assert.True(t, c.End == len(doc) || doc[c.End-1] == '\n', "chunk %s ends mid-line", c.ID)
	}
}

func TestLineStrategyOverlapLines(t *testing.T) {
	lines := make([]string, 40)
	for i := range lines {
		lines[i] = "line content"
	}
	doc := strings.Join(lines, "\n") + "\n"

	chunks, err := Split(doc, Options{Size: 130, Overlap: 0, Strategy: Line, OverlapLines: 2})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// Each chunk holds 10 lines of 13 bytes and the next begins 2 lines back.
	assert.Equal(t, 1, chunks[0].LineStart)
	assert.Equal(t, 10, chunks[0].LineEnd)
	assert.Equal(t, 9, chunks[1].LineStart)
}

func TestLineStrategyLongLine(t *testing.T) {
	doc := "short\n" + strings.Repeat("z", 50) + "\nshort\n"
	chunks, err := Split(doc, Options{Size: 20, Overlap: 0, Strategy: Line})
	require.NoError(t, err)
	assertCoverage(t, doc, chunks)
	assert.Equal(t, strings.Repeat("z", 50)+"\n", chunks[1].Content)
}

func TestSemanticPrefersHeadings(t *testing.T) {
	section := func(title string) string {
		return "# " + title + "\n" + strings.Repeat("Sentence in the section body. ", 30) + "\n"
	}
	doc := section("Alpha") + section("Beta") + section("Gamma") + section("Delta")
	secLen := len(section("Alpha"))

	chunks, err := Split(doc, Options{Size: secLen, Overlap: 20, Strategy: Semantic})
	require.NoError(t, err)
	assertCoverage(t, doc, chunks)

	for _, c := range chunks[1:] {
		assert.True(t, strings.HasPrefix(c.Content, "# "), "chunk %s should begin at a heading: %q", c.ID, c.Content[:10])
	}
}

func TestSemanticFallsBackToCharacterCut(t *testing.T) {
	doc := strings.Repeat("a", 3000)
	chunks, err := Split(doc, Options{Size: 1000, Overlap: 100, Strategy: Semantic})
	require.NoError(t, err)
	assertCoverage(t, doc, chunks)

	assert.Equal(t, 1000, chunks[0].End)
	assert.Equal(t, 900, chunks[1].Start)
}

func TestSemanticIgnoresHeadingsInCode(t *testing.T) {
	assert.Empty(t, parseLayout("```\n# not a heading\n```\n").headings)
	assert.Equal(t, []int{0}, parseLayout("# real\ntext\n").headings)
}

func TestSemanticSkipsCodeBlocks(t *testing.T) {
	doc := "intro\n\n```\na\n\nb\n---\n```\nafter\n"

	l := parseLayout(doc)
	assert.Empty(t, l.breaks, "a rule inside a fence is code")
	assert.Equal(t, []int{7}, boundaryCandidates(doc), "only the blank line before the fence")
}

func TestSemanticBreaksAndSetextHeadings(t *testing.T) {
	doc := "Title\n---\nbody\n\n***\nmore\n"

	l := parseLayout(doc)
	assert.Equal(t, []int{0}, l.headings)
	assert.Equal(t, []int{16}, l.breaks, "the setext underline is not a rule")
	assert.Equal(t, []int{16}, boundaryCandidates(doc))
}

func TestCharacterCutsOnRuneBoundaries(t *testing.T) {
	doc := strings.Repeat("日本語", 2000)
	chunks, err := Split(doc, Options{Size: 4000, Overlap: 200})
	require.NoError(t, err)
	assertCoverage(t, doc, chunks)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c.Content), "chunk %s is not valid UTF-8", c.ID)
	}

	tiny, err := Split("日本語", Options{Size: 4, Overlap: 1})
	require.NoError(t, err)
	require.Len(t, tiny, 3)
	assert.Equal(t, []string{"日", "本", "語"}, []string{tiny[0].Content, tiny[1].Content, tiny[2].Content})
}

func TestSemanticFallbackCutsOnRuneBoundaries(t *testing.T) {
	doc := strings.Repeat("é", 3000)
	chunks, err := Split(doc, Options{Size: 1001, Overlap: 101, Strategy: Semantic})
	require.NoError(t, err)
	assertCoverage(t, doc, chunks)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c.Content), "chunk %s is not valid UTF-8", c.ID)
	}
}

func TestThematicBreak(t *testing.T) {
	assert.True(t, isThematicBreak("---\n"))
	assert.True(t, isThematicBreak("* * *"))
	assert.True(t, isThematicBreak("___"))
	assert.False(t, isThematicBreak("--"))
	assert.False(t, isThematicBreak("-- x"))
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("Semantic")
	require.NoError(t, err)
	assert.Equal(t, Semantic, s)

	s, err = ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, Character, s)

	_, err = ParseStrategy("paragraph")
	assert.Error(t, err)
}
