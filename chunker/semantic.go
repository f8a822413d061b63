package chunker

import (
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// tolerance is the fraction of the target size a semantic cut may deviate by.
const tolerance = 0.20

// semanticSpans cuts at the boundary candidate nearest start+size within
// tolerance. Segments without a candidate fall back to a character cut.
func semanticSpans(doc string, size, overlap int) []span {
	candidates := boundaryCandidates(doc)
	slack := int(float64(size) * tolerance)

	var spans []span
	for start := 0; start < len(doc); {
		if len(doc)-start <= size {
			spans = append(spans, span{start, len(doc)})
			break
		}

		target := start + size
		cut, ok := nearestCandidate(candidates, target, max(start+1, target-slack), target+slack)
		next := cut
		if !ok {
			cut = runeBoundary(doc, target, start)
			next = runeBoundary(doc, max(cut-overlap, start+1), start)
		}

		if len(doc)-next < size/4 {
			spans = append(spans, span{start, len(doc)})
			break
		}
		spans = append(spans, span{start, cut})
		start = next
	}
	return spans
}

// nearestCandidate returns the candidate in [lo, hi] closest to target.
func nearestCandidate(candidates []int, target, lo, hi int) (int, bool) {
	i := sort.SearchInts(candidates, lo)
	best, found := 0, false
	for ; i < len(candidates) && candidates[i] <= hi; i++ {
		c := candidates[i]
		if !found || abs(c-target) < abs(best-target) {
			best, found = c, true
		}
	}
	return best, found
}

// boundaryCandidates returns sorted, unique offsets where a section may begin:
// a heading line, a horizontal rule, or the line after a blank line. Nothing
// inside a code block qualifies.
func boundaryCandidates(doc string) []int {
	l := parseLayout(doc)
	seen := make(map[int]bool)
	for _, pos := range l.headings {
		seen[pos] = true
	}
	for _, pos := range l.breaks {
		seen[pos] = true
	}

	starts := lineStarts(doc)
	for i, s := range starts {
		end := len(doc)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		if strings.TrimSpace(doc[s:end]) == "" && end < len(doc) && !l.inCode(end) {
			seen[end] = true
		}
	}

	out := make([]int, 0, len(seen))
	for pos := range seen {
		if pos > 0 && pos < len(doc) {
			out = append(out, pos)
		}
	}
	sort.Ints(out)
	return out
}

// layout holds the block structure the semantic strategy cuts along.
type layout struct {
	headings []int  // line start of each heading
	breaks   []int  // line start of each thematic break
	code     []span // code block contents, from first line start to last line end
}

func (l layout) inCode(pos int) bool {
	for _, c := range l.code {
		if pos >= c.start && pos <= c.end {
			return true
		}
	}
	return false
}

// parseLayout parses doc as markdown. Thematic breaks carry no source
// position, so each is matched to the first rule-shaped line after the
// preceding block.
func parseLayout(doc string) layout {
	source := []byte(doc)
	root := goldmark.New().Parser().Parse(text.NewReader(source))
	starts := lineStarts(doc)

	var l layout
	cursor := 0
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			lines := node.Lines()
			if lines.Len() == 0 {
				return ast.WalkSkipChildren, nil
			}
			first := lineStartOf(source, lines.At(0).Start)
			l.headings = append(l.headings, first)
			after := nextLineStart(starts, lineStartOf(source, lines.At(lines.Len()-1).Start), len(doc))
			if !strings.HasPrefix(strings.TrimLeft(doc[first:], " "), "#") {
				// Setext heading: skip its underline.
				after = nextLineStart(starts, after, len(doc))
			}
			cursor = max(cursor, after)
			return ast.WalkSkipChildren, nil
		case *ast.ThematicBreak:
			for i, s := range starts {
				if s < cursor {
					continue
				}
				end := len(doc)
				if i+1 < len(starts) {
					end = starts[i+1]
				}
				if isThematicBreak(doc[s:end]) {
					l.breaks = append(l.breaks, s)
					cursor = end
					break
				}
			}
			return ast.WalkContinue, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := node.Lines()
			if lines.Len() > 0 {
				last := lines.At(lines.Len() - 1).Stop
				l.code = append(l.code, span{lineStartOf(source, lines.At(0).Start), last})
				cursor = max(cursor, last)
			}
			return ast.WalkSkipChildren, nil
		}
		if n.Type() == ast.TypeBlock {
			if lines := n.Lines(); lines != nil && lines.Len() > 0 {
				cursor = max(cursor, lines.At(lines.Len()-1).Stop)
			}
		}
		return ast.WalkContinue, nil
	})
	return l
}

// nextLineStart returns the first line start after pos, or n when there is none.
func nextLineStart(starts []int, pos, n int) int {
	i := sort.SearchInts(starts, pos+1)
	if i < len(starts) {
		return starts[i]
	}
	return n
}

func lineStartOf(source []byte, pos int) int {
	for pos > 0 && source[pos-1] != '\n' {
		pos--
	}
	return pos
}

// isThematicBreak matches lines of three or more '-', '*', or '_' with optional spaces.
func isThematicBreak(line string) bool {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < 3 {
		return false
	}
	marker := trimmed[0]
	if marker != '-' && marker != '*' && marker != '_' {
		return false
	}
	count := 0
	for i := 0; i < len(trimmed); i++ {
		switch trimmed[i] {
		case marker:
			count++
		case ' ', '\t':
		default:
			return false
		}
	}
	return count >= 3
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
