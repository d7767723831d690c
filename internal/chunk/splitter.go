package chunk

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// blockKind classifies a structural block of the source document.
type blockKind int

const (
	blockText blockKind = iota
	blockHeading
	blockCode
)

// block is a contiguous span of the document text. Blocks partition the
// document: block[0].start == 0, block[i].start == block[i-1].end, and
// the last block ends at len(content).
type block struct {
	start, end int
	kind       blockKind
	heading    []string
}

// Splitter splits document text into chunks bounded by maxSize bytes
// with a target overlap between consecutive chunks.
type Splitter struct {
	maxSize int
	overlap int
}

// NewSplitter creates a Splitter. overlap must be smaller than maxSize.
func NewSplitter(maxSize, overlap int) (*Splitter, error) {
	if maxSize <= 0 {
		return nil, errors.New("chunk: maxSize must be positive")
	}
	if overlap < 0 || overlap >= maxSize {
		return nil, fmt.Errorf("chunk: overlap must be in [0, maxSize), got %d", overlap)
	}
	return &Splitter{maxSize: maxSize, overlap: overlap}, nil
}

// Split splits a document into an ordered, contiguous, overlapping cover
// of its text. Empty or whitespace-only documents yield zero chunks.
func (s *Splitter) Split(doc Document) []Chunk {
	content := doc.Content
	if strings.TrimSpace(content) == "" {
		return nil
	}

	blocks := s.preSplit(content, parseBlocks(content))
	anchors := anchorOffsets(content, blocks)

	var chunks []Chunk
	start, bi, seq, prevEnd := 0, 0, 0, 0

	for {
		// Advance to the block containing start.
		for bi < len(blocks) && blocks[bi].end <= start {
			bi++
		}
		if bi >= len(blocks) {
			break
		}

		// Extend over whole blocks while within the size budget.
		j := bi
		for j+1 < len(blocks) && blocks[j+1].end-start <= s.maxSize {
			j++
		}
		end := blocks[j].end

		ch := Chunk{
			ID:          chunkID(doc.ID, seq),
			DocumentID:  doc.ID,
			Seq:         seq,
			Text:        content[start:end],
			Start:       start,
			End:         end,
			HeadingPath: blocks[bi].heading,
		}
		if start < prevEnd {
			ch.OverlapPrev = prevEnd - start
		}
		chunks = append(chunks, ch)
		seq++

		if end >= len(content) {
			break
		}
		prevEnd = end

		next := end
		if s.overlap > 0 {
			next = overlapStart(anchors, end, s.overlap)
		}
		if next <= start {
			// Overlap would prevent forward progress; continue without it.
			next = end
		}
		start = next
	}

	return chunks
}

// parseBlocks scans the document into structural blocks: headings,
// fenced code blocks, and paragraphs. Blank-line gaps are folded into
// the following block so the blocks partition the whole text.
func parseBlocks(content string) []block {
	type headingFrame struct {
		level int
		text  string
	}

	var (
		blocks []block
		stack  []headingFrame
	)

	headingPath := func() []string {
		if len(stack) == 0 {
			return nil
		}
		path := make([]string, len(stack))
		for i, f := range stack {
			path[i] = f.text
		}
		return path
	}

	lines := splitLines(content)
	i := 0
	for i < len(lines) {
		ln := lines[i]
		trimmed := strings.TrimSpace(content[ln.start:ln.end])

		switch {
		case trimmed == "":
			i++

		case isFence(trimmed):
			// Fenced code block: scan through the closing fence (or EOF).
			fence := fenceMarker(trimmed)
			j := i + 1
			for j < len(lines) {
				inner := strings.TrimSpace(content[lines[j].start:lines[j].end])
				if strings.HasPrefix(inner, fence) {
					j++
					break
				}
				j++
			}
			blocks = append(blocks, block{start: ln.start, end: lines[j-1].end, kind: blockCode, heading: headingPath()})
			i = j

		case headingLevel(trimmed) > 0:
			level := headingLevel(trimmed)
			text := strings.TrimSpace(trimmed[level:])
			for len(stack) > 0 && stack[len(stack)-1].level >= level {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, headingFrame{level: level, text: text})
			blocks = append(blocks, block{start: ln.start, end: ln.end, kind: blockHeading, heading: headingPath()})
			i++

		default:
			// Paragraph: contiguous non-blank, non-heading, non-fence lines.
			j := i
			for j+1 < len(lines) {
				next := strings.TrimSpace(content[lines[j+1].start:lines[j+1].end])
				if next == "" || isFence(next) || headingLevel(next) > 0 {
					break
				}
				j++
			}
			blocks = append(blocks, block{start: ln.start, end: lines[j].end, kind: blockText, heading: headingPath()})
			i = j + 1
		}
	}

	if len(blocks) == 0 {
		return nil
	}

	// Stitch blocks into a partition of [0, len(content)).
	blocks[0].start = 0
	for i := 1; i < len(blocks); i++ {
		blocks[i].start = blocks[i-1].end
	}
	blocks[len(blocks)-1].end = len(content)
	return blocks
}

// preSplit cuts any block larger than maxSize into pieces at sentence,
// line, or whitespace boundaries so every block fits the size budget.
func (s *Splitter) preSplit(content string, blocks []block) []block {
	out := make([]block, 0, len(blocks))
	for _, b := range blocks {
		if b.end-b.start <= s.maxSize {
			out = append(out, b)
			continue
		}
		pos := b.start
		for b.end-pos > s.maxSize {
			cut := cutPoint(content, pos, pos+s.maxSize, b.kind)
			out = append(out, block{start: pos, end: cut, kind: b.kind, heading: b.heading})
			pos = cut
		}
		out = append(out, block{start: pos, end: b.end, kind: b.kind, heading: b.heading})
	}
	return out
}

// cutPoint finds the best split position in (from, limit]. Code blocks
// are split at line boundaries only; prose prefers sentence ends, then
// lines, then spaces, falling back to a rune-safe hard cut.
func cutPoint(content string, from, limit int, kind blockKind) int {
	window := content[from:limit]

	if kind != blockCode {
		best := -1
		for _, pat := range []string{". ", ".\n", "! ", "!\n", "? ", "?\n"} {
			if i := strings.LastIndex(window, pat); i >= 0 && i+2 > best {
				best = i + 2
			}
		}
		if best > 0 {
			return from + best
		}
	}

	if i := strings.LastIndexByte(window, '\n'); i > 0 {
		return from + i + 1
	}
	if kind != blockCode {
		if i := strings.LastIndexByte(window, ' '); i > 0 {
			return from + i + 1
		}
	}

	// Hard cut at a rune boundary.
	p := limit
	for p > from && !utf8.RuneStart(content[p]) {
		p--
	}
	if p == from {
		p = limit
	}
	return p
}

// anchorOffsets collects candidate chunk-start positions: block starts
// plus sentence and line starts inside prose blocks. Code block
// interiors are excluded so overlap never begins mid-fence.
func anchorOffsets(content string, blocks []block) []int {
	var anchors []int
	for _, b := range blocks {
		anchors = append(anchors, b.start)
		if b.kind == blockCode {
			continue
		}
		for i := b.start; i < b.end-1; i++ {
			switch content[i] {
			case '\n':
				anchors = append(anchors, i+1)
			case '.', '!', '?':
				if content[i+1] == ' ' && i+2 < b.end {
					anchors = append(anchors, i+2)
				}
			}
		}
	}
	sort.Ints(anchors)
	return anchors
}

// overlapStart returns the smallest anchor in [end-overlap, end), which
// maximizes overlap within the configured limit. Returns end when no
// anchor qualifies.
func overlapStart(anchors []int, end, overlap int) int {
	lo := end - overlap
	i := sort.SearchInts(anchors, lo)
	if i < len(anchors) && anchors[i] < end {
		return anchors[i]
	}
	return end
}

// lineSpan is a single line's byte span, excluding the trailing newline.
type lineSpan struct {
	start, end int
}

// splitLines indexes line spans without allocating per-line strings.
func splitLines(content string) []lineSpan {
	var lines []lineSpan
	start := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			lines = append(lines, lineSpan{start: start, end: i})
			start = i + 1
		}
	}
	if start < len(content) {
		lines = append(lines, lineSpan{start: start, end: len(content)})
	}
	return lines
}

// isFence reports whether a trimmed line opens or closes a fenced code block.
func isFence(trimmed string) bool {
	return strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")
}

// fenceMarker returns the fence delimiter so the closing fence matches
// the opening style.
func fenceMarker(trimmed string) string {
	if strings.HasPrefix(trimmed, "~~~") {
		return "~~~"
	}
	return "```"
}

// headingLevel returns the markdown heading level (1-6) of a trimmed
// line, or 0 if the line is not a heading.
func headingLevel(trimmed string) int {
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0
	}
	if level == len(trimmed) || trimmed[level] != ' ' {
		return 0
	}
	return level
}
