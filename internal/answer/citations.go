package answer

import (
	"regexp"
	"strconv"
)

// markerPattern matches inline source markers like [S1] or [S12].
var markerPattern = regexp.MustCompile(`\[S(\d+)\]`)

// ExtractCitations returns the 1-based source indexes cited in text,
// deduplicated in first-mention order. Markers outside [1, numSources]
// are ignored: the model cited a source it was never given, and such a
// citation must not be reported as grounding.
func ExtractCitations(text string, numSources int) []int {
	var (
		cited []int
		seen  = make(map[int]bool)
	)
	for _, m := range markerPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > numSources || seen[n] {
			continue
		}
		seen[n] = true
		cited = append(cited, n)
	}
	return cited
}
