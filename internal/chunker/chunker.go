// Package chunker splits document text into overlapping fixed-size windows
// ready for embedding.
package chunker

import (
	"iter"
	"regexp"
	"strings"
)

const (
	// DefaultSize is the window length in characters used when the caller
	// passes a non-positive size.
	DefaultSize = 1000

	// DefaultOverlap is the overlap the ingestion layer uses when none is
	// configured.
	DefaultOverlap = 200
)

// blankRuns matches three or more consecutive line breaks.
var blankRuns = regexp.MustCompile(`\n{3,}`)

// Normalize converts CRLF and CR line endings to LF and collapses runs of
// blank lines down to a single blank line.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return blankRuns.ReplaceAllString(text, "\n\n")
}

// Clamp returns the effective window size and overlap. A non-positive size
// becomes DefaultSize, a negative overlap becomes 0, and an overlap that
// reaches or exceeds the window is clamped to a quarter of it.
func Clamp(size, overlap int) (int, int) {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}
	return size, overlap
}

// Chunk returns a lazy sequence of windows over the normalized text. Windows
// are measured in runes, start at 0 and advance by max(size-overlap, 1).
// The last window may be shorter than size. Empty input yields nothing.
// The sequence holds no state between iterations and may be ranged over
// any number of times.
func Chunk(text string, size, overlap int) iter.Seq[string] {
	size, overlap = Clamp(size, overlap)
	step := max(size-overlap, 1)
	runes := []rune(Normalize(text))

	return func(yield func(string) bool) {
		for start := 0; start < len(runes); start += step {
			end := min(start+size, len(runes))
			if !yield(string(runes[start:end])) {
				return
			}
		}
	}
}

// Chunks collects Chunk into a slice.
func Chunks(text string, size, overlap int) []string {
	var out []string
	for c := range Chunk(text, size, overlap) {
		out = append(out, c)
	}
	return out
}
