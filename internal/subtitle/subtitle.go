// Package subtitle renders timed transcript segments as SubRip (SRT) text.
package subtitle

import (
	"fmt"
	"math"
	"strings"
)

// Segment is one utterance-level unit of recognized speech.
type Segment struct {
	Start float64 // seconds from media start
	End   float64 // seconds, >= Start
	Text  string
}

// FormatSRT renders segments as a complete SRT document. Entries are
// numbered from 1 in segment order; no reordering, merging, or overlap
// validation is performed. An empty slice yields an empty string.
func FormatSRT(segments []Segment) string {
	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", FormatTimestamp(seg.Start), FormatTimestamp(seg.End))
		b.WriteString(strings.TrimSpace(seg.Text))
		b.WriteString("\n\n")
	}
	return b.String()
}

// FormatTimestamp renders seconds as an SRT timestamp, HH:MM:SS,mmm.
// Milliseconds that round up to a full second carry into the seconds
// field (59.9996 renders as 00:01:00,000).
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
