// Package detector decides whether a plainly fetched document needs a
// headless render to be archived faithfully.
package detector

import (
	"bytes"
)

const defaultThreshold = 2048

// Heuristic flags documents that look script-driven.
type Heuristic struct {
	// SmallBody is the size under which script-heavy documents are treated
	// as app shells.
	SmallBody int
}

// NewHeuristic creates a detector. A zero threshold uses the default.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Heuristic{SmallBody: threshold}
}

var appShellMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version="),
	[]byte("data-v-app"),
}

// NeedsRender reports whether body should be captured with a browser instead.
func (h *Heuristic) NeedsRender(body []byte) bool {
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	lower := bytes.ToLower(body)
	if len(lower) < h.SmallBody && scriptShare(lower) >= 25 {
		return true
	}
	for _, marker := range appShellMarkers {
		if bytes.Contains(lower, bytes.ToLower(marker)) {
			return true
		}
	}
	return false
}

// scriptShare returns the percentage of doc covered by <script> elements.
// doc must already be lowercased. An unterminated element runs to the end.
func scriptShare(doc []byte) int {
	var (
		open    = []byte("<script")
		closing = []byte("</script>")
		covered int
		pos     int
	)
	for pos < len(doc) {
		start := bytes.Index(doc[pos:], open)
		if start < 0 {
			break
		}
		start += pos
		end := len(doc)
		if rel := bytes.Index(doc[start:], closing); rel >= 0 {
			end = start + rel + len(closing)
		}
		covered += end - start
		pos = end
	}
	if len(doc) == 0 {
		return 0
	}
	return covered * 100 / len(doc)
}
