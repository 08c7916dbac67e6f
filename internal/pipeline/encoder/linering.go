// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package encoder

import (
	"strings"
	"sync"
)

// lineRing keeps the most recent stderr lines of an encoder run so a failure
// can report a bounded diagnostic tail instead of the full stream.
type lineRing struct {
	mu    sync.Mutex
	lines []string
	head  int
	size  int
}

func newLineRing(capacity int) *lineRing {
	if capacity < 1 {
		capacity = 40
	}
	return &lineRing{lines: make([]string, capacity), size: capacity}
}

// Write implements io.Writer. Input is split naively on newlines, which is
// sufficient for line-oriented encoder logs.
func (r *lineRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range strings.Split(string(p), "\n") {
		if line == "" {
			continue
		}
		r.lines[r.head] = line
		r.head = (r.head + 1) % r.size
	}
	return len(p), nil
}

// Tail returns up to n of the newest lines in chronological order.
func (r *lineRing) Tail(n int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ordered := make([]string, 0, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head + i) % r.size
		if r.lines[idx] != "" {
			ordered = append(ordered, r.lines[idx])
		}
	}
	if len(ordered) > n {
		ordered = ordered[len(ordered)-n:]
	}
	return strings.Join(ordered, "\n")
}
