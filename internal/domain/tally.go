package domain

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
)

// RejectReason names why an input row was dropped.
type RejectReason string

const (
	RejectBadLatitude  RejectReason = "bad_latitude"
	RejectBadLongitude RejectReason = "bad_longitude"
	RejectBadScore     RejectReason = "bad_score"
	RejectBadTimestamp RejectReason = "bad_timestamp"
	RejectMissingMMSI  RejectReason = "missing_mmsi"
)

// Tally counts rejected rows by reason. It is safe to read while the owning
// transformer is running.
type Tally struct {
	mu     sync.Mutex
	counts map[RejectReason]int64
}

// NewTally returns an empty tally.
func NewTally() *Tally {
	return &Tally{counts: make(map[RejectReason]int64)}
}

// Inc adds one rejection for reason.
func (t *Tally) Inc(reason RejectReason) {
	t.mu.Lock()
	t.counts[reason]++
	t.mu.Unlock()
}

// Count returns the number of rejections recorded for reason.
func (t *Tally) Count(reason RejectReason) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[reason]
}

// Total returns the number of rejections across all reasons.
func (t *Tally) Total() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int64
	for _, c := range t.counts {
		n += c
	}
	return n
}

// Snapshot returns a copy of the counts.
func (t *Tally) Snapshot() map[RejectReason]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[RejectReason]int64, len(t.counts))
	for r, c := range t.counts {
		out[r] = c
	}
	return out
}

// String formats the tally as "bad_latitude: 3, bad_score: 1,200", sorted by
// reason. An empty tally renders as "none".
func (t *Tally) String() string {
	snap := t.Snapshot()
	if len(snap) == 0 {
		return "none"
	}

	reasons := make([]string, 0, len(snap))
	for r := range snap {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)

	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = fmt.Sprintf("%s: %s", r, humanize.Comma(snap[RejectReason(r)]))
	}
	return strings.Join(parts, ", ")
}
